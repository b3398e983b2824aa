package lde

import "log/slog"

// GarbageCollect removes every FEC node without nexthops, received
// mappings and sent mappings, releasing its label and extension block. It
// returns the number of nodes removed.
func (e *Engine) GarbageCollect() int {
	var dead []*FECNode
	e.fecs.Ascend(func(n *FECNode) bool {
		if n.reclaimable() {
			dead = append(dead, n)
		}
		return true
	})

	count := 0
	for _, n := range dead {
		if err := e.fecs.Remove(n.FEC); err != nil {
			continue
		}
		e.destroyNode(n)
		count++
	}

	if count > 0 {
		e.logger.Debug("lib entries removed", slog.Int("count", count))
		e.metrics.AddGCReclaimed(count)
	}
	return count
}
