// Package commands implements the goldpctl CLI commands.
package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"github.com/dantte-lp/goldp/internal/server"
)

const (
	formatJSON  = "json"
	formatYAML  = "yaml"
	formatTable = "table"
	valueNone   = "-"
)

// errUnsupportedFormat is returned when the requested output format is not supported.
var errUnsupportedFormat = errors.New("unsupported output format")

// view names a dump and its table renderer.
type view int

const (
	viewLIB view = iota
	viewLSP
	viewMP2MP
	viewNeighbors
	viewMessages
)

// formatEntries renders a dump in the requested format.
func formatEntries(v view, entries server.Entries, format string) (string, error) {
	switch format {
	case formatJSON:
		data, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshal entries to JSON: %w", err)
		}
		return string(data) + "\n", nil
	case formatYAML:
		data, err := yaml.Marshal(entries)
		if err != nil {
			return "", fmt.Errorf("marshal entries to YAML: %w", err)
		}
		return string(data), nil
	case formatTable:
		return formatTableView(v, entries)
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

// --- Table formatters ---

func formatTableView(v view, entries server.Entries) (string, error) {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	switch v {
	case viewLIB:
		writeLIBTable(w, entries)
	case viewLSP:
		writeLSPTable(w, entries)
	case viewMP2MP:
		writeMP2MPTable(w, entries)
	case viewNeighbors:
		writeNeighborTable(w, entries)
	case viewMessages:
		writeMessageTable(w, entries)
	}

	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("flush tabwriter: %w", err)
	}

	return buf.String(), nil
}

func writeLIBTable(w *tabwriter.Writer, entries server.Entries) {
	fmt.Fprintln(w, "FEC\tLOCAL\tPEER\tREMOTE\tKIND\tIN-USE")

	for _, e := range entries {
		remote := objects(e, "remote")
		if len(remote) == 0 {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				str(e, "fec"), str(e, "local_label"), valueNone, valueNone, valueNone, valueNone)
			continue
		}
		for i, r := range remote {
			fec, local := str(e, "fec"), str(e, "local_label")
			if i > 0 {
				fec, local = "", ""
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				fec, local, str(r, "router_id"), str(r, "label"), str(r, "kind"), yesNo(r, "in_use"))
		}
	}
}

func writeLSPTable(w *tabwriter.Writer, entries server.Entries) {
	fmt.Fprintln(w, "FEC\tLOCAL\tNEXTHOP\tPRIORITY\tREMOTE")

	for _, e := range entries {
		nexthops := objects(e, "nexthops")
		if len(nexthops) == 0 {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				str(e, "fec"), str(e, "local_label"), valueNone, valueNone, valueNone)
			continue
		}
		for i, nh := range nexthops {
			fec, local := str(e, "fec"), str(e, "local_label")
			if i > 0 {
				fec, local = "", ""
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				fec, local, str(nh, "nexthop"), num(nh, "priority"), str(nh, "remote_label"))
		}
	}
}

func writeMP2MPTable(w *tabwriter.Writer, entries server.Entries) {
	fmt.Fprintln(w, "FEC\tLOCAL\tMEMBER\tMBB\tUPSTREAM\tDOWNSTREAM")

	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			str(e, "fec"),
			str(e, "local_label"),
			yesNo(e, "member"),
			str(e, "mbb"),
			bindings(objects(e, "upstream")),
			bindings(objects(e, "downstream")),
		)
	}
}

func writeNeighborTable(w *tabwriter.Writer, entries server.Entries) {
	fmt.Fprintln(w, "PEER-ID\tROUTER-ID\tAF\tADDRESSES\tRECV-MAP\tSENT-MAP\tRECV-REQ\tSENT-REQ\tSENT-WDR")

	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			num(e, "peer_id"),
			str(e, "router_id"),
			families(e),
			strings.Join(strs(e, "addresses"), ","),
			num(e, "recv_mappings"),
			num(e, "sent_mappings"),
			num(e, "recv_requests"),
			num(e, "sent_requests"),
			num(e, "sent_withdraws"),
		)
	}
}

func writeMessageTable(w *tabwriter.Writer, entries server.Entries) {
	fmt.Fprintln(w, "TIME\tPEER-ID\tOP\tFEC\tLABEL\tSTATUS")

	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			str(e, "time"),
			num(e, "peer_id"),
			str(e, "op"),
			str(e, "fec"),
			str(e, "label"),
			str(e, "status"),
		)
	}
}

// --- Field helpers ---
//
// Decoded structpb values are string, float64, bool, []any or map[string]any.

func str(m map[string]any, key string) string {
	if s, ok := m[key].(string); ok && s != "" {
		return s
	}
	return valueNone
}

func num(m map[string]any, key string) string {
	f, ok := m[key].(float64)
	if !ok {
		return valueNone
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func yesNo(m map[string]any, key string) string {
	if b, ok := m[key].(bool); ok && b {
		return "yes"
	}
	return "no"
}

func objects(m map[string]any, key string) []map[string]any {
	list, _ := m[key].([]any)
	out := make([]map[string]any, 0, len(list))
	for _, v := range list {
		if o, ok := v.(map[string]any); ok {
			out = append(out, o)
		}
	}
	return out
}

func strs(m map[string]any, key string) []string {
	list, _ := m[key].([]any)
	out := make([]string, 0, len(list))
	for _, v := range list {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func bindings(bs []map[string]any) string {
	if len(bs) == 0 {
		return valueNone
	}
	parts := make([]string, 0, len(bs))
	for _, b := range bs {
		parts = append(parts, str(b, "router_id")+":"+str(b, "label"))
	}
	return strings.Join(parts, ",")
}

func families(m map[string]any) string {
	var afs []string
	if yesNo(m, "ipv4") == "yes" {
		afs = append(afs, "ipv4")
	}
	if yesNo(m, "ipv6") == "yes" {
		afs = append(afs, "ipv6")
	}
	if len(afs) == 0 {
		return valueNone
	}
	return strings.Join(afs, ",")
}
