// Package kernel connects the label distribution engine to the Linux
// routing stack over rtnetlink.
//
// FIB programs the label bindings the engine computes: incoming label map
// (ILM) entries in the MPLS table and labelled FEC-to-NHLFE (FTN) routes in
// the main table. Watcher subscribes to route updates and feeds them to the
// engine as per-nexthop route events.
package kernel
