package commands

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/dantte-lp/goldp/internal/server"
)

// Entries as decoded from structpb: numbers arrive as float64.
var testLIB = server.Entries{
	{
		"type":        "ipv4",
		"fec":         "10.0.0.0/24",
		"local_label": "16",
		"remote": []any{
			map[string]any{"peer_id": float64(1), "router_id": "192.0.2.1", "label": "100", "kind": "prefix", "in_use": true},
			map[string]any{"peer_id": float64(2), "router_id": "192.0.2.2", "label": "imp-null", "kind": "prefix", "in_use": false},
		},
	},
	{
		"type":        "ipv4",
		"fec":         "10.0.1.0/24",
		"local_label": "-",
		"remote":      []any{},
	},
}

func TestFormatLIBTable(t *testing.T) {
	t.Parallel()

	out, err := formatEntries(viewLIB, testLIB, formatTable)
	if err != nil {
		t.Fatalf("formatEntries: %v", err)
	}

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d lines, want 4:\n%s", len(lines), out)
	}
	if !strings.HasPrefix(lines[0], "FEC") {
		t.Errorf("header = %q", lines[0])
	}
	for _, want := range []string{"10.0.0.0/24", "192.0.2.1", "100", "yes"} {
		if !strings.Contains(lines[1], want) {
			t.Errorf("line 1 %q missing %q", lines[1], want)
		}
	}
	if strings.Contains(lines[2], "10.0.0.0/24") {
		t.Errorf("continuation line repeats the FEC: %q", lines[2])
	}
	if !strings.Contains(lines[2], "imp-null") {
		t.Errorf("line 2 %q missing imp-null", lines[2])
	}
	if !strings.Contains(lines[3], "10.0.1.0/24") {
		t.Errorf("line 3 %q missing unbound FEC", lines[3])
	}
}

func TestFormatNeighborTable(t *testing.T) {
	t.Parallel()

	entries := server.Entries{{
		"peer_id":       float64(7),
		"router_id":     "192.0.2.7",
		"ipv4":          true,
		"ipv6":          false,
		"addresses":     []any{"192.0.2.7", "198.51.100.7"},
		"recv_mappings": float64(3),
		"sent_mappings": float64(12),
	}}

	out, err := formatEntries(viewNeighbors, entries, formatTable)
	if err != nil {
		t.Fatalf("formatEntries: %v", err)
	}
	for _, want := range []string{"192.0.2.7,198.51.100.7", "ipv4", " 12 "} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "ipv6") {
		t.Errorf("output lists disabled family:\n%s", out)
	}
}

func TestFormatMP2MPTable(t *testing.T) {
	t.Parallel()

	entries := server.Entries{{
		"fec":         "10.9.0.0/16",
		"local_label": "20",
		"member":      true,
		"mbb":         "none",
		"upstream": []any{
			map[string]any{"router_id": "192.0.2.1", "label": "30"},
		},
		"downstream": []any{},
	}}

	out, err := formatEntries(viewMP2MP, entries, formatTable)
	if err != nil {
		t.Fatalf("formatEntries: %v", err)
	}
	if !strings.Contains(out, "192.0.2.1:30") {
		t.Errorf("output missing upstream binding:\n%s", out)
	}
}

func TestFormatJSON(t *testing.T) {
	t.Parallel()

	out, err := formatEntries(viewLIB, testLIB, formatJSON)
	if err != nil {
		t.Fatalf("formatEntries: %v", err)
	}

	var got []map[string]any
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if len(got) != 2 || got[0]["fec"] != "10.0.0.0/24" {
		t.Errorf("decoded = %v", got)
	}
}

func TestFormatYAML(t *testing.T) {
	t.Parallel()

	out, err := formatEntries(viewLIB, testLIB, formatYAML)
	if err != nil {
		t.Fatalf("formatEntries: %v", err)
	}

	var got []map[string]any
	if err := yaml.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("output is not YAML: %v", err)
	}
	if len(got) != 2 || got[1]["local_label"] != "-" {
		t.Errorf("decoded = %v", got)
	}
}

func TestFormatUnsupported(t *testing.T) {
	t.Parallel()

	_, err := formatEntries(viewLIB, testLIB, "xml")
	if !errors.Is(err, errUnsupportedFormat) {
		t.Errorf("err = %v, want %v", err, errUnsupportedFormat)
	}
}
