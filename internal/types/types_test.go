package types

import (
	"encoding/json"
	"testing"
	"time"
)

func TestJobValidate(t *testing.T) {
	tests := []struct {
		name    string
		job     Job
		wantErr bool
	}{
		{"valid", Job{ID: "security", MaxFiles: 10, Timeout: time.Minute, Priority: P1}, false},
		{"missing id", Job{MaxFiles: 10}, true},
		{"negative max files", Job{ID: "a", MaxFiles: -1}, true},
		{"negative timeout", Job{ID: "a", Timeout: -time.Second}, true},
		{"bad priority", Job{ID: "a", Priority: Priority(7)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.job.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestJobDisplayName(t *testing.T) {
	j := Job{ID: "perf"}
	if got := j.DisplayName(); got != "perf" {
		t.Errorf("expected fallback to ID, got %q", got)
	}
	j.Name = "Performance"
	if got := j.DisplayName(); got != "Performance" {
		t.Errorf("expected name, got %q", got)
	}
}

func TestChunkPosition(t *testing.T) {
	c := Chunk{Sequence: 2, Total: 3}
	if !c.IsFinal() {
		t.Error("expected chunk 3/3 to be final")
	}
	if c.Label() != "3/3" {
		t.Errorf("unexpected label %q", c.Label())
	}
	c.Sequence = 0
	if c.IsFinal() {
		t.Error("expected chunk 1/3 not to be final")
	}
}

func TestJobStatusCompleted(t *testing.T) {
	if !StatusSuccess.Completed() || !StatusPartial.Completed() {
		t.Error("success and partial should count as completed")
	}
	if StatusFailed.Completed() {
		t.Error("failed should not count as completed")
	}
	if JobStatus("running").IsValid() {
		t.Error("unexpected valid status")
	}
}

func TestParsePriority(t *testing.T) {
	tests := []struct {
		in   string
		want Priority
		err  bool
	}{
		{"p0", P0, false},
		{"P0", P0, false},
		{"critical", P0, false},
		{"High", P0, false},
		{"p1", P1, false},
		{"medium", P1, false},
		{"p2", P2, false},
		{" low ", P2, false},
		{"urgent", DefaultPriority, true},
	}
	for _, tt := range tests {
		got, err := ParsePriority(tt.in)
		if (err != nil) != tt.err {
			t.Errorf("ParsePriority(%q) error = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParsePriority(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestPriorityJSON(t *testing.T) {
	data, err := json.Marshal(Finding{ID: "x", Priority: P2})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["priority"] != "p2" {
		t.Errorf("expected priority to serialize as p2, got %v", decoded["priority"])
	}
}

func TestFindingMissingFields(t *testing.T) {
	f := Finding{ID: "a-1", Title: "t", File: "main.go", Description: "  "}
	missing := f.MissingFields()
	if len(missing) != 2 || missing[0] != "description" || missing[1] != "remediation" {
		t.Errorf("unexpected missing fields: %v", missing)
	}
}

func TestFindingLocation(t *testing.T) {
	f := Finding{File: "a.go"}
	if f.Location() != "a.go" {
		t.Errorf("got %q", f.Location())
	}
	f.Line = 12
	if f.Location() != "a.go:12" {
		t.Errorf("got %q", f.Location())
	}
}

func TestFingerprintStable(t *testing.T) {
	a := Finding{File: "db.go", Line: 42, Type: "sql-injection", Snippet: "query :=  \"SELECT\"\n\t+ id"}
	b := a
	b.Snippet = "query := \"SELECT\" + id"
	b.Title = "different title"

	fa := a.Fingerprint("security")
	if len(fa) != 12 {
		t.Fatalf("expected 12 chars, got %d", len(fa))
	}
	if fa != b.Fingerprint("security") {
		t.Error("whitespace and title changes should not alter the fingerprint")
	}
	if fa == a.Fingerprint("perf") {
		t.Error("different job should produce a different fingerprint")
	}
}

func TestCountByPriority(t *testing.T) {
	r := JobResult{Findings: []Finding{{Priority: P0}, {Priority: P1}, {Priority: P1}}}
	counts := r.CountByPriority()
	if counts[P0] != 1 || counts[P1] != 2 || counts[P2] != 0 {
		t.Errorf("unexpected counts: %v", counts)
	}
}
