package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Priority ranks findings. Lower values are more urgent.
type Priority int

const (
	P0 Priority = iota // Critical
	P1                 // High (default)
	P2                 // Medium
)

// DefaultPriority is used when neither the finding nor the job names one.
const DefaultPriority = P1

// AllPriorities lists priorities from most to least urgent.
var AllPriorities = []Priority{P0, P1, P2}

// IsValid checks if the priority value is valid
func (p Priority) IsValid() bool {
	return p >= P0 && p <= P2
}

func (p Priority) String() string {
	switch p {
	case P0:
		return "p0"
	case P1:
		return "p1"
	case P2:
		return "p2"
	default:
		return fmt.Sprintf("p%d", int(p))
	}
}

// Label returns a human-readable severity name.
func (p Priority) Label() string {
	switch p {
	case P0:
		return "Critical"
	case P1:
		return "High"
	case P2:
		return "Medium"
	default:
		return "Unknown"
	}
}

// ParsePriority accepts p0/p1/p2 and the severity words reviewers tend to use.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "p0", "critical", "high", "0":
		return P0, nil
	case "p1", "medium", "1":
		return P1, nil
	case "p2", "low", "2":
		return P2, nil
	}
	return DefaultPriority, fmt.Errorf("unknown priority: %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Priority) UnmarshalText(text []byte) error {
	parsed, err := ParsePriority(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Finding is one structured issue record extracted from a job's output.
type Finding struct {
	ID                 string   `json:"id"`
	Type               string   `json:"type,omitempty"`
	Title              string   `json:"title"`
	Priority           Priority `json:"priority"`
	File               string   `json:"file"`
	Line               int      `json:"line,omitempty"` // 0 means no specific line
	Snippet            string   `json:"snippet,omitempty"`
	Description        string   `json:"description"`
	Remediation        string   `json:"remediation"`
	AcceptanceCriteria []string `json:"acceptance_criteria,omitempty"`
	References         []string `json:"references,omitempty"`
}

// RequiredFields lists the fields every finding must carry.
var RequiredFields = []string{"id", "title", "file", "description", "remediation"}

// MissingFields returns the required fields that are empty.
func (f *Finding) MissingFields() []string {
	var missing []string
	values := map[string]string{
		"id":          f.ID,
		"title":       f.Title,
		"file":        f.File,
		"description": f.Description,
		"remediation": f.Remediation,
	}
	for _, name := range RequiredFields {
		if strings.TrimSpace(values[name]) == "" {
			missing = append(missing, name)
		}
	}
	return missing
}

// Location renders file[:line].
func (f *Finding) Location() string {
	if f.Line > 0 {
		return fmt.Sprintf("%s:%d", f.File, f.Line)
	}
	return f.File
}

// NormalizedSnippet collapses whitespace so fingerprints survive reformatting.
func (f *Finding) NormalizedSnippet() string {
	return strings.Join(strings.Fields(f.Snippet), " ")
}

// Fingerprint returns a stable 12-character identifier for deduplication by
// downstream ticket tooling: job | file | line | type | normalized snippet.
func (f *Finding) Fingerprint(jobID string) string {
	input := fmt.Sprintf("%s|%s|%d|%s|%s", jobID, f.File, f.Line, f.Type, f.NormalizedSnippet())
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])[:12]
}
