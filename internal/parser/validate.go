package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/steveyegge/polyrev/internal/types"
	"github.com/tidwall/gjson"
)

// validate converts candidate records into findings. Invalid records are
// dropped with a warning; they never invalidate the batch.
func validate(records []gjson.Result, opts Options, result *Result) {
	seen := make(map[string]int, len(records))
	for i, rec := range records {
		f, warnings, ok := toFinding(rec, i, opts)
		result.Warnings = append(result.Warnings, warnings...)
		if !ok {
			result.Dropped++
			continue
		}
		if first, dup := seen[f.ID]; dup {
			result.Warnings = append(result.Warnings, Warning{
				Index:    i,
				RecordID: f.ID,
				Message:  fmt.Sprintf("duplicate id (first seen at record %d), dropped", first),
			})
			result.Dropped++
			continue
		}
		seen[f.ID] = i
		result.Findings = append(result.Findings, f)
	}
}

func toFinding(rec gjson.Result, index int, opts Options) (types.Finding, []Warning, bool) {
	var warnings []Warning
	f := types.Finding{
		ID:          str(rec, "id"),
		Type:        str(rec, "type", "finding_type", "category"),
		Title:       str(rec, "title"),
		File:        str(rec, "file", "path"),
		Snippet:     rec.Get("snippet").String(),
		Description: str(rec, "description"),
		Remediation: str(rec, "remediation", "recommendation"),
		Priority:    opts.DefaultPriority,
	}

	if missing := f.MissingFields(); len(missing) > 0 {
		warnings = append(warnings, Warning{
			Index:    index,
			RecordID: f.ID,
			Message:  "missing required field(s): " + strings.Join(missing, ", "),
		})
		return f, warnings, false
	}

	if p := first(rec, "priority", "severity"); p.Exists() && p.String() != "" {
		parsed, err := types.ParsePriority(p.String())
		if err != nil {
			warnings = append(warnings, Warning{
				Index:    index,
				RecordID: f.ID,
				Message:  fmt.Sprintf("unrecognized priority %q, using %s", p.String(), opts.DefaultPriority),
			})
		} else {
			f.Priority = parsed
		}
	}

	if line := rec.Get("line"); line.Exists() {
		n, ok := lineNumber(line)
		if !ok {
			warnings = append(warnings, Warning{
				Index:    index,
				RecordID: f.ID,
				Message:  fmt.Sprintf("invalid line %q, ignored", line.Raw),
			})
		}
		f.Line = n
	}

	f.AcceptanceCriteria = stringList(rec.Get("acceptance_criteria"))
	f.References = stringList(rec.Get("references"))
	return f, warnings, true
}

// str returns the first non-empty string among the given keys, trimmed.
func str(rec gjson.Result, keys ...string) string {
	return strings.TrimSpace(first(rec, keys...).String())
}

func first(rec gjson.Result, keys ...string) gjson.Result {
	for _, k := range keys {
		if v := rec.Get(k); v.Exists() && v.String() != "" {
			return v
		}
	}
	return gjson.Result{}
}

func lineNumber(v gjson.Result) (int, bool) {
	switch v.Type {
	case gjson.Number:
		if n := v.Int(); n >= 0 {
			return int(n), true
		}
	case gjson.String:
		s := strings.TrimSpace(v.String())
		if s == "" {
			return 0, true
		}
		// "42-48" ranges keep the first line
		if i := strings.IndexAny(s, "-:,"); i > 0 {
			s = s[:i]
		}
		if n, err := strconv.Atoi(s); err == nil && n >= 0 {
			return n, true
		}
	case gjson.Null:
		return 0, true
	}
	return 0, false
}

// stringList accepts an array of strings or a single string.
func stringList(v gjson.Result) []string {
	if !v.Exists() {
		return nil
	}
	if !v.IsArray() {
		if s := strings.TrimSpace(v.String()); s != "" {
			return []string{s}
		}
		return nil
	}
	var out []string
	for _, e := range v.Array() {
		if s := strings.TrimSpace(e.String()); s != "" {
			out = append(out, s)
		}
	}
	return out
}
