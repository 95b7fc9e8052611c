// Package parser extracts structured findings from noisy reviewer output.
//
// Parse never fails: malformed input yields an empty list plus warnings, or
// the NoStructuredOutput signal when nothing JSON-like can be located.
package parser

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/steveyegge/polyrev/internal/types"
	"github.com/tidwall/gjson"
)

// Pre-compiled regular expressions.
var (
	// Matches ```json\n...\n```, ```\n...\n```, ``` json{...}```
	fencedBlockRegex = regexp.MustCompile("(?s)```(?:json|javascript|js|JSON)?[ \t]*\n?(.*?)\n?```")

	trailingCommaRegex     = regexp.MustCompile(`,(\s*[}\]])`)
	unquotedKeyRegex       = regexp.MustCompile(`([{,]\s*)([a-zA-Z_$][a-zA-Z0-9_$]*)\s*:`)
	singleLineCommentRegex = regexp.MustCompile(`(?m)^\s*//.*$`)
	multiLineCommentRegex  = regexp.MustCompile(`(?s)/\*.*?\*/`)
)

// DefaultMaxInputSize bounds the text the parser will scan (10MB).
const DefaultMaxInputSize = 10 * 1024 * 1024

// Source records which strategy produced the findings.
type Source string

const (
	SourceNone     Source = ""
	SourceFence    Source = "fenced_block"
	SourceSpan     Source = "balanced_span"
	SourceMarkdown Source = "markdown_table"
)

// Options configures a parse.
type Options struct {
	JobID           string         // Used for warnings and synthesized markdown IDs
	DefaultPriority types.Priority // Applied to records without a priority
	MaxInputSize    int            // 0 = DefaultMaxInputSize
	DisableMarkdown bool           // Skip the markdown table fallback
}

// Warning describes a record the parser dropped or adjusted.
type Warning struct {
	Index    int    // Position in the candidate list, -1 for whole-output warnings
	RecordID string // May be empty
	Message  string
}

func (w Warning) String() string {
	switch {
	case w.Index < 0:
		return w.Message
	case w.RecordID != "":
		return fmt.Sprintf("record %d (%s): %s", w.Index, w.RecordID, w.Message)
	default:
		return fmt.Sprintf("record %d: %s", w.Index, w.Message)
	}
}

// Result is the outcome of a parse.
type Result struct {
	Findings           []types.Finding
	Warnings           []Warning
	Dropped            int  // Candidate records rejected by validation
	NoStructuredOutput bool // No JSON array, object, or table was found
	Source             Source
}

// WarningStrings renders the warnings for attachment to a job result.
func (r *Result) WarningStrings() []string {
	out := make([]string, 0, len(r.Warnings))
	for _, w := range r.Warnings {
		out = append(out, w.String())
	}
	return out
}

// Parse extracts a validated finding list from raw provider output.
//
// Strategy sequence:
//  1. Unwrap a CLI JSON envelope ({"result": "..."}) if present
//  2. Parse fenced code blocks, raw then cleaned
//  3. Scan for the first balanced array/object span that decodes to records
//  4. Fall back to a markdown findings table
func Parse(raw string, opts Options) *Result {
	if opts.MaxInputSize == 0 {
		opts.MaxInputSize = DefaultMaxInputSize
	}
	if !opts.DefaultPriority.IsValid() {
		opts.DefaultPriority = types.DefaultPriority
	}

	result := &Result{}
	if len(raw) > opts.MaxInputSize {
		result.NoStructuredOutput = true
		result.Warnings = append(result.Warnings, Warning{
			Index:   -1,
			Message: fmt.Sprintf("output exceeds size limit (%d > %d bytes)", len(raw), opts.MaxInputSize),
		})
		return result
	}

	text := unwrapEnvelope(strings.TrimSpace(raw))
	if text == "" {
		result.NoStructuredOutput = true
		return result
	}

	if records, ok := fromFencedBlocks(text); ok {
		result.Source = SourceFence
		validate(records, opts, result)
		return result
	}

	if records, ok := fromBalancedSpans(text); ok {
		result.Source = SourceSpan
		validate(records, opts, result)
		return result
	}

	if !opts.DisableMarkdown {
		if findings := parseMarkdownTable(text, opts); len(findings) > 0 {
			result.Source = SourceMarkdown
			result.Findings = findings
			return result
		}
	}

	slog.Debug("No structured output found",
		"job", opts.JobID,
		"textPreview", truncate(text, 100))
	result.NoStructuredOutput = true
	return result
}

// ContainsFindings reports whether text holds at least one well-formed
// finding in JSON form. Used to flag intermediate chunk output.
func ContainsFindings(raw string, jobID string) bool {
	r := Parse(raw, Options{JobID: jobID, DisableMarkdown: true})
	return len(r.Findings) > 0
}

// unwrapEnvelope returns the "result" string of a CLI JSON envelope, or text
// unchanged when it is not one.
func unwrapEnvelope(text string) string {
	if !strings.HasPrefix(text, "{") || !gjson.Valid(text) {
		return text
	}
	inner := gjson.Get(text, "result")
	if inner.Type != gjson.String {
		return text
	}
	return strings.TrimSpace(inner.String())
}

func fromFencedBlocks(text string) ([]gjson.Result, bool) {
	for _, m := range fencedBlockRegex.FindAllStringSubmatch(text, -1) {
		body := strings.TrimSpace(m[1])
		if body == "" {
			continue
		}
		if records, ok := decodeRecords(body); ok {
			return records, true
		}
		if records, ok := decodeRecords(cleanupJSON(body)); ok {
			return records, true
		}
	}
	return nil, false
}

// fromBalancedSpans walks top-level bracket spans left to right. Text nested
// inside a span is never searched on its own, and an opener that is still
// open at the end of the text stops the scan, so truncated output yields
// nothing. Each byte is visited at most twice.
func fromBalancedSpans(text string) ([]gjson.Result, bool) {
	start := 0
	for start < len(text) {
		if text[start] != '[' && text[start] != '{' {
			start++
			continue
		}
		end, ok := spanEnd(text, start)
		if !ok {
			if end >= len(text) {
				return nil, false
			}
			// Mismatched closer; resume after it.
			start = end + 1
			continue
		}
		if records, ok := decodeRecords(text[start : end+1]); ok {
			return records, true
		}
		start = end + 1
	}
	return nil, false
}

// spanEnd returns the index of the bracket closing the one at start. A
// mismatched closer returns its index and false; an unterminated span
// returns len(text) and false. Brackets inside string literals are ignored.
func spanEnd(text string, start int) (int, bool) {
	var stack []byte
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[', '{':
			stack = append(stack, c)
		case ']', '}':
			open := stack[len(stack)-1]
			if (c == ']' && open != '[') || (c == '}' && open != '{') {
				return i, false
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i, true
			}
		}
	}
	return len(text), false
}

// decodeRecords turns a JSON document into candidate records. Arrays must
// contain only objects. A {"findings": [...]} wrapper is unwrapped; any
// other object is a single record.
func decodeRecords(doc string) ([]gjson.Result, bool) {
	if !gjson.Valid(doc) {
		return nil, false
	}
	parsed := gjson.Parse(doc)
	switch {
	case parsed.IsArray():
		return objectElements(parsed)
	case parsed.IsObject():
		if wrapped := parsed.Get("findings"); wrapped.IsArray() {
			return objectElements(wrapped)
		}
		return []gjson.Result{parsed}, true
	}
	return nil, false
}

func objectElements(arr gjson.Result) ([]gjson.Result, bool) {
	elems := arr.Array()
	for _, e := range elems {
		if !e.IsObject() {
			return nil, false
		}
	}
	return elems, true
}

// cleanupJSON fixes common formatting issues in model-written JSON:
// trailing commas, unquoted keys, and comments.
func cleanupJSON(text string) string {
	cleaned := strings.TrimSpace(text)
	cleaned = multiLineCommentRegex.ReplaceAllString(cleaned, "")
	cleaned = singleLineCommentRegex.ReplaceAllString(cleaned, "")
	cleaned = trailingCommaRegex.ReplaceAllString(cleaned, "$1")
	cleaned = unquotedKeyRegex.ReplaceAllString(cleaned, `$1"$2":`)
	return strings.TrimSpace(cleaned)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
