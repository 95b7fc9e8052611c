package parser

import (
	"strings"
	"testing"
	"time"

	"github.com/steveyegge/polyrev/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validRecord = `{"id":"A-1","title":"t","file":"f","description":"d","remediation":"r"}`

func TestParse_FencedBlockInProse(t *testing.T) {
	raw := "Here are the results:\n```json\n[" + validRecord + "]\n```\nThanks!"

	result := Parse(raw, Options{JobID: "security"})

	require.Len(t, result.Findings, 1)
	assert.Equal(t, "A-1", result.Findings[0].ID)
	assert.Equal(t, SourceFence, result.Source)
	assert.False(t, result.NoStructuredOutput)
	assert.Empty(t, result.Warnings)
}

func TestParse_PartialSurvival(t *testing.T) {
	raw := `[` + validRecord + `, {"id":"A-2","title":"t","file":"f","description":"d"}]`

	result := Parse(raw, Options{})

	require.Len(t, result.Findings, 1)
	assert.Equal(t, "A-1", result.Findings[0].ID)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0].String(), "remediation")
	assert.Equal(t, 1, result.Dropped)
}

func TestParse_NoStructure(t *testing.T) {
	inputs := []string{
		"",
		"   ",
		"I reviewed the files and found nothing worth reporting.",
		"Some text with (parentheses) and no brackets",
	}
	for _, in := range inputs {
		result := Parse(in, Options{})
		assert.Empty(t, result.Findings, "input %q", in)
		assert.True(t, result.NoStructuredOutput, "input %q", in)
	}
}

func TestParse_TruncatedJSON(t *testing.T) {
	raw := `Results: [{"id":"A-1","title":"t","file":"f","description":"d","remediation":"r"`

	result := Parse(raw, Options{})

	assert.Empty(t, result.Findings)
	assert.True(t, result.NoStructuredOutput)
}

func TestParse_TruncatedAfterCompleteElement(t *testing.T) {
	raw := `Results: [` + validRecord + `, {"id":"A-2","title":"t2","fi`

	result := Parse(raw, Options{DisableMarkdown: true})

	assert.Empty(t, result.Findings, "elements of an unterminated array are not returned")
	assert.True(t, result.NoStructuredOutput)
	assert.Equal(t, SourceNone, result.Source)
}

func TestParse_FirstValidArrayWins(t *testing.T) {
	raw := `Step list: [1, 2, 3]. Findings: [` + validRecord + `] and later [` +
		`{"id":"B-1","title":"t","file":"f","description":"d","remediation":"r"}]`

	result := Parse(raw, Options{})

	require.Len(t, result.Findings, 1)
	assert.Equal(t, "A-1", result.Findings[0].ID)
	assert.Equal(t, SourceSpan, result.Source)
}

func TestParse_BracketsInsideStrings(t *testing.T) {
	raw := `Output: [{"id":"A-1","title":"Index [0] out of range","file":"f",` +
		`"description":"use } carefully","remediation":"check \"len\" first"}] done`

	result := Parse(raw, Options{})

	require.Len(t, result.Findings, 1)
	assert.Equal(t, "Index [0] out of range", result.Findings[0].Title)
	assert.Equal(t, `check "len" first`, result.Findings[0].Remediation)
}

func TestParse_SingleObjectIsOneRecord(t *testing.T) {
	result := Parse("Found one: "+validRecord, Options{})

	require.Len(t, result.Findings, 1)
	assert.Equal(t, "A-1", result.Findings[0].ID)
}

func TestParse_FindingsWrapper(t *testing.T) {
	raw := `{"findings": [` + validRecord + `], "summary": "one issue"}`

	result := Parse(raw, Options{})

	require.Len(t, result.Findings, 1)
}

func TestParse_EmptyArrayIsNotMissingOutput(t *testing.T) {
	result := Parse("```json\n[]\n```", Options{})

	assert.Empty(t, result.Findings)
	assert.False(t, result.NoStructuredOutput)
}

func TestParse_ClaudeEnvelope(t *testing.T) {
	raw := `{"type":"result","result":"{\"findings\": [{\"id\": \"T1\", \"title\": \"Test\", \"priority\": \"p0\", ` +
		`\"file\": \"a.py\", \"line\": 1, \"description\": \"d\", \"remediation\": \"r\"}]}","session_id":"abc"}`

	result := Parse(raw, Options{})

	require.Len(t, result.Findings, 1)
	assert.Equal(t, "T1", result.Findings[0].ID)
	assert.Equal(t, types.P0, result.Findings[0].Priority)
	assert.Equal(t, 1, result.Findings[0].Line)
}

func TestParse_CleanupInsideFence(t *testing.T) {
	raw := "```json\n[\n  // first issue\n  {id: \"A-1\", title: \"t\", file: \"f\", description: \"d\", remediation: \"r\",},\n]\n```"

	result := Parse(raw, Options{})

	require.Len(t, result.Findings, 1)
	assert.Equal(t, "A-1", result.Findings[0].ID)
}

func TestParse_DefaultsAndAliases(t *testing.T) {
	raw := `[{"id":"A-1","type":"sql-injection","title":"t","file":"db.go","line":"42-48",` +
		`"description":"d","recommendation":"use params","acceptance_criteria":"query is parameterized",` +
		`"references":["CWE-89"]}]`

	result := Parse(raw, Options{DefaultPriority: types.P2})

	require.Len(t, result.Findings, 1)
	f := result.Findings[0]
	assert.Equal(t, types.P2, f.Priority)
	assert.Equal(t, "use params", f.Remediation)
	assert.Equal(t, "sql-injection", f.Type)
	assert.Equal(t, 42, f.Line)
	assert.Equal(t, []string{"query is parameterized"}, f.AcceptanceCriteria)
	assert.Equal(t, []string{"CWE-89"}, f.References)
}

func TestParse_UnknownPriorityWarns(t *testing.T) {
	raw := `[{"id":"A-1","title":"t","file":"f","description":"d","remediation":"r","priority":"urgent"}]`

	result := Parse(raw, Options{DefaultPriority: types.P1})

	require.Len(t, result.Findings, 1)
	assert.Equal(t, types.P1, result.Findings[0].Priority)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0].Message, "urgent")
	assert.Equal(t, 0, result.Dropped)
}

func TestParse_DuplicateIDsDropped(t *testing.T) {
	raw := `[` + validRecord + `,` + validRecord + `]`

	result := Parse(raw, Options{})

	assert.Len(t, result.Findings, 1)
	assert.Equal(t, 1, result.Dropped)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0].Message, "duplicate")
}

func TestParse_SizeLimit(t *testing.T) {
	raw := "[" + validRecord + "]" + strings.Repeat(" ", 100)

	result := Parse(raw, Options{MaxInputSize: 50})

	assert.True(t, result.NoStructuredOutput)
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, -1, result.Warnings[0].Index)
}

func TestParse_MarkdownTableFallback(t *testing.T) {
	raw := `
# Findings

| file | line | severity | type | issue | recommendation |
|------|------|----------|------|-------|----------------|
| src/db.py | 42 | p0 | sql-injection | SQL Injection | Use parameterized queries |
| src/auth.py | 15 | medium | hardcoded-secret | Hardcoded API key | Use env vars |
`
	result := Parse(raw, Options{JobID: "security-python", DefaultPriority: types.P2})

	require.Len(t, result.Findings, 2)
	assert.Equal(t, SourceMarkdown, result.Source)
	assert.Equal(t, "SECURITY-PYTHON-1", result.Findings[0].ID)
	assert.Equal(t, "src/db.py", result.Findings[0].File)
	assert.Equal(t, 42, result.Findings[0].Line)
	assert.Equal(t, types.P0, result.Findings[0].Priority)
	assert.Equal(t, types.P1, result.Findings[1].Priority)
	assert.Equal(t, "Use env vars", result.Findings[1].Remediation)
}

func TestParse_MarkdownDisabled(t *testing.T) {
	raw := "| a.go | 1 | p1 | bug | Broken | Fix it |"

	assert.Len(t, Parse(raw, Options{}).Findings, 1)
	assert.True(t, Parse(raw, Options{DisableMarkdown: true}).NoStructuredOutput)
}

func TestContainsFindings(t *testing.T) {
	assert.True(t, ContainsFindings("partial results: ["+validRecord+"]", "job"))
	assert.False(t, ContainsFindings("Reviewed 12 files, continuing.", "job"))
	assert.False(t, ContainsFindings(`[{"id":"x"}]`, "job"))
}

func TestSpanEnd(t *testing.T) {
	tests := []struct {
		text   string
		start  int
		want   int
		wantOK bool
	}{
		{`[1,2]`, 0, 4, true},
		{`x {"a":[1]} y`, 2, 10, true},
		{`["]"]`, 0, 4, true},
		{`[1,2`, 0, 4, false},
		{`[1}`, 0, 2, false},
		{`["unterminated]`, 0, 15, false},
	}
	for _, tt := range tests {
		got, ok := spanEnd(tt.text, tt.start)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("spanEnd(%q, %d) = %d, %v, want %d, %v", tt.text, tt.start, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestParse_MismatchedSpanThenValid(t *testing.T) {
	raw := `Scores: [1, 2}. Findings: [` + validRecord + `]`

	result := Parse(raw, Options{})

	require.Len(t, result.Findings, 1)
	assert.Equal(t, SourceSpan, result.Source)
}

func TestParse_DeeplyNestedOpenersAreLinear(t *testing.T) {
	start := time.Now()
	result := Parse(strings.Repeat("[", 200000), Options{})

	assert.True(t, result.NoStructuredOutput)
	assert.Less(t, time.Since(start), 5*time.Second)
}
