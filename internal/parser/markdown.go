package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/steveyegge/polyrev/internal/types"
)

// | file | line | severity | type | issue | recommendation |
var tableRowRegex = regexp.MustCompile(
	`(?mi)^\|\s*([^|]+?)\s*\|\s*(\d+)\s*\|\s*(p[012]|high|medium|low|critical)\s*\|\s*([^|]+?)\s*\|\s*([^|]+?)\s*\|\s*([^|]+?)\s*\|`)

// parseMarkdownTable reads findings from a six-column markdown table.
// IDs are synthesized as <JOBID>-<n> in row order.
func parseMarkdownTable(text string, opts Options) []types.Finding {
	prefix := strings.ToUpper(opts.JobID)
	if prefix == "" {
		prefix = "FINDING"
	}

	var findings []types.Finding
	for _, m := range tableRowRegex.FindAllStringSubmatch(text, -1) {
		file := m[1]
		if strings.EqualFold(file, "file") {
			continue
		}
		line, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		priority, err := types.ParsePriority(m[3])
		if err != nil {
			priority = opts.DefaultPriority
		}
		findings = append(findings, types.Finding{
			ID:          fmt.Sprintf("%s-%d", prefix, len(findings)+1),
			Type:        m[4],
			Title:       m[5],
			Priority:    priority,
			File:        file,
			Line:        line,
			Description: m[5],
			Remediation: m[6],
		})
	}
	return findings
}
