package executor

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"text/template"

	"github.com/steveyegge/polyrev/internal/types"
)

// PromptLoader loads a job's base prompt by reference.
type PromptLoader interface {
	Load(ref string) (string, error)
}

// FilePromptLoader reads prompts from disk. Relative references resolve
// against BaseDir.
type FilePromptLoader struct {
	BaseDir string
}

// Load implements PromptLoader.
func (l FilePromptLoader) Load(ref string) (string, error) {
	if ref == "" {
		return "", fmt.Errorf("prompt reference is empty")
	}
	path := ref
	if !filepath.IsAbs(path) && l.BaseDir != "" {
		path = filepath.Join(l.BaseDir, ref)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read prompt file %s: %w", path, err)
	}
	return string(data), nil
}

// StaticPromptLoader serves prompts from memory.
type StaticPromptLoader map[string]string

// Load implements PromptLoader.
func (l StaticPromptLoader) Load(ref string) (string, error) {
	p, ok := l[ref]
	if !ok {
		return "", fmt.Errorf("unknown prompt %q", ref)
	}
	return p, nil
}

// PromptBuilder renders the per-chunk prompt. Intermediate chunks ask the
// reviewer to index files and hold findings; the final chunk asks for the
// JSON findings array covering every chunk.
type PromptBuilder struct {
	template *template.Template
}

type promptData struct {
	Base   string
	Chunk  types.Chunk
	Number int // 1-based
	Final  bool
}

const chunkPromptTemplate = `{{.Base}}
{{if gt .Chunk.Total 1}}
---

{{if .Final -}}
**[CHUNKED REVIEW: {{.Number}}/{{.Chunk.Total}} - FINAL CHUNK]**

You have now received ALL files across {{.Chunk.Total}} chunks. Analyze ALL files from ALL chunks together and output your findings as a JSON array.
{{- else -}}
**[CHUNKED REVIEW: {{.Number}}/{{.Chunk.Total}} - ACCUMULATING]**

This review is split into {{.Chunk.Total}} chunks. Read and index these files. Do NOT output findings yet - wait for the final chunk.

Reply ONLY with: ` + "`Chunk {{.Number}}/{{.Chunk.Total}} received. {{len .Chunk.Files}} files indexed.`" + `
{{- end}}
{{end}}
## Files to Review
` + "```" + `
{{range .Chunk.Files}}{{.}}
{{end}}` + "```" + `
`

// NewPromptBuilder creates a prompt builder.
func NewPromptBuilder() (*PromptBuilder, error) {
	tmpl, err := template.New("chunk").Parse(chunkPromptTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse chunk prompt template: %w", err)
	}
	return &PromptBuilder{template: tmpl}, nil
}

// Build renders the prompt for one chunk.
func (b *PromptBuilder) Build(base string, chunk types.Chunk) (string, error) {
	var buf bytes.Buffer
	err := b.template.Execute(&buf, promptData{
		Base:   base,
		Chunk:  chunk,
		Number: chunk.Sequence + 1,
		Final:  chunk.IsFinal(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to render prompt for chunk %s: %w", chunk.Label(), err)
	}
	return buf.String(), nil
}
