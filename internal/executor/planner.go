package executor

import (
	"errors"
	"fmt"

	"github.com/steveyegge/polyrev/internal/types"
)

// ErrChunkPlanning marks a job whose file set cannot be chunked. It is
// fatal for that job only.
var ErrChunkPlanning = errors.New("chunk planning failed")

// PlanChunks splits files into ordered chunks of at most maxFiles each,
// preserving the original order. maxFiles of 0 means a single chunk. The
// chunks partition files exactly; an empty file set yields one empty chunk.
func PlanChunks(jobID string, files []string, maxFiles int) ([]types.Chunk, error) {
	if maxFiles < 0 {
		return nil, fmt.Errorf("%w: max_files cannot be negative (got %d)", ErrChunkPlanning, maxFiles)
	}
	if len(files) == 0 {
		return []types.Chunk{{JobID: jobID, Sequence: 0, Total: 1, Files: []string{}}}, nil
	}

	seen := make(map[string]struct{}, len(files))
	for _, f := range files {
		if f == "" {
			return nil, fmt.Errorf("%w: job %s has an empty file path", ErrChunkPlanning, jobID)
		}
		if _, dup := seen[f]; dup {
			return nil, fmt.Errorf("%w: job %s lists %s more than once", ErrChunkPlanning, jobID, f)
		}
		seen[f] = struct{}{}
	}

	size := maxFiles
	if size == 0 || size > len(files) {
		size = len(files)
	}
	total := (len(files) + size - 1) / size

	chunks := make([]types.Chunk, 0, total)
	for i := 0; i < total; i++ {
		start := i * size
		end := min(start+size, len(files))
		part := make([]string, end-start)
		copy(part, files[start:end])
		chunks = append(chunks, types.Chunk{
			JobID:    jobID,
			Sequence: i,
			Total:    total,
			Files:    part,
		})
	}
	return chunks, nil
}

// ChunkCount returns max(1, ceil(n/maxFiles)) without materializing chunks.
func ChunkCount(n, maxFiles int) int {
	if n <= 0 || maxFiles <= 0 || n <= maxFiles {
		return 1
	}
	return (n + maxFiles - 1) / maxFiles
}
