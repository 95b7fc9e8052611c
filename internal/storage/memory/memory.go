// Package memory is an in-process run-record backend for tests and dry runs.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/steveyegge/polyrev/internal/types"
)

type key struct {
	jobID string
	date  string
}

// Backend stores records in a sync.Map so writes to distinct keys never
// contend on a shared lock.
type Backend struct {
	records sync.Map // key -> types.IdempotencyRecord
}

// New creates an empty backend.
func New() *Backend {
	return &Backend{}
}

func (b *Backend) Get(_ context.Context, jobID, date string) (*types.IdempotencyRecord, error) {
	v, ok := b.records.Load(key{jobID, date})
	if !ok {
		return nil, nil
	}
	rec := v.(types.IdempotencyRecord)
	return &rec, nil
}

func (b *Backend) Put(_ context.Context, rec types.IdempotencyRecord) error {
	b.records.Store(key{rec.JobID, rec.Date}, rec)
	return nil
}

func (b *Backend) List(_ context.Context, date string) ([]types.IdempotencyRecord, error) {
	var out []types.IdempotencyRecord
	b.records.Range(func(k, v any) bool {
		if date == "" || k.(key).date == date {
			out = append(out, v.(types.IdempotencyRecord))
		}
		return true
	})
	sortRecords(out)
	return out, nil
}

func (b *Backend) Delete(_ context.Context, jobID, date string) (int, error) {
	n := 0
	b.records.Range(func(k, _ any) bool {
		kk := k.(key)
		if (jobID == "" || kk.jobID == jobID) && (date == "" || kk.date == date) {
			b.records.Delete(k)
			n++
		}
		return true
	})
	return n, nil
}

func (b *Backend) Close() error { return nil }

func sortRecords(recs []types.IdempotencyRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Date != recs[j].Date {
			return recs[i].Date < recs[j].Date
		}
		return recs[i].JobID < recs[j].JobID
	})
}
