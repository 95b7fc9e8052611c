// Package redis keeps run records in Redis so several runners can share
// one daily ledger. Records expire after a TTL.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/steveyegge/polyrev/internal/types"
)

const keyPrefix = "polyrev:run:"

// Backend implements the run-record table on Redis hashes keyed
// polyrev:run:<date>:<job_id>.
type Backend struct {
	client *goredis.Client
	ttl    time.Duration
}

// New connects using a redis:// URL.
func New(ctx context.Context, url string, ttl time.Duration) (*Backend, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return NewWithClient(client, ttl), nil
}

// NewWithClient wraps an existing client. ttl of 0 defaults to 48h.
func NewWithClient(client *goredis.Client, ttl time.Duration) *Backend {
	if ttl == 0 {
		ttl = 48 * time.Hour
	}
	return &Backend{client: client, ttl: ttl}
}

func recordKey(jobID, date string) string {
	return keyPrefix + date + ":" + jobID
}

func (b *Backend) Get(ctx context.Context, jobID, date string) (*types.IdempotencyRecord, error) {
	fields, err := b.client.HGetAll(ctx, recordKey(jobID, date)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get run record: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return decode(jobID, date, fields)
}

func (b *Backend) Put(ctx context.Context, rec types.IdempotencyRecord) error {
	key := recordKey(rec.JobID, rec.Date)
	pipe := b.client.TxPipeline()
	pipe.HSet(ctx, key,
		"completed_at", rec.CompletedAt.Format(time.RFC3339Nano),
		"findings_count", rec.FindingsCount)
	pipe.Expire(ctx, key, b.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to put run record: %w", err)
	}
	return nil
}

func (b *Backend) List(ctx context.Context, date string) ([]types.IdempotencyRecord, error) {
	keys, err := b.scan(ctx, date)
	if err != nil {
		return nil, err
	}
	var out []types.IdempotencyRecord
	for _, key := range keys {
		jobID, keyDate, ok := parseKey(key)
		if !ok {
			continue
		}
		fields, err := b.client.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", key, err)
		}
		if len(fields) == 0 {
			continue // expired between SCAN and HGETALL
		}
		rec, err := decode(jobID, keyDate, fields)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].JobID < out[j].JobID
	})
	return out, nil
}

func (b *Backend) Delete(ctx context.Context, jobID, date string) (int, error) {
	if jobID != "" && date != "" {
		n, err := b.client.Del(ctx, recordKey(jobID, date)).Result()
		if err != nil {
			return 0, fmt.Errorf("failed to delete run record: %w", err)
		}
		return int(n), nil
	}
	keys, err := b.scan(ctx, date)
	if err != nil {
		return 0, err
	}
	var matched []string
	for _, key := range keys {
		if id, _, ok := parseKey(key); ok && (jobID == "" || id == jobID) {
			matched = append(matched, key)
		}
	}
	if len(matched) == 0 {
		return 0, nil
	}
	n, err := b.client.Del(ctx, matched...).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to delete run records: %w", err)
	}
	return int(n), nil
}

func (b *Backend) Close() error {
	return b.client.Close()
}

func (b *Backend) scan(ctx context.Context, date string) ([]string, error) {
	pattern := keyPrefix + "*"
	if date != "" {
		pattern = keyPrefix + date + ":*"
	}
	var keys []string
	iter := b.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan run records: %w", err)
	}
	return keys, nil
}

// parseKey splits polyrev:run:<date>:<job_id>. Job ids may contain colons.
func parseKey(key string) (jobID, date string, ok bool) {
	rest, found := strings.CutPrefix(key, keyPrefix)
	if !found || len(rest) < len(types.DateLayout)+2 || rest[len(types.DateLayout)] != ':' {
		return "", "", false
	}
	return rest[len(types.DateLayout)+1:], rest[:len(types.DateLayout)], true
}

func decode(jobID, date string, fields map[string]string) (*types.IdempotencyRecord, error) {
	completed, err := time.Parse(time.RFC3339Nano, fields["completed_at"])
	if err != nil {
		return nil, fmt.Errorf("invalid completed_at for %s/%s: %w", jobID, date, err)
	}
	count := 0
	if s, ok := fields["findings_count"]; ok {
		count, err = strconv.Atoi(s)
		if err != nil {
			return nil, errors.New("invalid findings_count for " + jobID)
		}
	}
	return &types.IdempotencyRecord{JobID: jobID, Date: date, CompletedAt: completed, FindingsCount: count}, nil
}
