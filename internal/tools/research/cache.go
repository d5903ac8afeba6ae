package research

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"time"

	"github.com/bluele/gcache"
	"go.uber.org/zap"

	"marketintel/internal/metrics"
	"marketintel/internal/tools"
	"marketintel/internal/types"
)

const (
	defaultCacheSize = 256
	defaultCacheTTL  = 15 * time.Minute
)

// CacheOptions configures Cached. Zero values take defaults.
type CacheOptions struct {
	Size     int
	TTL      time.Duration
	Recorder *metrics.Recorder
	Logger   *zap.Logger

	// Clock drives expiry; tests pass gcache.NewFakeClock().
	Clock gcache.Clock
}

// Cached returns a copy of tool whose Invoke memoises successful results per
// category and parameters. Failures and empty results are never cached, so a
// retry after a transient error reaches the source again.
func Cached(tool *tools.Tool, opts CacheOptions) *tools.Tool {
	if opts.Size <= 0 {
		opts.Size = defaultCacheSize
	}
	if opts.TTL <= 0 {
		opts.TTL = defaultCacheTTL
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	builder := gcache.New(opts.Size).LRU().Expiration(opts.TTL)
	if opts.Clock != nil {
		builder = builder.Clock(opts.Clock)
	}
	cache := builder.Build()

	inner := tool.Invoke
	name := tool.Name
	wrapped := *tool
	wrapped.Invoke = func(ctx context.Context, step types.ActionStep) ([]types.Record, error) {
		key := hashKey(step)
		if v, err := cache.Get(key); err == nil {
			opts.Recorder.ObserveCache(name, true)
			opts.Logger.Debug("cache hit", zap.String("tool", name), zap.String("key", key))
			return copyRecords(v.([]types.Record)), nil
		}
		opts.Recorder.ObserveCache(name, false)

		records, err := inner(ctx, step)
		if err != nil || len(records) == 0 {
			return records, err
		}
		if err := cache.Set(key, copyRecords(records)); err != nil {
			opts.Logger.Warn("cache set failed", zap.String("tool", name), zap.Error(err))
		}
		return records, nil
	}
	return &wrapped
}

// hashKey identifies a step by category and parameters, ignoring sequence
// number and attempt.
func hashKey(step types.ActionStep) string {
	names := make([]string, 0, len(step.Params))
	for k := range step.Params {
		names = append(names, k)
	}
	sort.Strings(names)

	h := sha256.New()
	h.Write([]byte(step.Category))
	for _, k := range names {
		h.Write([]byte{0})
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write([]byte(step.Params[k]))
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

func copyRecords(in []types.Record) []types.Record {
	out := make([]types.Record, len(in))
	for i, r := range in {
		out[i] = r
		if r.Fields != nil {
			out[i].Fields = make(map[string]string, len(r.Fields))
			for k, v := range r.Fields {
				out[i].Fields[k] = v
			}
		}
	}
	return out
}
