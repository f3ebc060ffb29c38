package cache

import (
	"context"
	"time"
)

// ReportCache stores rendered report payloads. Keys are versioned by a
// generation counter; Invalidate bumps the counter so every older entry is
// simply never read again and ages out on its TTL.
type ReportCache interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Generation(ctx context.Context) (int64, error)
	Invalidate(ctx context.Context) error
}

type NoopReportCache struct{}

func (NoopReportCache) Get(_ context.Context, _ string, _ any) (bool, error) {
	return false, nil
}

func (NoopReportCache) Set(_ context.Context, _ string, _ any, _ time.Duration) error {
	return nil
}

func (NoopReportCache) Generation(_ context.Context) (int64, error) {
	return 0, nil
}

func (NoopReportCache) Invalidate(_ context.Context) error {
	return nil
}
