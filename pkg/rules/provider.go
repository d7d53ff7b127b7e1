package rules

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/unitsync/unitsync/pkg/metrics"
)

// ErrConfigUnavailable means no configuration snapshot has ever been
// fetched. Nothing can be transformed correctly without rules, so callers
// fail the whole batch and let the runner redeliver it.
var ErrConfigUnavailable = errors.New("no transformation config available")

// Fetcher pulls the raw policy document and its version from the external
// configuration service.
type Fetcher interface {
	Fetch(ctx context.Context) (content []byte, version string, err error)
}

// Provider caches the active TransformationConfig and refreshes it lazily
// once the snapshot's TTL elapses.
//
// Refresh failures fall back to the stale snapshot when one exists:
// transformation must keep working through transient control-plane
// outages, and correctness only needs bounded staleness.
type Provider struct {
	fetcher      Fetcher
	fetchTimeout time.Duration
	logger       *zap.Logger

	current    atomic.Pointer[snapshot]
	refreshing atomic.Bool
}

type snapshot struct {
	cfg       *TransformationConfig
	fetchedAt time.Time
}

// NewProvider returns a Provider with an empty cache. fetchTimeout bounds
// each refresh attempt; zero means 5s.
func NewProvider(fetcher Fetcher, fetchTimeout time.Duration, logger *zap.Logger) *Provider {
	if fetchTimeout <= 0 {
		fetchTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		fetcher:      fetcher,
		fetchTimeout: fetchTimeout,
		logger:       logger,
	}
}

// Snapshot returns the active configuration, refreshing it first when the
// cached one expired. Concurrent callers during a refresh reuse the stale
// snapshot rather than blocking; at most one refresh is in flight.
func (p *Provider) Snapshot(ctx context.Context) (*TransformationConfig, error) {
	snap := p.current.Load()
	if snap != nil && time.Since(snap.fetchedAt) < snap.cfg.TTL() {
		return snap.cfg, nil
	}

	if !p.refreshing.CompareAndSwap(false, true) {
		// Another caller is already refreshing.
		if snap != nil {
			return snap.cfg, nil
		}
		return nil, ErrConfigUnavailable
	}
	defer p.refreshing.Store(false)

	cfg, err := p.refresh(ctx)
	if err != nil {
		metrics.ConfigRefreshes.WithLabelValues("error").Inc()
		if snap != nil {
			p.logger.Warn("config refresh failed, reusing stale snapshot",
				zap.String("version", snap.cfg.Version),
				zap.Error(err))
			return snap.cfg, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrConfigUnavailable, err)
	}

	metrics.ConfigRefreshes.WithLabelValues("ok").Inc()
	// Publish by single assignment; readers never observe a partial snapshot.
	p.current.Store(&snapshot{cfg: cfg, fetchedAt: time.Now()})
	p.logger.Info("config snapshot refreshed",
		zap.String("version", cfg.Version),
		zap.Int("mappings", len(cfg.FieldMappings)))
	return cfg, nil
}

func (p *Provider) refresh(ctx context.Context) (*TransformationConfig, error) {
	fctx, cancel := context.WithTimeout(ctx, p.fetchTimeout)
	defer cancel()

	content, version, err := p.fetcher.Fetch(fctx)
	if err != nil {
		return nil, fmt.Errorf("fetch policy document: %w", err)
	}
	return Parse(content, version)
}
