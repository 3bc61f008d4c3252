package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Collector is one independent signal source.
type Collector interface {
	Category() Category
	Collect(ctx context.Context) (json.RawMessage, error)
}

// Preflight verifies the provider is reachable at all before fan-out.
// A preflight failure is fatal to the collection run.
type Preflight interface {
	Ping(ctx context.Context) error
}

// Provider runs comprehensive collection: a concurrent fan-out over all
// registered collectors, joined with per-branch outcome capture. A branch
// failure downgrades that category to unavailable; it never aborts the run.
type Provider struct {
	collectors    []Collector
	preflight     Preflight
	branchTimeout time.Duration
	logger        *zap.Logger
}

// NewProvider builds a provider over the given collectors. preflight may be
// nil when no reachability gate applies (e.g. fakes in tests).
func NewProvider(collectors []Collector, preflight Preflight, branchTimeout time.Duration, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	if branchTimeout <= 0 {
		branchTimeout = 30 * time.Second
	}
	return &Provider{
		collectors:    collectors,
		preflight:     preflight,
		branchTimeout: branchTimeout,
		logger:        logger,
	}
}

// Collect runs every collector concurrently and returns the aggregate
// snapshot. The returned error is non-nil only when the provider itself is
// unreachable (preflight failure) or no collectors are registered; per
// category failures are recorded inside the snapshot.
func (p *Provider) Collect(ctx context.Context) (*Snapshot, error) {
	if len(p.collectors) == 0 {
		return nil, errors.New("no collectors registered")
	}
	if p.preflight != nil {
		if err := p.preflight.Ping(ctx); err != nil {
			return nil, fmt.Errorf("environment provider unreachable: %w", err)
		}
	}

	snapshot := &Snapshot{
		CollectedAt: time.Now().UTC(),
		Results:     make(map[Category]Result, len(p.collectors)),
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range p.collectors {
		g.Go(func() error {
			res := p.runBranch(gctx, c)
			mu.Lock()
			snapshot.Results[c.Category()] = res
			mu.Unlock()
			// Branch outcomes are captured individually; returning nil
			// keeps the join from short-circuiting on first failure.
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	p.logger.Info("environment collection finished",
		zap.Int("available", snapshot.Available()),
		zap.Int("total", len(p.collectors)),
		zap.Strings("warnings", snapshot.Warnings()))
	return snapshot, nil
}

func (p *Provider) runBranch(ctx context.Context, c Collector) Result {
	ctx, cancel := context.WithTimeout(ctx, p.branchTimeout)
	defer cancel()

	data, err := c.Collect(ctx)
	if err == nil {
		return Result{Category: c.Category(), OK: true, Data: data}
	}

	kind := KindError
	var catErr *CategoryError
	if errors.As(err, &catErr) {
		kind = catErr.Kind
	}
	p.logger.Warn("sub-collector failed",
		zap.String("category", string(c.Category())),
		zap.String("kind", string(kind)),
		zap.Error(err))
	return Result{
		Category: c.Category(),
		OK:       false,
		Kind:     kind,
		Message:  err.Error(),
	}
}
