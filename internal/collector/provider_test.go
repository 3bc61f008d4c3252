package collector

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeCollector struct {
	category Category
	data     json.RawMessage
	err      error
	delay    time.Duration
}

func (f *fakeCollector) Category() Category { return f.category }

func (f *fakeCollector) Collect(ctx context.Context) (json.RawMessage, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.data, nil
}

type fakePreflight struct{ err error }

func (f *fakePreflight) Ping(ctx context.Context) error { return f.err }

func TestProvider_Collect_AllSucceed(t *testing.T) {
	p := NewProvider([]Collector{
		&fakeCollector{category: CategoryCost, data: json.RawMessage(`{"total": 120}`)},
		&fakeCollector{category: CategoryCompute, data: json.RawMessage(`{"vms": 3}`)},
	}, nil, time.Second, zaptest.NewLogger(t))

	snap, err := p.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Available())
	assert.Empty(t, snap.Warnings())
	assert.True(t, snap.Results[CategoryCost].OK)
}

func TestProvider_Collect_PartialFailure(t *testing.T) {
	p := NewProvider([]Collector{
		&fakeCollector{category: CategoryCost, data: json.RawMessage(`{"total": 120}`)},
		&fakeCollector{category: CategoryAdvisor, err: &CategoryError{
			Kind: KindSubscriptionRequired, Message: "advisor plan required"}},
		&fakeCollector{category: CategoryMetrics, err: errors.New("connection reset")},
	}, nil, time.Second, zaptest.NewLogger(t))

	snap, err := p.Collect(context.Background())
	require.NoError(t, err, "per-category failures must not fail the run")

	assert.Equal(t, 1, snap.Available())
	assert.Len(t, snap.Results, 3, "every category gets a result, failed or not")

	advisor := snap.Results[CategoryAdvisor]
	assert.False(t, advisor.OK)
	assert.Equal(t, KindSubscriptionRequired, advisor.Kind)

	metrics := snap.Results[CategoryMetrics]
	assert.False(t, metrics.OK)
	assert.Equal(t, KindError, metrics.Kind, "untyped errors classify as plain errors")

	assert.Len(t, snap.Warnings(), 2)
}

func TestProvider_Collect_AllFail(t *testing.T) {
	p := NewProvider([]Collector{
		&fakeCollector{category: CategoryCost, err: errors.New("down")},
		&fakeCollector{category: CategoryIdentity, err: errors.New("down")},
	}, nil, time.Second, zaptest.NewLogger(t))

	snap, err := p.Collect(context.Background())
	require.NoError(t, err, "a fully degraded snapshot is still a snapshot")
	assert.Equal(t, 0, snap.Available())
	assert.Len(t, snap.Warnings(), 2)
}

func TestProvider_Collect_PreflightFailureAborts(t *testing.T) {
	p := NewProvider([]Collector{
		&fakeCollector{category: CategoryCost, data: json.RawMessage(`{}`)},
	}, &fakePreflight{err: errors.New("dns failure")}, time.Second, zaptest.NewLogger(t))

	_, err := p.Collect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unreachable")
}

func TestProvider_Collect_NoCollectors(t *testing.T) {
	p := NewProvider(nil, nil, time.Second, zaptest.NewLogger(t))
	_, err := p.Collect(context.Background())
	require.Error(t, err)
}

func TestProvider_Collect_BranchTimeout(t *testing.T) {
	p := NewProvider([]Collector{
		&fakeCollector{category: CategoryCost, data: json.RawMessage(`{}`)},
		&fakeCollector{category: CategoryMetrics, delay: time.Second,
			data: json.RawMessage(`{}`)},
	}, nil, 20*time.Millisecond, zaptest.NewLogger(t))

	snap, err := p.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Available())
	assert.False(t, snap.Results[CategoryMetrics].OK, "slow branch times out without aborting the run")
}
