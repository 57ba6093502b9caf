// Package interval picks the refresh period the dispatcher requests from the
// host scheduler. The value is advisory; the host owns actual scheduling.
package interval

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sensorsp/widget-engine/internal/observability"
)

const (
	DefaultNormal       = 15 * time.Minute
	DefaultQueryTimeout = 500 * time.Millisecond
)

// Policy resolves the requested interval from device power state.
type Policy struct {
	source       PowerSource
	normal       time.Duration
	queryTimeout time.Duration
	logger       *zap.Logger
}

// NewPolicy creates a Policy. A nil source is treated as always unavailable.
func NewPolicy(source PowerSource, normal, queryTimeout time.Duration, logger *zap.Logger) *Policy {
	if normal <= 0 {
		normal = DefaultNormal
	}
	if queryTimeout <= 0 {
		queryTimeout = DefaultQueryTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Policy{source: source, normal: normal, queryTimeout: queryTimeout, logger: logger}
}

// Normal returns the normal period.
func (p *Policy) Normal() time.Duration { return p.normal }

// Conservative returns the power-saving period, twice the normal one.
func (p *Policy) Conservative() time.Duration { return 2 * p.normal }

// Resolve returns Conservative when the device is power saving and Normal
// otherwise. Any query failure, including a timeout, resolves to Normal.
func (p *Policy) Resolve(ctx context.Context) time.Duration {
	saving, err := p.query(ctx)
	if err != nil {
		observability.IntervalFallbackTotal.Inc()
		p.logger.Debug("power state query failed, using normal interval", zap.Error(err))
		return p.normal
	}
	if saving {
		return p.Conservative()
	}
	return p.normal
}

func (p *Policy) query(ctx context.Context) (saving bool, err error) {
	if p.source == nil {
		return false, ErrUnavailable
	}
	ctx, cancel := context.WithTimeout(ctx, p.queryTimeout)
	defer cancel()

	type result struct {
		state PowerState
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		var res result
		defer func() {
			if r := recover(); r != nil {
				res = result{err: fmt.Errorf("power source panic: %v", r)}
			}
			ch <- res
		}()
		res.state, res.err = p.source.PowerState(ctx)
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return false, res.err
		}
		return res.state.Saving()
	case <-ctx.Done():
		return false, ctx.Err()
	}
}
