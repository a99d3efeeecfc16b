package usecase

import (
	"context"
	"sync/atomic"

	"admetrics/internal/domain"

	"golang.org/x/sync/singleflight"
)

// FetchFunc performs one upstream fetch for a key.
type FetchFunc func(ctx context.Context) (*domain.MetricsRecord, error)

// RequestCoalescer collapses concurrent fetches of the same key into one call.
type RequestCoalescer struct {
	group    singleflight.Group
	inFlight atomic.Int64
}

func NewRequestCoalescer() *RequestCoalescer {
	return &RequestCoalescer{}
}

// RunOnce runs fn unless a call for key is already in flight, in which case
// it waits for that call's result. fn runs detached from ctx: a caller that
// goes away stops waiting, but the fetch keeps going for the other waiters.
// Every waiter gets its own copy of the record.
func (c *RequestCoalescer) RunOnce(ctx context.Context, key domain.MetricsKey, fn FetchFunc) (*domain.MetricsRecord, bool, error) {
	detached := context.WithoutCancel(ctx)

	ch := c.group.DoChan(key.String(), func() (any, error) {
		c.inFlight.Add(1)
		defer c.inFlight.Add(-1)
		return fn(detached)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Shared, res.Err
		}
		record, _ := res.Val.(*domain.MetricsRecord)
		return record.Clone(), res.Shared, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// InFlight returns the number of fetches currently running.
func (c *RequestCoalescer) InFlight() int {
	return int(c.inFlight.Load())
}
