package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Window allows Limit events per Per, with bursts up to Limit.
type Window struct {
	Limit int
	Per   time.Duration
}

// Limiter enforces every window at once, separately for each key.
type Limiter struct {
	mu      sync.Mutex
	windows []Window
	m       map[string][]*rate.Limiter
}

func New(windows ...Window) *Limiter {
	return &Limiter{windows: windows, m: make(map[string][]*rate.Limiter)}
}

// PerSecondMinute is the usual two-window quota of a REST API key.
func PerSecondMinute(perSecond, perMinute int) *Limiter {
	return New(Window{Limit: perSecond, Per: time.Second}, Window{Limit: perMinute, Per: time.Minute})
}

func (l *Limiter) limiters(key string) []*rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	ls, ok := l.m[key]
	if !ok {
		ls = make([]*rate.Limiter, 0, len(l.windows))
		for _, w := range l.windows {
			if w.Limit <= 0 || w.Per <= 0 {
				continue
			}
			ls = append(ls, rate.NewLimiter(rate.Every(w.Per/time.Duration(w.Limit)), w.Limit))
		}
		l.m[key] = ls
	}
	return ls
}

// Allow consumes one token from every window of key if all have one available.
func (l *Limiter) Allow(key string) bool {
	now := time.Now()
	ls := l.limiters(key)
	rs := make([]*rate.Reservation, 0, len(ls))
	for _, lim := range ls {
		r := lim.ReserveN(now, 1)
		if !r.OK() || r.DelayFrom(now) > 0 {
			r.CancelAt(now)
			for _, prev := range rs {
				prev.CancelAt(now)
			}
			return false
		}
		rs = append(rs, r)
	}
	return true
}

// Wait blocks until every window of key admits one more event or ctx ends.
func (l *Limiter) Wait(ctx context.Context, key string) error {
	for _, lim := range l.limiters(key) {
		if err := lim.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}
