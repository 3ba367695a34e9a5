package usecase

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"RiskPull/pkg/logger"
)

// ErrStageRunning is returned when another run holds the stage lock.
var ErrStageRunning = errors.New("stage already running")

const DefaultStageLockTTL = 6 * time.Hour

// StageLocker guards stages against overlapping runs, across processes when
// backed by Redis.
type StageLocker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

func StageLockKey(stage string) string { return "pipeline:lock:" + stage }

type heldStagesKey struct{}

func holds(ctx context.Context, stage string) bool {
	held, _ := ctx.Value(heldStagesKey{}).([]string)
	return slices.Contains(held, stage)
}

// SetLocker enables stage locks. Every stage run, including each stage of a
// nightly run, takes its own lock.
func (p *Pipeline) SetLocker(l StageLocker, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultStageLockTTL
	}
	p.locker = l
	p.lockTTL = ttl
}

// Acquire takes the lock of stage and returns a context marking it as held, so
// runs under that context do not lock it again. release is never nil.
func (p *Pipeline) Acquire(ctx context.Context, stage string) (context.Context, func(), error) {
	noop := func() {}
	if p.locker == nil || holds(ctx, stage) {
		return ctx, noop, nil
	}
	key := StageLockKey(stage)
	ok, err := p.locker.TryLock(ctx, key, p.lockTTL)
	if err != nil {
		return ctx, noop, fmt.Errorf("lock %s: %w", stage, err)
	}
	if !ok {
		return ctx, noop, fmt.Errorf("%s: %w", stage, ErrStageRunning)
	}

	held, _ := ctx.Value(heldStagesKey{}).([]string)
	held = append(slices.Clip(held), stage)
	release := func() {
		if err := p.locker.Unlock(context.Background(), key); err != nil {
			p.log.Warn("stage unlock failed", logger.String("key", key), logger.Error(err))
		}
	}
	return context.WithValue(ctx, heldStagesKey{}, held), release, nil
}
