package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllowHonoursTightestWindow(t *testing.T) {
	l := New(Window{Limit: 3, Per: time.Second}, Window{Limit: 2, Per: time.Minute})
	assert.True(t, l.Allow("finnhub"))
	assert.True(t, l.Allow("finnhub"))
	assert.False(t, l.Allow("finnhub"), "minute window exhausted")
	assert.True(t, l.Allow("other"), "keys are independent")
}

func TestAllowDoesNotLeakTokensOnRejection(t *testing.T) {
	l := New(Window{Limit: 5, Per: time.Hour}, Window{Limit: 1, Per: time.Hour})
	assert.True(t, l.Allow("k"))
	for i := 0; i < 5; i++ {
		assert.False(t, l.Allow("k"))
	}
	ls := l.limiters("k")
	assert.InDelta(t, 4, ls[0].Tokens(), 0.01)
}

func TestWaitCancelled(t *testing.T) {
	l := PerSecondMinute(1, 50)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.NoError(t, l.Wait(ctx, "k"))
	assert.Error(t, l.Wait(ctx, "k"), "second call needs a full second")
}
