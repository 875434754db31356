package ws

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIPLimiter_Allow(t *testing.T) {
	l := newIPLimiter(context.Background(), 10)

	assert.True(t, l.Allow("1.2.3.4"), "first request allowed")
	assert.True(t, l.Allow("5.6.7.8"), "independent buckets per IP")
}

func TestIPLimiter_Burst(t *testing.T) {
	l := newIPLimiter(context.Background(), 5) // burst = 10

	allowed := 0
	for i := 0; i < 40; i++ {
		if l.Allow("10.0.0.1") {
			allowed++
		}
	}
	assert.GreaterOrEqual(t, allowed, 5)
	assert.Less(t, allowed, 40, "sustained flood gets throttled")
}

func TestIPLimiter_UsableAfterContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	l := newIPLimiter(ctx, 10)

	cancel()
	time.Sleep(10 * time.Millisecond) // let the cleanup goroutine exit

	assert.True(t, l.Allow("1.2.3.4"), "throttling survives cleanup shutdown")
}
