package driver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/cdp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/use-agent/harvest/models"
)

// deadClient answers every CDP call with an error, like a browser whose
// connection dropped.
type deadClient struct{}

func (deadClient) Event() <-chan *cdp.Event { return nil }

func (deadClient) Call(context.Context, string, string, any) ([]byte, error) {
	return nil, errors.New("websocket: close 1006 (abnormal closure)")
}

func newDeadBrowser(limit int) *Browser {
	return &Browser{
		browser:  rod.New().Client(deadClient{}),
		pagePool: rod.NewPagePool(limit),
		health:   make(map[*rod.Page]*health),
	}
}

func TestBrowser_AcquireFailureKeepsSlot(t *testing.T) {
	b := newDeadBrowser(1)

	for i := 0; i < 3; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_, err := b.Acquire(ctx)
		cancel()

		var he *models.HarvestError
		require.ErrorAs(t, err, &he, "attempt %d", i+1)
		assert.Equal(t, models.ErrCodeBrowserCrash, he.Code)
	}

	limit, active := b.Stats()
	assert.Equal(t, 1, limit)
	assert.Equal(t, 0, active)
	assert.Len(t, b.pagePool, 1, "slot returned to the pool")
}

func TestBrowser_AcquireHonorsContext(t *testing.T) {
	b := newDeadBrowser(1)
	held := <-b.pagePool
	defer b.pagePool.Put(held)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := b.Acquire(ctx)

	var he *models.HarvestError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, models.ErrCodeTimeout, he.Code)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}
