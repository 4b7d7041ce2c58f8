package meta_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnigrid/omnigrid.go/pkg/constants"
	"github.com/omnigrid/omnigrid.go/pkg/meta"
)

type countingProvider struct {
	mu    sync.Mutex
	calls int
	cols  []meta.Column
}

func (p *countingProvider) Columns(context.Context, string) ([]meta.Column, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.cols, nil
}

func TestStaticProvider(t *testing.T) {
	s := meta.Static{"t": {{Name: "id", PrimaryKey: true}}}

	cols, err := s.Columns(context.Background(), "t")
	require.NoError(t, err)
	assert.Len(t, cols, 1)

	_, err = s.Columns(context.Background(), "missing")
	require.ErrorIs(t, err, constants.ErrNoColumns)
}

func TestCacheHitsProviderOnce(t *testing.T) {
	p := &countingProvider{cols: []meta.Column{{Name: "id"}}}
	c := meta.NewCache(p, time.Minute)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		cols, err := c.Columns(ctx, "t")
		require.NoError(t, err)
		assert.Len(t, cols, 1)
	}
	assert.Equal(t, 1, p.calls)
}

func TestCacheInvalidateForcesRefetch(t *testing.T) {
	p := &countingProvider{cols: []meta.Column{{Name: "id"}}}
	c := meta.NewCache(p, time.Minute)
	ctx := context.Background()

	_, err := c.Columns(ctx, "t")
	require.NoError(t, err)
	c.Invalidate("t")
	_, err = c.Columns(ctx, "t")
	require.NoError(t, err)
	assert.Equal(t, 2, p.calls)
}

func TestPrimaryKeyColumns(t *testing.T) {
	cols := []meta.Column{
		{Name: "a"},
		{Name: "b", PrimaryKey: true},
		{Name: "c", PrimaryKey: true},
	}
	assert.Equal(t, []string{"b", "c"}, meta.PrimaryKeyColumns(cols))
	assert.Nil(t, meta.PrimaryKeyColumns([]meta.Column{{Name: "a"}}))
}
