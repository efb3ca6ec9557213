package graph

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillgraph/backend/pkg/common"
	"github.com/skillgraph/backend/pkg/store/embedded"
)

func TestRegistry(t *testing.T) {
	f := newFixture(t, Config{})
	f.add(personRef("p1"), skillRef("go"))
	r := f.engine.Registry()

	ok, err := r.Exists(f.ctx, personRef("p1"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.Exists(f.ctx, projectRef("p1"))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = r.Exists(f.ctx, common.EntityRef{ID: "p1", Kind: "team"})
	require.NoError(t, err)
	assert.False(t, ok)

	d, err := r.Describe(f.ctx, skillRef("go"))
	require.NoError(t, err)
	assert.Equal(t, &Descriptor{Label: "label-go", Kind: common.KindSkill}, d)

	_, err = r.Describe(f.ctx, skillRef("rust"))
	require.ErrorIs(t, err, ErrNotFound)

	found, err := r.Lookup(f.ctx, []common.EntityRef{personRef("p1"), skillRef("go"), skillRef("rust")})
	require.NoError(t, err)
	assert.Len(t, found, 2)
	assert.Equal(t, "label-p1", found[personRef("p1")].Label)
}

func TestRegistryConcurrentDescribe(t *testing.T) {
	f := newFixture(t, Config{})
	f.add(personRef("p1"))
	r := f.engine.Registry()

	var wg sync.WaitGroup
	labels := make([]string, 16)
	errs := make([]error, 16)
	for i := range labels {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := r.Describe(f.ctx, personRef("p1"))
			errs[i] = err
			if d != nil {
				labels[i] = d.Label
			}
		}()
	}
	wg.Wait()

	for i := range labels {
		require.NoError(t, errs[i])
		assert.Equal(t, "label-p1", labels[i])
	}
}

// gatedStore blocks the first entity lookup until release is closed and then
// honours the context it was given, as a database driver does.
type gatedStore struct {
	*embedded.Store
	entered chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (s *gatedStore) GetEntity(ctx context.Context, ref common.EntityRef) (*common.Entity, error) {
	if s.calls.Add(1) == 1 {
		close(s.entered)
		<-s.release
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.Store.GetEntity(ctx, ref)
}

func TestRegistryCanceledCallerDoesNotFailOthers(t *testing.T) {
	f := newFixture(t, Config{})
	f.add(personRef("p1"))
	gs := &gatedStore{Store: f.store, entered: make(chan struct{}), release: make(chan struct{})}
	r := NewRegistry(gs)

	ctx, cancel := context.WithCancel(f.ctx)
	first := make(chan error, 1)
	go func() {
		_, err := r.Describe(ctx, personRef("p1"))
		first <- err
	}()
	<-gs.entered

	second := make(chan error, 1)
	go func() {
		_, err := r.Describe(f.ctx, personRef("p1"))
		second <- err
	}()
	// Give the second caller time to join the lookup in flight.
	time.Sleep(20 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-first, context.Canceled)

	close(gs.release)
	require.NoError(t, <-second)
}
