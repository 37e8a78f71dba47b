package reactor

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolGetLeastLoadedBalances(t *testing.T) {
	p, err := NewPool(3)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	first := p.GetLeastLoaded()
	a, _ := testSocketPair(t)
	_, err = first.Register(a, nil)
	require.NoError(t, err)

	second := p.GetLeastLoaded()
	assert.NotSame(t, first, second, "pool should route to a less-loaded reactor once one has a registration")
}

func TestPoolGetLeastLoadedConcurrentNoRace(t *testing.T) {
	p, err := NewPool(4)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := p.GetLeastLoaded()
			assert.NotNil(t, r)
		}()
	}
	wg.Wait()
}

func TestNewPoolRejectsZeroSize(t *testing.T) {
	_, err := NewPool(0)
	assert.Error(t, err)
}
