package nio

import (
	"sync"

	"github.com/behrlich/go-nio/internal/constants"
	"github.com/behrlich/go-nio/internal/reactor"
)

// The library keeps one lazily-created default reactor pool per process,
// mirroring spec §9's "global state" design note: most programs never
// touch reactor placement directly, but the pool may be swapped out by a
// caller who wants a different size, and only while it is completely idle
// (no registrations anywhere in it) so an in-flight connection never has
// its reactor pulled out from under it.
var (
	defaultPoolMu  sync.Mutex
	defaultPoolRef *reactor.Pool

	defaultObserverMu sync.Mutex
	defaultObserverRef Observer = NoOpObserver{}
)

func getOrCreateDefaultPool() (*reactor.Pool, error) {
	defaultPoolMu.Lock()
	defer defaultPoolMu.Unlock()
	if defaultPoolRef != nil {
		return defaultPoolRef, nil
	}
	p, err := reactor.NewPool(constants.DefaultReactorPoolSize)
	if err != nil {
		return nil, WrapErrno("default_pool", err)
	}
	defaultPoolRef = p
	return p, nil
}

// SetPoolSize replaces the default reactor pool with one holding n
// reactors. It fails if the existing default pool has any live
// registrations, since swapping it out from under an open connection
// would strand that connection's reactor loop.
func SetPoolSize(n int) error {
	defaultPoolMu.Lock()
	defer defaultPoolMu.Unlock()

	if defaultPoolRef != nil {
		if defaultPoolRef.TotalLoad() != 0 {
			return New("set_pool_size", CodeIOError, "default pool has active registrations")
		}
		_ = defaultPoolRef.Close()
		defaultPoolRef = nil
	}

	p, err := reactor.NewPool(n)
	if err != nil {
		return WrapErrno("set_pool_size", err)
	}
	defaultPoolRef = p
	return nil
}

// SetDefaultObserver installs the Observer that every TCPClient created
// afterwards (by Connect, ConnectWith or Listener.Accept) reports into.
// The default is NoOpObserver.
func SetDefaultObserver(o Observer) {
	defaultObserverMu.Lock()
	defer defaultObserverMu.Unlock()
	if o == nil {
		o = NoOpObserver{}
	}
	defaultObserverRef = o
}

func defaultObserver() Observer {
	defaultObserverMu.Lock()
	defer defaultObserverMu.Unlock()
	return defaultObserverRef
}
