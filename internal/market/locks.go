package market

import "sync"

// keyedLocks 按 key 串行化：同一用户/同一市场的变更互斥，不同 key 并行。
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[string]*sync.Mutex)}
}

func (k *keyedLocks) get(key string) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	return l
}

// lock acquires the mutexes for the given keys in sorted order to avoid
// lock-order inversion between concurrent trades.
func (k *keyedLocks) lock(keys ...string) func() {
	uniq := make([]string, 0, len(keys))
	for _, key := range keys {
		if key == "" {
			continue
		}
		dup := false
		for _, u := range uniq {
			if u == key {
				dup = true
				break
			}
		}
		if !dup {
			uniq = append(uniq, key)
		}
	}
	for i := 0; i < len(uniq); i++ {
		for j := i + 1; j < len(uniq); j++ {
			if uniq[j] < uniq[i] {
				uniq[i], uniq[j] = uniq[j], uniq[i]
			}
		}
	}
	held := make([]*sync.Mutex, 0, len(uniq))
	for _, key := range uniq {
		l := k.get(key)
		l.Lock()
		held = append(held, l)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}
