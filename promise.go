package session

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// defaultPromiseCacheSize bounds the promised-resource map (§3). A
// long-lived connection that pushes many resources but is slow to close the
// corresponding streams should not grow this map without bound; an LRU
// discards the oldest promise rather than the session's bookkeeping growing
// forever.
const defaultPromiseCacheSize = 4096

// promiseMap is the §3 "promised-resource map": promised stream id -> the
// request path the server announced via PUSH_PROMISE. Entries are inserted
// when a PUSH_PROMISE header block finishes assembling and removed when the
// promised stream closes.
type promiseMap struct {
	mu     sync.Mutex
	byID   *lru.Cache[uint32, string]
	byPath map[string]uint32
}

func newPromiseMap() *promiseMap {
	p := &promiseMap{byPath: make(map[string]uint32)}
	// The eviction callback runs inside Add/Remove, which are only called
	// with p.mu held, so it drops the evicted promise's path from byPath
	// under the same lock.
	c, err := lru.NewWithEvict[uint32, string](defaultPromiseCacheSize, func(id uint32, path string) {
		if p.byPath[path] == id {
			delete(p.byPath, path)
		}
	})
	if err != nil {
		// Only returns an error for a non-positive size, which
		// defaultPromiseCacheSize never is.
		panic(err)
	}
	p.byID = c
	return p
}

func (p *promiseMap) Insert(promisedID uint32, path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byID.Add(promisedID, path)
	p.byPath[path] = promisedID
}

func (p *promiseMap) Remove(promisedID uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if path, ok := p.byID.Peek(promisedID); ok {
		delete(p.byPath, path)
	}
	p.byID.Remove(promisedID)
}

// Lookup reports whether path has an outstanding promise, per §8 scenario 6
// (send_request rejects a :path that matches an outstanding promise).
func (p *promiseMap) Lookup(path string) (promisedID uint32, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id, ok := p.byPath[path]
	return id, ok
}
