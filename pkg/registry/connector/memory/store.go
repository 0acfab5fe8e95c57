package memory

import (
	"sync"

	"github.com/symcn/dubbo-registry/pkg/registry/cache"
	"github.com/symcn/dubbo-registry/pkg/registry/connector"
	"github.com/symcn/dubbo-registry/pkg/registry/types"
)

// Store plays the backing cluster, every Connector created on it is a client session.
type Store struct {
	mu       sync.Mutex
	records  map[string]*record
	watchers map[*watcher]struct{}
}

type record struct {
	url   *types.URL
	owner *Connector // nil for persistent records
}

type watcher struct {
	owner   *Connector
	query   *types.URL
	handler connector.EventHandler
}

// NewStore ...
func NewStore() *Store {
	return &Store{
		records:  make(map[string]*record),
		watchers: make(map[*watcher]struct{}),
	}
}

var (
	storesMu sync.Mutex
	stores   = make(map[string]*Store)
)

// SharedStore returns the store of an address, connectors of the same address see each other.
func SharedStore(key string) *Store {
	storesMu.Lock()
	defer storesMu.Unlock()
	s, ok := stores[key]
	if !ok {
		s = NewStore()
		stores[key] = s
	}
	return s
}

// URLs returns every stored url matching query.
func (s *Store) URLs(query *types.URL) []*types.URL {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.matchingLocked(query, "")
}

// Len ...
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *Store) matchingLocked(query *types.URL, category string) []*types.URL {
	urls := make([]*types.URL, 0)
	for _, r := range s.records {
		if category != "" && r.url.Category() != category {
			continue
		}
		if types.IsMatch(query, r.url) {
			urls = append(urls, r.url)
		}
	}
	return types.SortURLs(urls)
}

func (s *Store) put(u *types.URL, owner *Connector) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !u.IsDynamic() {
		owner = nil
	}
	s.records[u.Key()] = &record{url: u, owner: owner}
	s.notifyLocked(u.Category())
}

func (s *Store) delete(u *types.URL) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[u.Key()]; !ok {
		return
	}
	delete(s.records, u.Key())
	s.notifyLocked(u.Category())
}

func (s *Store) watch(w *watcher) []*types.URL {
	s.mu.Lock()
	defer s.mu.Unlock()
	for old := range s.watchers {
		if old.owner == w.owner && old.query.Equal(w.query) {
			delete(s.watchers, old)
		}
	}
	s.watchers[w] = struct{}{}
	return s.matchingLocked(w.query, "")
}

func (s *Store) unwatch(owner *Connector, query *types.URL) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for w := range s.watchers {
		if w.owner == owner && (query == nil || w.query.Equal(query)) {
			delete(s.watchers, w)
		}
	}
}

// expire drops the session of owner: its ephemeral records and its watchers.
func (s *Store) expire(owner *Connector) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for w := range s.watchers {
		if w.owner == owner {
			delete(s.watchers, w)
		}
	}
	changed := make(map[string]struct{})
	for key, r := range s.records {
		if r.owner == owner {
			delete(s.records, key)
			changed[r.url.Category()] = struct{}{}
		}
	}
	for category := range changed {
		s.notifyLocked(category)
	}
}

// notifyLocked calls the handlers while holding the lock, so that every watcher sees the
// changes in the order they were made. Handlers must not call back into the store.
func (s *Store) notifyLocked(category string) {
	all := s.matchingLocked(types.NewURL("", "", types.AnyValue, map[string]string{types.CategoryKey: category}), category)
	for w := range s.watchers {
		if types.MatchCategory(w.query, category) {
			w.handler(category, cache.Filter(w.query, all))
		}
	}
}
