package zk

import (
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-zookeeper/zk"
)

// fakeConn is an in-memory znode tree with one-shot watches like zookeeper's.
type fakeConn struct {
	mu           sync.Mutex
	nodes        map[string]bool // path -> ephemeral
	childWatches map[string][]chan zk.Event
	existWatches map[string][]chan zk.Event
	events       chan zk.Event
	state        zk.State
	auth         []string
	closed       bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		nodes:        map[string]bool{"/": false},
		childWatches: make(map[string][]chan zk.Event),
		existWatches: make(map[string][]chan zk.Event),
		events:       make(chan zk.Event, 16),
		state:        zk.StateConnecting,
	}
}

func (f *fakeConn) dialer() dialer {
	return func(servers []string, sessionTimeout time.Duration) (zkConn, <-chan zk.Event, error) {
		return f, f.events, nil
	}
}

func (f *fakeConn) establish() {
	f.mu.Lock()
	f.state = zk.StateHasSession
	f.mu.Unlock()
	f.events <- zk.Event{Type: zk.EventSession, State: zk.StateHasSession}
}

// expire drops the session, its ephemeral nodes and every watch.
func (f *fakeConn) expire() {
	f.mu.Lock()
	f.state = zk.StateExpired
	f.dropSessionLocked()
	f.mu.Unlock()
	f.events <- zk.Event{Type: zk.EventSession, State: zk.StateExpired}
}

func (f *fakeConn) dropSessionLocked() {
	for p, ephemeral := range f.nodes {
		if ephemeral {
			delete(f.nodes, p)
		}
	}
	for _, watches := range []map[string][]chan zk.Event{f.childWatches, f.existWatches} {
		for p, chans := range watches {
			for _, ch := range chans {
				ch <- zk.Event{Type: zk.EventNotWatching, Path: p, Err: zk.ErrSessionExpired}
				close(ch)
			}
			delete(watches, p)
		}
	}
}

func (f *fakeConn) fireLocked(watches map[string][]chan zk.Event, p string, typ zk.EventType) {
	for _, ch := range watches[p] {
		ch <- zk.Event{Type: typ, Path: p}
		close(ch)
	}
	delete(watches, p)
}

func (f *fakeConn) has(p string) (exists, ephemeral bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ephemeral, exists = f.nodes[p]
	return
}

func (f *fakeConn) Create(p string, data []byte, flags int32, acl []zk.ACL) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return "", zk.ErrClosing
	}
	if _, ok := f.nodes[path.Dir(p)]; !ok {
		return "", zk.ErrNoNode
	}
	if _, ok := f.nodes[p]; ok {
		return "", zk.ErrNodeExists
	}
	f.nodes[p] = flags&zk.FlagEphemeral != 0
	f.fireLocked(f.existWatches, p, zk.EventNodeCreated)
	f.fireLocked(f.childWatches, path.Dir(p), zk.EventNodeChildrenChanged)
	return p, nil
}

func (f *fakeConn) Delete(p string, version int32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return zk.ErrClosing
	}
	if _, ok := f.nodes[p]; !ok {
		return zk.ErrNoNode
	}
	if len(f.childrenLocked(p)) > 0 {
		return zk.ErrNotEmpty
	}
	delete(f.nodes, p)
	f.fireLocked(f.childWatches, p, zk.EventNodeDeleted)
	f.fireLocked(f.childWatches, path.Dir(p), zk.EventNodeChildrenChanged)
	return nil
}

func (f *fakeConn) Exists(p string) (bool, *zk.Stat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false, nil, zk.ErrClosing
	}
	_, ok := f.nodes[p]
	return ok, &zk.Stat{}, nil
}

func (f *fakeConn) ExistsW(p string) (bool, *zk.Stat, <-chan zk.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false, nil, nil, zk.ErrClosing
	}
	ch := make(chan zk.Event, 1)
	f.existWatches[p] = append(f.existWatches[p], ch)
	_, ok := f.nodes[p]
	return ok, &zk.Stat{}, ch, nil
}

func (f *fakeConn) childrenLocked(p string) []string {
	var children []string
	prefix := strings.TrimSuffix(p, "/") + "/"
	for n := range f.nodes {
		if n != p && strings.HasPrefix(n, prefix) && !strings.Contains(n[len(prefix):], "/") {
			children = append(children, n[len(prefix):])
		}
	}
	sort.Strings(children)
	return children
}

func (f *fakeConn) ChildrenW(p string) ([]string, *zk.Stat, <-chan zk.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, nil, nil, zk.ErrClosing
	}
	if _, ok := f.nodes[p]; !ok {
		return nil, nil, nil, zk.ErrNoNode
	}
	ch := make(chan zk.Event, 1)
	f.childWatches[p] = append(f.childWatches[p], ch)
	return f.childrenLocked(p), &zk.Stat{}, ch, nil
}

func (f *fakeConn) AddAuth(scheme string, auth []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.auth = append(f.auth, scheme+":"+string(auth))
	return nil
}

func (f *fakeConn) State() zk.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeConn) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.dropSessionLocked()
	f.closed = true
	f.state = zk.StateDisconnected
	close(f.events)
}
