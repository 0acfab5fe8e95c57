/*
Copyright 2020 The symcn authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package zk

import (
	"sync"
	"time"

	"github.com/go-zookeeper/zk"
	"k8s.io/klog"
)

// pathCache watches the children of one znode, every change reports them as a whole.
// A node which does not exist is reported as empty until it is created.
type pathCache struct {
	conn     zkConn
	path     string
	onChange func(path string, children []string)

	stopCh   chan struct{}
	stopOnce sync.Once
}

func newPathCache(conn zkConn, p string, onChange func(path string, children []string)) (*pathCache, []string, error) {
	klog.V(4).Infof("[zk] create a cache for path: [%s]", p)

	cache := &pathCache{
		conn:     conn,
		path:     p,
		onChange: onChange,
		stopCh:   make(chan struct{}),
	}
	children, ch, err := cache.watchChildren()
	if err != nil {
		return nil, nil, err
	}
	go cache.loop(ch)
	return cache, children, nil
}

func (p *pathCache) stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
	})
}

// watchChildren lists and watches the children, or the creation of the node when it is missing.
func (p *pathCache) watchChildren() ([]string, <-chan zk.Event, error) {
	children, _, ch, err := p.conn.ChildrenW(p.path)
	if err != zk.ErrNoNode {
		return children, ch, err
	}

	exists, _, ch, err := p.conn.ExistsW(p.path)
	if err != nil {
		return nil, nil, err
	}
	if exists {
		// created in between
		return p.watchChildren()
	}
	return []string{}, ch, nil
}

func (p *pathCache) loop(ch <-chan zk.Event) {
	backoff := 100 * time.Millisecond
	for {
		select {
		case <-p.stopCh:
			return
		case event, ok := <-ch:
			if !ok || event.Type == zk.EventNotWatching {
				klog.V(4).Infof("[zk] stop watching [%s]: %v", p.path, event.Err)
				return
			}
			klog.V(6).Infof("[zk] received event %v of [%s]", event.Type, event.Path)
		}

		for {
			children, next, err := p.watchChildren()
			if err == nil {
				ch = next
				backoff = 100 * time.Millisecond
				p.onChange(p.path, children)
				break
			}
			if err == zk.ErrClosing || err == zk.ErrConnectionClosed || err == zk.ErrSessionExpired {
				klog.V(4).Infof("[zk] stop watching [%s]: %v", p.path, err)
				return
			}

			klog.Warningf("[zk] watching [%s] failed, retry in %v: %v", p.path, backoff, err)
			select {
			case <-p.stopCh:
				return
			case <-time.After(backoff):
			}
			if backoff < 5*time.Second {
				backoff *= 2
			}
		}
	}
}
