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

package registry

import "sync"

// queryLocks serializes the connector watch and unwatch of each query.
type queryLocks struct {
	mu    sync.Mutex
	locks map[string]*queryLock
}

type queryLock struct {
	sync.Mutex
	refs int
}

// lock blocks until the lock of key is held, the returned func releases it.
func (q *queryLocks) lock(key string) (unlock func()) {
	q.mu.Lock()
	if q.locks == nil {
		q.locks = make(map[string]*queryLock)
	}
	l, ok := q.locks[key]
	if !ok {
		l = &queryLock{}
		q.locks[key] = l
	}
	l.refs++
	q.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		q.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(q.locks, key)
		}
		q.mu.Unlock()
	}
}
