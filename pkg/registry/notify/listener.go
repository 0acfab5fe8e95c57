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

package notify

import "github.com/symcn/dubbo-registry/pkg/registry/types"

// Listener receives the registrations of one category each time they change. urls is the complete
// set of matching registrations of that category, an empty slice means there is none left.
//
// Subscriptions are identified by (query, listener), so the dynamic type of a Listener must be
// comparable. Use NewListener to wrap a plain function.
type Listener interface {
	Notify(category string, urls []*types.URL)
}

type funcListener struct {
	fn func(category string, urls []*types.URL)
}

func (l *funcListener) Notify(category string, urls []*types.URL) {
	l.fn(category, urls)
}

// NewListener adapts fn to a Listener, every call returns a distinct listener.
func NewListener(fn func(category string, urls []*types.URL)) Listener {
	return &funcListener{fn: fn}
}
