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

package failback

import (
	"context"
	"time"

	"github.com/symcn/dubbo-registry/pkg/registry/types"
)

// Kind of a failed operation.
type Kind int

// Enumeration of Kind
const (
	Register Kind = iota
	Unregister
	Subscribe
	Unsubscribe
)

var kindNames = map[Kind]string{
	Register:    "register",
	Unregister:  "unregister",
	Subscribe:   "subscribe",
	Unsubscribe: "unsubscribe",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// State of a pending task. A task never fails for good, it is retried until it succeeds or is
// cancelled.
type State int

// Enumeration of State
const (
	Queued State = iota
	Retrying
	Succeeded
	Cancelled
)

var stateNames = map[State]string{
	Queued:    "QUEUED",
	Retrying:  "RETRYING",
	Succeeded: "SUCCEEDED",
	Cancelled: "CANCELLED",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// Func re-issues the failed operation.
type Func func(ctx context.Context) error

type task struct {
	kind    Kind
	url     *types.URL
	do      Func
	attempt int
	next    time.Time
	state   State
	lastErr error
}

// Info is a read only view of a pending task.
type Info struct {
	Kind      Kind
	URL       *types.URL
	Attempt   int
	NextRetry time.Time
	State     State
	LastError string
}

func (t *task) info() Info {
	i := Info{
		Kind:      t.kind,
		URL:       t.url,
		Attempt:   t.attempt,
		NextRetry: t.next,
		State:     t.state,
	}
	if t.lastErr != nil {
		i.LastError = t.lastErr.Error()
	}
	return i
}
