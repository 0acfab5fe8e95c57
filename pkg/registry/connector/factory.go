package connector

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/symcn/dubbo-registry/pkg/option"
	"k8s.io/klog"
)

// Constructor creates a connector from the registry options.
type Constructor func(opt option.Registry) (Connector, error)

var (
	mu           sync.RWMutex
	constructors = make(map[string]Constructor)
)

// Register makes a connector type available, it is meant to be called from init.
func Register(typ string, f Constructor) {
	mu.Lock()
	defer mu.Unlock()
	if _, ok := constructors[typ]; ok {
		klog.Fatalf("repeat registry [connector]: %s", typ)
	}
	constructors[typ] = f
}

// New creates the connector selected by opt.Type.
func New(opt option.Registry) (Connector, error) {
	mu.RLock()
	f, ok := constructors[strings.ToLower(opt.Type)]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("connector {%s} was not implemented, available: %v", opt.Type, Types())
	}
	return f(opt)
}

// Types returns the registered connector types.
func Types() []string {
	mu.RLock()
	defer mu.RUnlock()
	types := make([]string, 0, len(constructors))
	for typ := range constructors {
		types = append(types, typ)
	}
	sort.Strings(types)
	return types
}
