package option

import (
	"sort"
	"strings"
	"time"
)

// Registry options of one registry instance and its backing connector.
type Registry struct {
	// Type selects the connector: zk, nacos, redis or memory.
	Type string
	// Address of the backing cluster, the first one is the primary, the others are backups.
	Address []string
	// Root path (zk, redis) under which the registrations are stored.
	Root string
	// Group is the nacos group.
	Group string
	// Namespace is the nacos namespace id.
	Namespace string
	Username  string
	Password  string

	// Timeout of a single request against the backing store.
	Timeout time.Duration
	// SessionTimeout after which the ephemeral registrations of a lost client disappear.
	SessionTimeout time.Duration

	// Check makes the registry fail to open when the backing store can not be reached.
	Check bool

	RetryPeriod    time.Duration
	MaxRetryPeriod time.Duration
	RetryWorkers   int

	// File is the local snapshot of the subscribed registrations, empty disables it.
	File string
	// FileSaveDelay debounces the writes of the snapshot file.
	FileSaveDelay time.Duration
}

// DefaultRegistryOption ...
func DefaultRegistryOption() *Registry {
	return &Registry{
		Type:           "zk",
		Address:        []string{"127.0.0.1:2181"},
		Root:           "/dubbo",
		Group:          "DEFAULT_GROUP",
		Timeout:        5 * time.Second,
		SessionTimeout: 60 * time.Second,
		Check:          true,
		RetryPeriod:    5 * time.Second,
		MaxRetryPeriod: 2 * time.Minute,
		RetryWorkers:   4,
		FileSaveDelay:  time.Second,
	}
}

// Key normalizes the backing address, registries with the same key share one instance.
func (r Registry) Key() string {
	addresses := make([]string, 0, len(r.Address))
	for _, a := range r.Address {
		if a = strings.TrimSpace(a); a != "" {
			addresses = append(addresses, strings.ToLower(a))
		}
	}
	sort.Strings(addresses)

	key := strings.ToLower(r.Type) + "://" + strings.Join(addresses, ",") + r.Root
	if r.Namespace != "" || r.Group != "" {
		key += "?namespace=" + r.Namespace + "&group=" + r.Group
	}
	return key
}
