package utils

import (
	"errors"
	"sync"
)

// Runnable allows a component to be started, Start blocks until stopCh is closed.
type Runnable interface {
	Start(stopCh <-chan struct{}) error
}

// RunnableFunc adapts a function to a Runnable.
type RunnableFunc func(stopCh <-chan struct{}) error

// Start ...
func (f RunnableFunc) Start(stopCh <-chan struct{}) error {
	return f(stopCh)
}

// Components runs a group of Runnables until stopCh is closed or one of them fails.
type Components struct {
	mu         sync.Mutex
	started    bool
	components []Runnable
}

// Add a new Runnable to Components. It panics if the Components is already started.
func (c *Components) Add(r Runnable) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		panic("Components.Add: Components is already started")
	}
	c.components = append(c.components, r)
}

// Start Components.
func (c *Components) Start(stopCh <-chan struct{}) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return errors.New("components: already started")
	}
	c.started = true
	components := c.components
	c.mu.Unlock()

	errChan := make(chan error, len(components))
	for _, r := range components {
		r := r
		go func() {
			if err := r.Start(stopCh); err != nil {
				errChan <- err
			}
		}()
	}

	select {
	case <-stopCh:
		return nil
	case err := <-errChan:
		return err
	}
}
