// Package debounce provides a debouncer func.
package debounce

import (
	"sync"
	"time"

	"k8s.io/klog"
)

// Request ...
type Request interface {
	Merge(Request) Request
}

// Debounce ...
type Debounce struct {
	ch          chan Request
	stopCh      chan struct{}
	doneCh      chan struct{}
	closeOnce   sync.Once
	waitTime    time.Duration     // The duration it should wait when there is no request has been put.
	maxWaitTime time.Duration     // The duration limit if there are a lot of requests is be put into continually.
	pushFn      func(req Request) // Debounced func
}

// New ...
func New(waitTime, maxWaitTime time.Duration, pushFn func(req Request)) *Debounce {
	d := &Debounce{
		ch:          make(chan Request),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		waitTime:    waitTime,
		maxWaitTime: maxWaitTime,
		pushFn:      pushFn,
	}

	go d.start()
	return d
}

func (d *Debounce) start() {
	defer close(d.doneCh)

	var timeChan <-chan time.Time
	var startTime time.Time
	var lastUpdateTime time.Time
	debounceEvents := 0
	var req Request
	free := true
	freeCh := make(chan struct{}, 1)

	push := func(req Request) {
		d.pushFn(req)
		freeCh <- struct{}{}
	}

	pushWorker := func() {
		lastUpdateDuration := time.Since(lastUpdateTime)
		if lastUpdateDuration >= d.waitTime || time.Since(startTime) >= d.maxWaitTime {
			if req != nil {
				free = false
				go push(req)
				req = nil
				debounceEvents = 0
			}
		} else {
			timeChan = time.After(d.waitTime - lastUpdateDuration)
			klog.V(6).Infof("[debounce] %d events within the wait time, delaying the push", debounceEvents)
		}
	}

	for {
		select {
		case <-freeCh:
			free = true
			pushWorker()
		case r := <-d.ch:
			lastUpdateTime = time.Now()
			if debounceEvents == 0 {
				timeChan = time.After(d.waitTime)
				startTime = lastUpdateTime
			}
			debounceEvents++

			if req == nil {
				req = r
				continue
			}
			req = req.Merge(r)
		case <-timeChan:
			if free {
				pushWorker()
			}
		case <-d.stopCh:
			if !free {
				<-freeCh
			}
			if req != nil {
				klog.V(4).Infof("[debounce] flushing the pending request on close")
				d.pushFn(req)
			}
			return
		}
	}
}

// Put hands a request to the debouncer, it is dropped once the debouncer is closed.
func (d *Debounce) Put(req Request) {
	select {
	case d.ch <- req:
	case <-d.stopCh:
	}
}

// Close stops the debouncer and pushes what is still pending.
func (d *Debounce) Close() {
	d.closeOnce.Do(func() {
		close(d.stopCh)
	})
	<-d.doneCh
}
