package utils

import (
	"runtime/debug"

	"k8s.io/klog"
)

// WorkerPool runs tasks on a bounded number of goroutines.
type WorkerPool interface {
	// Schedule blocks until an idle worker takes the task or a new worker may be spawned.
	Schedule(task func())

	// ScheduleAuto never blocks, it falls back to a dedicated goroutine when the pool is exhausted.
	ScheduleAuto(task func())
}

type workerPool struct {
	work chan func()
	sem  chan struct{}
}

// NewWorkerPool build workpool object
func NewWorkerPool(size int) WorkerPool {
	if size <= 0 {
		size = 1
	}
	return &workerPool{
		work: make(chan func()),
		sem:  make(chan struct{}, size),
	}
}

func (p *workerPool) Schedule(task func()) {
	select {
	case p.work <- task:
	case p.sem <- struct{}{}:
		go p.spawnWorker(task)
	}
}

func (p *workerPool) ScheduleAuto(task func()) {
	select {
	case p.work <- task:
		return
	default:
	}

	select {
	case p.work <- task:
	case p.sem <- struct{}{}:
		go p.spawnWorker(task)
	default:
		klog.V(4).Infof("[workerpool] pool exhausted, running the task on a new goroutine")
		GoWithRecover(task, nil)
	}
}

func (p *workerPool) spawnWorker(task func()) {
	defer func() {
		if r := recover(); r != nil {
			klog.Warningf("[workerpool] worker panic %v\n%s", r, string(debug.Stack()))
		}
		<-p.sem
	}()

	for {
		task()
		task = <-p.work
	}
}

// GoWithRecover go task with goroutine and recover
func GoWithRecover(handler func(), recoverHandler func(r interface{})) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				klog.Errorf("goroutine panic: %v\n%s", r, string(debug.Stack()))

				if recoverHandler != nil {
					go func() {
						defer func() {
							if p := recover(); p != nil {
								klog.Errorf("recover goroutine panic: %v\n%s", p, string(debug.Stack()))
							}
						}()

						recoverHandler(r)
					}()
				}
			}
		}()

		handler()
	}()
}
