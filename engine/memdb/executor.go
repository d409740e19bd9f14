package memdb

import (
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/kartikbazzad/bunbase/bunstore/engine"
)

// task is one queued engine operation. run executes on the executor
// goroutine; its outcome is handed to done on the callback pool.
type task struct {
	name string
	run  func() ([]any, error)
	done engine.Callback
}

// executor runs tasks one at a time in submission order. Until it is marked
// ready, tasks are buffered unless submitted with force; loading the
// datafile is the only forced task.
type executor struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []*task
	pending []*task
	ready   bool
	closed  bool

	callbacks *ants.Pool
	logger    *slog.Logger
	wg        sync.WaitGroup
}

func newExecutor(workers int, ready bool, log *slog.Logger) (*executor, error) {
	e := &executor{ready: ready, logger: log}
	e.cond = sync.NewCond(&e.mu)

	pool, err := ants.NewPool(workers, ants.WithPanicHandler(func(v any) {
		log.Error("completion callback panic", "panic", v)
	}))
	if err != nil {
		return nil, err
	}
	e.callbacks = pool

	e.wg.Add(1)
	go e.loop()
	return e, nil
}

func (e *executor) push(t *task, force bool) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		e.deliver(t, nil, engine.NewError(engine.KindClosed, "datastore is closed"))
		return
	}
	if !e.ready && !force {
		e.pending = append(e.pending, t)
		e.mu.Unlock()
		return
	}
	e.queue = append(e.queue, t)
	e.cond.Signal()
	e.mu.Unlock()
}

// setReady releases buffered tasks behind anything already queued.
func (e *executor) setReady() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ready {
		return
	}
	e.ready = true
	e.queue = append(e.queue, e.pending...)
	e.pending = nil
	e.cond.Broadcast()
}

func (e *executor) loop() {
	defer e.wg.Done()
	for {
		e.mu.Lock()
		for len(e.queue) == 0 && !e.closed {
			e.cond.Wait()
		}
		if len(e.queue) == 0 {
			e.mu.Unlock()
			return
		}
		t := e.queue[0]
		e.queue[0] = nil
		e.queue = e.queue[1:]
		e.mu.Unlock()

		start := time.Now()
		results, err := t.run()
		e.logger.Debug("task executed", "task", t.name, "duration", time.Since(start), "error", err)
		e.deliver(t, results, err)
	}
}

func (e *executor) deliver(t *task, results []any, err error) {
	if t.done == nil {
		return
	}
	invoke := func() {
		if err != nil {
			t.done(err)
			return
		}
		t.done(nil, results...)
	}
	if e.callbacks.IsClosed() {
		invoke()
		return
	}
	if subErr := e.callbacks.Submit(invoke); subErr != nil {
		e.logger.Warn("callback pool rejected completion, delivering inline", "task", t.name, "error", subErr)
		invoke()
	}
}

// close finishes queued tasks, fails buffered ones and waits for pending
// completions.
func (e *executor) close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	pending := e.pending
	e.pending = nil
	e.cond.Broadcast()
	e.mu.Unlock()

	for _, t := range pending {
		e.deliver(t, nil, engine.NewError(engine.KindClosed, "datastore closed before it was loaded"))
	}
	e.wg.Wait()
	_ = e.callbacks.ReleaseTimeout(3 * time.Second)
}
