package recognition

import "sync"

// Executor runs potentially blocking work away from the control loop.
type Executor interface {
	Execute(task func())
}

// Dispatcher delivers callbacks back onto the control loop.
type Dispatcher interface {
	Post(task func())
}

// GoExecutor runs every task on its own goroutine.
type GoExecutor struct{}

func (GoExecutor) Execute(task func()) { go task() }

// InlineExecutor runs tasks on the calling goroutine.
type InlineExecutor struct{}

func (InlineExecutor) Execute(task func()) { task() }

// DirectDispatcher runs posted tasks immediately on the posting goroutine.
type DirectDispatcher struct{}

func (DirectDispatcher) Post(task func()) { task() }

// ControlLoop serializes posted tasks onto a single goroutine.
type ControlLoop struct {
	tasks chan func()
	done  chan struct{}
	once  sync.Once
	wg    sync.WaitGroup
}

func NewControlLoop(queue int) *ControlLoop {
	if queue <= 0 {
		queue = 64
	}
	l := &ControlLoop{
		tasks: make(chan func(), queue),
		done:  make(chan struct{}),
	}
	l.wg.Add(1)
	go l.run()
	return l
}

func (l *ControlLoop) run() {
	defer l.wg.Done()
	for {
		select {
		case <-l.done:
			return
		case task := <-l.tasks:
			task()
		}
	}
}

// Post enqueues task. Tasks posted after Close are dropped.
func (l *ControlLoop) Post(task func()) {
	select {
	case <-l.done:
	case l.tasks <- task:
	}
}

// Close stops the loop and waits for the running task to return.
func (l *ControlLoop) Close() {
	l.once.Do(func() { close(l.done) })
	l.wg.Wait()
}
