package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
)

var (
	// ErrLeapBeyondEnd is returned by Skip when the target lies past the last step.
	ErrLeapBeyondEnd = errors.New("pipeline: leap beyond end")
	// ErrLeapBeyondStart is returned by JumpDown at cursor 0.
	ErrLeapBeyondStart = errors.New("pipeline: leap beyond start")
	// ErrLeapBeyond is returned by JumpTo for an index outside the step list.
	ErrLeapBeyond = errors.New("pipeline: leap beyond")
	// ErrFinished is returned by Next on a finished pipeline.
	ErrFinished = errors.New("pipeline: already finished")
	// ErrIncomplete is returned by a nested pipeline that parked or failed
	// without reaching its end.
	ErrIncomplete = errors.New("pipeline: nested pipeline did not finish")
)

// StepError wraps a failure raised by the step at Index.
type StepError struct {
	Index int
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d: %v", e.Index, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Pipeline executes an ordered list of steps.
//
// Controller operations called from inside a step only move the cursor; the
// step at the new cursor is invoked once the current step returns. Called from
// outside a running step (for example by a goroutine that resumes a parked
// pipeline) they drive the pipeline on the calling goroutine.
type Pipeline struct {
	mu       sync.Mutex
	steps    []Step
	cursor   int
	storage  Storage
	loop     bool
	finished bool

	// driving is set while some goroutine is invoking steps; pending marks
	// that the step at cursor must be invoked next.
	driving bool
	pending bool
	ctx     context.Context

	onFinish func()
	onStop   func()
	onJump   func()
	onSkip   func()
	onPush   func()
	onError  func(err error, index int)
}

// New creates a pipeline from the given steps.
func New(steps ...Step) *Pipeline {
	return &Pipeline{
		steps:   append([]Step(nil), steps...),
		storage: make(Storage),
		ctx:     context.Background(),
	}
}

// WithStorage seeds the shared storage.
func (p *Pipeline) WithStorage(s Storage) *Pipeline {
	p.storage = s
	return p
}

// Loop makes the pipeline restart at step 0 after its last step.
func (p *Pipeline) Loop() *Pipeline {
	p.loop = true
	return p
}

// OnFinish registers the hook fired when Next passes the last step.
func (p *Pipeline) OnFinish(fn func()) *Pipeline { p.onFinish = fn; return p }

// OnStop registers the hook fired by Stop.
func (p *Pipeline) OnStop(fn func()) *Pipeline { p.onStop = fn; return p }

// OnJump registers the hook fired by JumpDown and JumpTo.
func (p *Pipeline) OnJump(fn func()) *Pipeline { p.onJump = fn; return p }

// OnSkip registers the hook fired by Skip.
func (p *Pipeline) OnSkip(fn func()) *Pipeline { p.onSkip = fn; return p }

// OnPush registers the hook fired by Push.
func (p *Pipeline) OnPush(fn func()) *Pipeline { p.onPush = fn; return p }

// OnError registers the handler that receives step failures together with the
// index of the failing step. Without a handler, failures are returned to the
// caller that drove the step.
func (p *Pipeline) OnError(fn func(err error, index int)) *Pipeline {
	p.onError = fn
	return p
}

// Run invokes the step at the cursor and keeps driving until the pipeline
// finishes, parks or fails. Running an empty pipeline is a no-op.
func (p *Pipeline) Run(ctx context.Context) error {
	p.mu.Lock()
	if len(p.steps) == 0 {
		p.mu.Unlock()
		return nil
	}
	p.ctx = ctx
	p.pending = true
	p.mu.Unlock()
	return p.drive()
}

// Next advances the cursor by one. Passing the last step fires the finish hook
// and either restarts at 0 (loop) or marks the pipeline finished.
func (p *Pipeline) Next() error {
	p.mu.Lock()
	if p.finished {
		p.mu.Unlock()
		return ErrFinished
	}
	if p.cursor+1 < len(p.steps) {
		p.cursor++
		p.pending = true
		p.mu.Unlock()
		return p.drive()
	}

	if p.loop {
		p.cursor = 0
		p.pending = true
	} else {
		p.finished = true
		p.pending = false
	}
	hook := p.onFinish
	p.mu.Unlock()

	fire(hook)
	return p.drive()
}

// Skip advances the cursor by n+1, so Skip(0) behaves like Next. A target past
// the last step is an error and leaves the cursor unchanged.
func (p *Pipeline) Skip(n int) error {
	if n < 0 {
		return fmt.Errorf("%w: negative skip %d", ErrLeapBeyondStart, n)
	}
	p.mu.Lock()
	target := p.cursor + n + 1
	if target >= len(p.steps) {
		p.mu.Unlock()
		return fmt.Errorf("%w: cursor %d, skip %d, steps %d", ErrLeapBeyondEnd, p.cursor, n, len(p.steps))
	}
	p.cursor = target
	p.finished = false
	p.pending = true
	hook := p.onSkip
	p.mu.Unlock()

	fire(hook)
	return p.drive()
}

// JumpDown moves the cursor back one step and invokes it.
func (p *Pipeline) JumpDown() error {
	p.mu.Lock()
	if p.cursor == 0 {
		p.mu.Unlock()
		return ErrLeapBeyondStart
	}
	p.cursor--
	p.finished = false
	p.pending = true
	hook := p.onJump
	p.mu.Unlock()

	fire(hook)
	return p.drive()
}

// JumpTo moves the cursor to index and invokes that step.
func (p *Pipeline) JumpTo(index int) error {
	p.mu.Lock()
	if index < 0 || index >= len(p.steps) {
		p.mu.Unlock()
		return fmt.Errorf("%w: index %d, steps %d", ErrLeapBeyond, index, len(p.steps))
	}
	p.cursor = index
	p.finished = false
	p.pending = true
	hook := p.onJump
	p.mu.Unlock()

	fire(hook)
	return p.drive()
}

// Push appends a step. If the pipeline had already finished it resumes at the
// appended step.
func (p *Pipeline) Push(step Step) error {
	p.mu.Lock()
	p.steps = append(p.steps, step)
	resume := p.finished
	if resume {
		p.finished = false
		p.cursor = len(p.steps) - 1
		p.pending = true
	}
	hook := p.onPush
	p.mu.Unlock()

	fire(hook)
	if !resume {
		return nil
	}
	return p.drive()
}

// Stop fires the stop hook. It does not prevent later Next calls.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	hook := p.onStop
	p.mu.Unlock()
	fire(hook)
}

// Cursor returns the index of the current step.
func (p *Pipeline) Cursor() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursor
}

// Len returns the number of steps.
func (p *Pipeline) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.steps)
}

// Finished reports whether the pipeline ran past its last step.
func (p *Pipeline) Finished() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.finished
}

// Storage returns the shared storage.
func (p *Pipeline) Storage() Storage {
	return p.storage
}

// drive invokes pending steps until none is pending. Only one goroutine drives
// at a time; a nested call made from inside a step returns immediately and the
// outer driver picks up the new cursor.
func (p *Pipeline) drive() error {
	p.mu.Lock()
	if p.driving {
		p.mu.Unlock()
		return nil
	}
	p.driving = true

	for p.pending {
		p.pending = false
		index := p.cursor
		step := p.steps[index]
		ctx := p.ctx
		p.mu.Unlock()

		err := ctx.Err()
		if err == nil {
			err = invoke(ctx, step, p)
		}

		p.mu.Lock()
		if err == nil {
			continue
		}
		p.pending = false
		handler := p.onError
		if handler == nil {
			p.driving = false
			p.mu.Unlock()
			return &StepError{Index: index, Err: err}
		}
		p.mu.Unlock()
		// The handler may move the cursor to retry or recover.
		handler(err, index)
		p.mu.Lock()
	}
	p.driving = false
	p.mu.Unlock()
	return nil
}

func invoke(ctx context.Context, step Step, p *Pipeline) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return step.Invoke(ctx, p, p.storage)
}

func fire(hook func()) {
	if hook != nil {
		hook()
	}
}
