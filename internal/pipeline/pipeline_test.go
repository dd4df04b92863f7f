package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder returns a step that appends its name to trace and advances.
func recorder(trace *[]string, name string) Step {
	return Func(func(ctx context.Context, p *Pipeline, s Storage) error {
		*trace = append(*trace, name)
		return p.Next()
	})
}

func TestRunInvokesStepsInOrder(t *testing.T) {
	var trace []string
	finished := 0

	p := New(recorder(&trace, "a"), recorder(&trace, "b"), recorder(&trace, "c")).
		OnFinish(func() { finished++ })

	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, []string{"a", "b", "c"}, trace)
	assert.True(t, p.Finished())
	assert.Equal(t, 1, finished)
	assert.Equal(t, 2, p.Cursor())
}

func TestRunEmptyPipeline(t *testing.T) {
	p := New()
	require.NoError(t, p.Run(context.Background()))
	assert.False(t, p.Finished())
	assert.Equal(t, 0, p.Len())
}

func TestNextAfterFinish(t *testing.T) {
	var trace []string
	p := New(recorder(&trace, "a"))
	require.NoError(t, p.Run(context.Background()))

	assert.ErrorIs(t, p.Next(), ErrFinished)
	assert.Equal(t, []string{"a"}, trace)
}

func TestDeferredMergesStorage(t *testing.T) {
	p := New(
		Deferred(func(ctx context.Context) (Storage, error) {
			return Storage{"speed": int64(5000), "tool": "pyrit"}, nil
		}),
		Func(func(ctx context.Context, p *Pipeline, s Storage) error {
			s["seen"] = s["speed"]
			return p.Next()
		}),
	)

	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, int64(5000), p.Storage()["seen"])
	assert.Equal(t, "pyrit", p.Storage().String("tool"))
}

func TestDeferredFailureRoutesToHandler(t *testing.T) {
	boom := errors.New("dial refused")
	var gotErr error
	gotIndex := -1

	p := New(
		recorder(new([]string), "first"),
		Deferred(func(ctx context.Context) (Storage, error) { return nil, boom }),
		recorder(new([]string), "never"),
	).OnError(func(err error, index int) {
		gotErr = err
		gotIndex = index
	})

	require.NoError(t, p.Run(context.Background()))
	assert.ErrorIs(t, gotErr, boom)
	assert.Equal(t, 1, gotIndex)
	assert.False(t, p.Finished())
}

func TestStepFailureWithoutHandlerPropagates(t *testing.T) {
	boom := errors.New("bad config")
	p := New(Func(func(ctx context.Context, p *Pipeline, s Storage) error {
		return boom
	}))

	err := p.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, 0, stepErr.Index)
}

func TestPanicIsRecovered(t *testing.T) {
	p := New(Func(func(ctx context.Context, p *Pipeline, s Storage) error {
		panic("driver exploded")
	}))

	err := p.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "driver exploded")
}

func TestSkip(t *testing.T) {
	var trace []string
	skipped := 0

	p := New(
		Func(func(ctx context.Context, p *Pipeline, s Storage) error {
			trace = append(trace, "search")
			return p.Skip(1)
		}),
		recorder(&trace, "benchmark"),
		recorder(&trace, "check"),
	).OnSkip(func() { skipped++ })

	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, []string{"search", "check"}, trace)
	assert.Equal(t, 1, skipped)
	assert.True(t, p.Finished())
}

func TestSkipBeyondEnd(t *testing.T) {
	var skipErr error
	p := New(
		Func(func(ctx context.Context, p *Pipeline, s Storage) error {
			skipErr = p.Skip(2)
			return nil
		}),
		recorder(new([]string), "b"),
	)

	require.NoError(t, p.Run(context.Background()))
	assert.ErrorIs(t, skipErr, ErrLeapBeyondEnd)
	assert.Equal(t, 0, p.Cursor())
}

func TestJumpDown(t *testing.T) {
	attempts := 0
	var trace []string

	p := New(
		recorder(&trace, "connect"),
		Func(func(ctx context.Context, p *Pipeline, s Storage) error {
			attempts++
			if attempts < 3 {
				return p.JumpDown()
			}
			return p.Next()
		}),
	)

	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []string{"connect", "connect", "connect"}, trace)
}

func TestJumpDownAtStart(t *testing.T) {
	p := New(recorder(new([]string), "a"))
	assert.ErrorIs(t, p.JumpDown(), ErrLeapBeyondStart)
	assert.Equal(t, 0, p.Cursor())
}

func TestJumpTo(t *testing.T) {
	jumps := 0
	var trace []string

	p := New(
		recorder(&trace, "a"),
		recorder(&trace, "b"),
		Func(func(ctx context.Context, p *Pipeline, s Storage) error {
			trace = append(trace, "c")
			if len(trace) < 6 {
				return p.JumpTo(1)
			}
			return p.Next()
		}),
	).OnJump(func() { jumps++ })

	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, []string{"a", "b", "c", "b", "c", "b", "c"}, trace)
	assert.Equal(t, 2, jumps)
	assert.True(t, p.Finished())
}

func TestJumpToOutOfRange(t *testing.T) {
	p := New(recorder(new([]string), "a"), recorder(new([]string), "b"))

	assert.ErrorIs(t, p.JumpTo(2), ErrLeapBeyond)
	assert.ErrorIs(t, p.JumpTo(-1), ErrLeapBeyond)
	assert.Equal(t, 0, p.Cursor())
}

func TestLoop(t *testing.T) {
	rounds := 0
	p := New(
		Func(func(ctx context.Context, p *Pipeline, s Storage) error {
			rounds++
			if rounds == 4 {
				return nil // park
			}
			return p.Next()
		}),
		recorder(new([]string), "tick"),
	).Loop()

	finishes := 0
	p.OnFinish(func() { finishes++ })

	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, 4, rounds)
	assert.Equal(t, 3, finishes)
	assert.False(t, p.Finished())
}

func TestPushAfterFinishResumes(t *testing.T) {
	var trace []string
	pushed := 0

	p := New(recorder(&trace, "a")).OnPush(func() { pushed++ })
	require.NoError(t, p.Run(context.Background()))
	require.True(t, p.Finished())

	require.NoError(t, p.Push(recorder(&trace, "late")))
	assert.Equal(t, []string{"a", "late"}, trace)
	assert.Equal(t, 1, pushed)
	assert.Equal(t, 1, p.Cursor())
	assert.True(t, p.Finished())
}

func TestPushWhileRunningAppends(t *testing.T) {
	var trace []string
	p := New(Func(func(ctx context.Context, p *Pipeline, s Storage) error {
		trace = append(trace, "a")
		if err := p.Push(recorder(&trace, "b")); err != nil {
			return err
		}
		return p.Next()
	}))

	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, []string{"a", "b"}, trace)
	assert.Equal(t, 2, p.Len())
}

func TestStopOnlyFiresHook(t *testing.T) {
	stopped := 0
	var trace []string

	p := New(
		Func(func(ctx context.Context, p *Pipeline, s Storage) error {
			p.Stop()
			return p.Next()
		}),
		recorder(&trace, "after-stop"),
	).OnStop(func() { stopped++ })

	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, 1, stopped)
	assert.Equal(t, []string{"after-stop"}, trace)
}

func TestErrorHandlerCanRetry(t *testing.T) {
	failures := 0
	p := New(Func(func(ctx context.Context, p *Pipeline, s Storage) error {
		if failures < 2 {
			failures++
			return errors.New("transient")
		}
		return p.Next()
	}))
	p.OnError(func(err error, index int) {
		_ = p.JumpTo(index)
	})

	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, 2, failures)
	assert.True(t, p.Finished())
}

func TestParkedPipelineResumedFromGoroutine(t *testing.T) {
	var wg sync.WaitGroup
	var trace []string
	var resumeErr error

	p := New(
		Func(func(ctx context.Context, p *Pipeline, s Storage) error {
			wg.Add(1)
			go func() {
				defer wg.Done()
				resumeErr = p.Next()
			}()
			return nil
		}),
		recorder(&trace, "resumed"),
	)

	require.NoError(t, p.Run(context.Background()))
	wg.Wait()
	require.NoError(t, resumeErr)
	assert.Equal(t, []string{"resumed"}, trace)
	assert.True(t, p.Finished())
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	p := New(Func(func(ctx context.Context, p *Pipeline, s Storage) error {
		called = true
		return p.Next()
	}))

	err := p.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestSubPipeline(t *testing.T) {
	var trace []string
	p := New(
		recorder(&trace, "config"),
		Sub(func() *Pipeline {
			return New(recorder(&trace, "search"), recorder(&trace, "benchmark"))
		}),
		recorder(&trace, "connect"),
	)

	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, []string{"config", "search", "benchmark", "connect"}, trace)
}

func TestSubPipelineFailure(t *testing.T) {
	boom := errors.New("tool missing")
	var gotIndex int
	var gotErr error

	p := New(
		recorder(new([]string), "config"),
		Sub(func() *Pipeline {
			return New(Func(func(ctx context.Context, p *Pipeline, s Storage) error { return boom }))
		}),
	).OnError(func(err error, index int) {
		gotErr, gotIndex = err, index
	})

	require.NoError(t, p.Run(context.Background()))
	assert.ErrorIs(t, gotErr, boom)
	assert.Equal(t, 1, gotIndex)
}
