package pipeline

import "context"

// Storage is the keyed state shared by all steps of a pipeline.
type Storage map[string]any

// Merge copies every key of other into s.
func (s Storage) Merge(other Storage) {
	for k, v := range other {
		s[k] = v
	}
}

// String returns the string stored under key, or "" when absent.
func (s Storage) String(key string) string {
	v, _ := s[key].(string)
	return v
}

// Step is a single unit of a pipeline.
type Step interface {
	Invoke(ctx context.Context, p *Pipeline, s Storage) error
}

// Func is a synchronous step. It is responsible for advancing the pipeline,
// typically by calling p.Next, unless it intends to park the pipeline.
type Func func(ctx context.Context, p *Pipeline, s Storage) error

// Invoke implements Step.
func (f Func) Invoke(ctx context.Context, p *Pipeline, s Storage) error {
	return f(ctx, p, s)
}

// Deferred is a step whose result is produced by a blocking operation such as
// a dial or an external process. On success the result is merged into the
// shared storage and the pipeline advances to the next step.
type Deferred func(ctx context.Context) (Storage, error)

// Invoke implements Step.
func (d Deferred) Invoke(ctx context.Context, p *Pipeline, s Storage) error {
	out, err := d(ctx)
	if err != nil {
		return err
	}
	s.Merge(out)
	return p.Next()
}

// Sub wraps a nested pipeline as a single step. The nested pipeline shares the
// parent storage; when it finishes the parent advances.
func Sub(build func() *Pipeline) Step {
	return Func(func(ctx context.Context, p *Pipeline, s Storage) error {
		child := build()
		child.storage = s
		if err := child.Run(ctx); err != nil {
			return err
		}
		if !child.Finished() {
			return ErrIncomplete
		}
		return p.Next()
	})
}
