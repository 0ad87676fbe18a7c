package pipeline

import (
	"context"
	"time"
)

// Deadlines bounds each of the pipeline's suspension points. A zero
// duration means no per-call deadline (the job-level timeout still
// applies).
type Deadlines struct {
	// OCRPerPage bounds one page's OCR call; a multi-page range gets
	// the per-page deadline times its page count.
	OCRPerPage  time.Duration
	LLM         time.Duration
	ObjectStore time.Duration
	RecordStore time.Duration
}

// DefaultDeadlines returns the recommended per-call deadlines.
func DefaultDeadlines() Deadlines {
	return Deadlines{
		OCRPerPage:  60 * time.Second,
		LLM:         30 * time.Second,
		ObjectStore: 20 * time.Second,
		RecordStore: 10 * time.Second,
	}
}

const retryBackoffBase = 2 * time.Second

// callExternal runs one external call under its per-call deadline,
// retrying exactly once (after the base backoff) when the first attempt
// fails and the surrounding job is still live. A second failure is
// terminal for the stage.
func callExternal(ctx context.Context, d time.Duration, fn func(context.Context) error) error {
	attempt := func() error {
		callCtx := ctx
		if d > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		return fn(callCtx)
	}

	err := attempt()
	if err == nil || ctx.Err() != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return err
	case <-time.After(retryBackoffBase):
	}
	return attempt()
}
