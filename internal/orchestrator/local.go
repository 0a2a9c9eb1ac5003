package orchestrator

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ktrdr/internal/domain"
	"ktrdr/internal/kerr"
	"ktrdr/internal/training"
)

// progressBufferSize bounds the in-process progress channel. The
// worker never blocks on it: events beyond the buffer are dropped.
const progressBufferSize = 64

// Local runs the pipeline in a goroutine of the calling process.
type Local struct {
	pipeline *training.Pipeline
	log      zerolog.Logger
}

// NewLocal creates an in-process orchestrator.
func NewLocal(pipeline *training.Pipeline, log zerolog.Logger) (*Local, error) {
	if pipeline == nil {
		return nil, kerr.New(kerr.KindConfig, "local orchestrator requires a pipeline")
	}
	return &Local{pipeline: pipeline, log: log}, nil
}

// Run is one in-flight local training operation.
type Run struct {
	ID       string
	progress chan training.Progress
	done     chan struct{}
	token    *CancelToken

	result domain.RunResult
	err    error
}

// Progress returns the event stream. The channel closes when the run
// finishes; slow consumers lose events instead of slowing training.
func (r *Run) Progress() <-chan training.Progress {
	return r.progress
}

// Cancel requests cancellation. The training loop observes it within
// one batch.
func (r *Run) Cancel() {
	r.token.Cancel()
}

// Wait blocks until the run finishes or ctx expires.
func (r *Run) Wait(ctx context.Context) (domain.RunResult, error) {
	select {
	case <-r.done:
		return r.result, r.err
	case <-ctx.Done():
		return domain.RunResult{}, kerr.Wrap(kerr.KindCancelled, "wait interrupted", ctx.Err())
	}
}

// Start launches a training run and returns immediately.
func (o *Local) Start(ctx context.Context, req training.Request) (*Run, error) {
	if req.Strategy == nil {
		return nil, kerr.New(kerr.KindConfig, "start: strategy is required")
	}
	run := &Run{
		ID:       uuid.NewString(),
		progress: make(chan training.Progress, progressBufferSize),
		done:     make(chan struct{}),
		token:    NewCancelToken(),
	}
	info := &domain.SessionInfo{
		OperationID:  run.ID,
		StrategyName: req.Strategy.Name,
		Symbols:      req.Strategy.Symbols,
		Timeframes:   req.Strategy.Timeframes,
		Mode:         "local",
		DataMode:     string(req.Mode),
	}

	go func() {
		defer close(run.done)
		defer close(run.progress)

		// Non-blocking relay: throttling is dropping, never sleeping.
		relay := func(p training.Progress) {
			select {
			case run.progress <- p:
			default:
			}
		}

		result, err := o.pipeline.Train(ctx, req, relay, run.token)
		result.SessionInfo = info
		if err != nil {
			result.Status = statusForError(err)
			result.Error = errorInfo(err)
			o.log.Warn().Str("operation_id", run.ID).Err(err).Msg("training run did not complete")
		}
		run.result = result
		run.err = err
	}()
	return run, nil
}

// statusForError maps a run error to its terminal status.
func statusForError(err error) string {
	if kerr.IsKind(err, kerr.KindCancelled) {
		return domain.StatusCancelled
	}
	return domain.StatusFailed
}

// errorInfo converts a run error into the user-visible payload.
func errorInfo(err error) *domain.ErrorInfo {
	if err == nil {
		return nil
	}
	info := &domain.ErrorInfo{Kind: string(kerr.KindOf(err)), Message: err.Error()}
	var ke *kerr.Error
	if errors.As(err, &ke) && len(ke.Context) > 0 {
		info.Context = ke.Context
	}
	return info
}
