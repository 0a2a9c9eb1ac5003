package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"ktrdr/internal/domain"
	"ktrdr/internal/kerr"
	"ktrdr/internal/observability"
	"ktrdr/internal/provider"
	"ktrdr/internal/storage"
	"ktrdr/internal/training"
)

// Worker throttling. Progress posts go out on every Nth batch event by
// skipping the rest; the loop never sleeps to pace itself. The session
// store is polled for a cancel mark every few events.
const (
	progressPostEvery = 10
	cancelCheckEvery  = 5
	resultPostRetries = 5
)

// Worker is the host-side half of the remote orchestrator: it executes
// the pipeline for a submitted session, persists state through the
// session store, and reports back to the coordinator.
type Worker struct {
	pipeline *training.Pipeline
	sessions storage.SessionStore
	// reportURL is the coordinator base to POST progress and results
	// to. Empty disables reporting; the session store still gets
	// everything.
	reportURL string
	client    *http.Client
	backoff   *provider.Backoff
	metrics   *observability.Metrics
	log       zerolog.Logger
}

// WorkerOptions configures a Worker.
type WorkerOptions struct {
	Pipeline  *training.Pipeline
	Sessions  storage.SessionStore
	ReportURL string
	Client    *http.Client
	// Metrics is optional; nil records nothing.
	Metrics *observability.Metrics
	Logger  zerolog.Logger
}

// NewWorker creates a host-side training worker.
func NewWorker(opts WorkerOptions) (*Worker, error) {
	if opts.Pipeline == nil {
		return nil, kerr.New(kerr.KindConfig, "worker requires a pipeline")
	}
	if opts.Sessions == nil {
		return nil, kerr.New(kerr.KindConfig, "worker requires a session store")
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Worker{
		pipeline:  opts.Pipeline,
		sessions:  opts.Sessions,
		reportURL: opts.ReportURL,
		client:    opts.Client,
		backoff:   provider.NewBackoff(),
		metrics:   opts.Metrics,
		log:       opts.Logger,
	}, nil
}

// Run executes one submitted session end to end. The session must not
// exist yet; cancellation arrives by marking the stored session
// cancelled (the coordinator's cancel endpoint does exactly that).
func (w *Worker) Run(ctx context.Context, sessionID string, raw SubmitRequest) error {
	req, err := requestFromSubmit(raw)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if err := w.sessions.Create(ctx, &storage.Session{
		SessionID:    sessionID,
		StrategyName: req.Strategy.Name,
		Status:       domain.StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}); err != nil {
		return kerr.Wrap(kerr.KindPersistence, "create session", err).With("session_id", sessionID)
	}
	if err := w.sessions.UpdateStatus(ctx, sessionID, domain.StatusRunning, 0); err != nil {
		return kerr.Wrap(kerr.KindPersistence, "mark session running", err)
	}

	token := NewCancelToken()
	events := 0
	progress := func(p training.Progress) {
		events++
		if p.ProgressType == "epoch" {
			w.metrics.RecordEpoch()
		}
		if events%cancelCheckEvery == 0 {
			if s, err := w.sessions.Get(ctx, sessionID); err == nil && s.Status == domain.StatusCancelled {
				token.Cancel()
			}
		}
		if p.ProgressType == "batch" && events%progressPostEvery != 0 {
			return
		}
		frac := float64(p.Epoch) / float64(p.TotalEpochs)
		_ = w.sessions.UpdateStatus(ctx, sessionID, domain.StatusRunning, frac)
		w.postProgress(ctx, sessionID, p)
	}

	result, runErr := w.pipeline.Train(ctx, req, progress, token)
	result.SessionID = sessionID
	status := domain.StatusCompleted
	if runErr != nil {
		status = statusForError(runErr)
		result.Status = status
		result.Error = errorInfo(runErr)
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return kerr.Wrap(kerr.KindPersistence, "encode result", err)
	}
	if err := w.sessions.StoreResult(ctx, sessionID, status, payload); err != nil {
		return kerr.Wrap(kerr.KindPersistence, "store result", err).With("session_id", sessionID)
	}
	w.metrics.RecordSessionEnd(status)

	if w.reportURL != "" {
		if err := w.postResult(ctx, sessionID, payload); err != nil {
			// The result is safe in the store, but the coordinator never
			// heard about it; mark the session failed so it investigates.
			w.log.Error().Str("session_id", sessionID).Err(err).Msg("final result post failed")
			_ = w.sessions.UpdateStatus(ctx, sessionID, domain.StatusFailed, 1)
			return err
		}
	}
	return runErr
}

// postProgress is best effort: failures are dropped, never retried.
func (w *Worker) postProgress(ctx context.Context, sessionID string, p training.Progress) {
	if w.reportURL == "" {
		return
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return
	}
	url := fmt.Sprintf("%s/trainings/%s/progress", w.reportURL, sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		w.log.Debug().Err(err).Msg("progress post dropped")
		return
	}
	resp.Body.Close()
}

// postResult retries the final result post with full-jitter backoff.
func (w *Worker) postResult(ctx context.Context, sessionID string, payload []byte) error {
	url := fmt.Sprintf("%s/trainings/%s/result", w.reportURL, sessionID)
	var lastErr error
	for attempt := 0; attempt < resultPostRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := w.client.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode/100 == 2 {
				return nil
			}
			err = fmt.Errorf("coordinator returned %d", resp.StatusCode)
		}
		lastErr = err
		if attempt < resultPostRetries-1 {
			if err := w.backoff.Sleep(ctx, attempt); err != nil {
				return err
			}
		}
	}
	return kerr.Wrap(kerr.KindConnLost, "result post retries exhausted", lastErr)
}
