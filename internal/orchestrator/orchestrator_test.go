package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"ktrdr/internal/config"
	"ktrdr/internal/data"
	"ktrdr/internal/domain"
	"ktrdr/internal/kerr"
	"ktrdr/internal/storage/memory"
	"ktrdr/internal/training"
)

const strategyDoc = `
name: orch-test
symbols: [AAPL]
timeframes: [1d]
indicators:
  - name: rsi
    params: {period: 14}
features:
  include_indicators: [rsi]
labels:
  generator: directional
  params: {horizon: 3, up_threshold: 0.01, down_threshold: 0.01}
model:
  layers: [8]
  activation: relu
training:
  epochs: %d
  batch: 16
  learning_rate: 0.01
  optimizer: adam
  val_split: 0.15
  test_split: 0.15
  seed: 11
`

func strategyWithEpochs(t *testing.T, epochs int) *config.Strategy {
	t.Helper()
	s, err := config.Parse([]byte(fmt.Sprintf(strategyDoc, epochs)))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func seededPipeline(t *testing.T) (*training.Pipeline, domain.TimeRange) {
	t.Helper()
	store := memory.NewBarStore()
	key, err := domain.NewSeriesKey("AAPL", domain.Timeframe1d)
	if err != nil {
		t.Fatal(err)
	}
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.Bar, 200)
	for i := range bars {
		c := 100 + 10*math.Sin(float64(i)/5)
		bars[i] = domain.Bar{
			TS: start.Add(time.Duration(i) * 24 * time.Hour),
			Open: c, High: c + 1, Low: c - 1, Close: c,
			Volume: 1000, Source: domain.SourceBroker,
		}
	}
	if err := store.UpsertBars(context.Background(), key, bars); err != nil {
		t.Fatal(err)
	}
	mgr, err := data.NewManager(data.Options{Store: store})
	if err != nil {
		t.Fatal(err)
	}
	p, err := training.NewPipeline(training.Options{Data: mgr, ModelDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	return p, domain.TimeRange{Start: bars[0].TS, End: bars[len(bars)-1].TS}
}

func TestLocal_RunToCompletion(t *testing.T) {
	pipeline, rng := seededPipeline(t)
	local, err := NewLocal(pipeline, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	s := strategyWithEpochs(t, 5)

	run, err := local.Start(context.Background(), training.Request{Strategy: s, Range: rng})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	var epochEvents int
	for p := range run.Progress() {
		if p.ProgressType == "epoch" {
			epochEvents++
		}
	}

	result, err := run.Wait(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if result.Status != domain.StatusCompleted {
		t.Errorf("expected completed, got %q", result.Status)
	}
	if result.SessionInfo == nil || result.SessionInfo.OperationID != run.ID {
		t.Errorf("session info missing or mismatched: %+v", result.SessionInfo)
	}
	if result.SessionInfo.StrategyName != "orch-test" {
		t.Errorf("unexpected strategy name %q", result.SessionInfo.StrategyName)
	}
	// Mode identifies the orchestrator, not the data load mode.
	if result.SessionInfo.Mode != "local" {
		t.Errorf("session mode %q, want local", result.SessionInfo.Mode)
	}
	if epochEvents == 0 {
		t.Error("expected at least one epoch progress event")
	}
}

func TestLocal_CancelStopsRunQuickly(t *testing.T) {
	pipeline, rng := seededPipeline(t)
	local, err := NewLocal(pipeline, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	s := strategyWithEpochs(t, 10000)

	run, err := local.Start(context.Background(), training.Request{Strategy: s, Range: rng})
	if err != nil {
		t.Fatal(err)
	}
	// Let training get going, then cancel and time the exit.
	<-run.Progress()
	cancelAt := time.Now()
	run.Cancel()

	result, err := run.Wait(context.Background())
	if elapsed := time.Since(cancelAt); elapsed > 500*time.Millisecond {
		t.Errorf("cancel took %v to take effect", elapsed)
	}
	if !kerr.IsKind(err, kerr.KindCancelled) {
		t.Fatalf("expected cancelled error, got %v", err)
	}
	if result.Status != domain.StatusCancelled {
		t.Errorf("expected cancelled status, got %q", result.Status)
	}
	if result.Error == nil || result.Error.Kind != string(kerr.KindCancelled) {
		t.Errorf("result must carry the error payload: %+v", result.Error)
	}
}

func TestRemote_TrainRelaysResultVerbatim(t *testing.T) {
	hostResult := domain.RunResult{
		Status: domain.StatusCompleted,
		TestMetrics: domain.TestMetrics{
			Accuracy: 0.734,
		},
		ModelInfo: domain.ModelInfo{Architecture: "mlp", ParameterCount: 99},
	}

	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/trainings":
			json.NewEncoder(w).Encode(submitResponse{SessionID: "sess-1"})
		case r.Method == http.MethodGet && r.URL.Path == "/trainings/sess-1":
			status := domain.StatusRunning
			if polls.Add(1) >= 2 {
				status = domain.StatusCompleted
			}
			json.NewEncoder(w).Encode(sessionStatus{SessionID: "sess-1", Status: status})
		case r.Method == http.MethodGet && r.URL.Path == "/trainings/sess-1/result":
			json.NewEncoder(w).Encode(hostResult)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	remote, err := NewRemote(RemoteOptions{BaseURL: srv.URL, PollInterval: 10 * time.Millisecond, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatal(err)
	}
	s := strategyWithEpochs(t, 5)
	result, err := remote.Train(context.Background(), training.Request{
		Strategy: s,
		Range: domain.TimeRange{
			Start: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC),
		},
	})
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}
	if result.TestMetrics.Accuracy != 0.734 {
		t.Errorf("result must relay verbatim, got accuracy %v", result.TestMetrics.Accuracy)
	}
	if result.SessionID != "sess-1" {
		t.Errorf("expected session id sess-1, got %q", result.SessionID)
	}
}

func TestRemote_ContextCancelTellsHost(t *testing.T) {
	var cancelled atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/trainings" && r.Method == http.MethodPost:
			json.NewEncoder(w).Encode(submitResponse{SessionID: "sess-2"})
		case strings.HasSuffix(r.URL.Path, "/cancel"):
			cancelled.Store(true)
			w.WriteHeader(http.StatusOK)
		default:
			json.NewEncoder(w).Encode(sessionStatus{SessionID: "sess-2", Status: domain.StatusRunning})
		}
	}))
	defer srv.Close()

	remote, err := NewRemote(RemoteOptions{BaseURL: srv.URL, PollInterval: 10 * time.Millisecond, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	s := strategyWithEpochs(t, 5)
	_, err = remote.Train(ctx, training.Request{
		Strategy: s,
		Range: domain.TimeRange{
			Start: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC),
		},
	})
	if !kerr.IsKind(err, kerr.KindCancelled) {
		t.Fatalf("expected cancelled error, got %v", err)
	}
	if !cancelled.Load() {
		t.Error("host cancel endpoint was never hit")
	}
}

func TestWorker_RunPersistsSession(t *testing.T) {
	pipeline, rng := seededPipeline(t)
	sessions := memory.NewSessionStore()

	var progressPosts, resultPosts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/progress"):
			progressPosts.Add(1)
		case strings.HasSuffix(r.URL.Path, "/result"):
			resultPosts.Add(1)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	worker, err := NewWorker(WorkerOptions{
		Pipeline: pipeline, Sessions: sessions, ReportURL: srv.URL, Logger: zerolog.Nop(),
	})
	if err != nil {
		t.Fatal(err)
	}

	s := strategyWithEpochs(t, 5)
	snapshot, err := s.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	err = worker.Run(context.Background(), "sess-w1", SubmitRequest{
		StrategyYAML: snapshot, Start: rng.Start, End: rng.End,
	})
	if err != nil {
		t.Fatalf("worker run failed: %v", err)
	}

	sess, err := sessions.Get(context.Background(), "sess-w1")
	if err != nil {
		t.Fatal(err)
	}
	if sess.Status != domain.StatusCompleted {
		t.Errorf("expected completed session, got %q", sess.Status)
	}
	var stored domain.RunResult
	if err := json.Unmarshal(sess.ResultJSON, &stored); err != nil {
		t.Fatalf("stored result must decode: %v", err)
	}
	if stored.SessionID != "sess-w1" || stored.ModelPath == "" {
		t.Errorf("stored result incomplete: %+v", stored)
	}
	if resultPosts.Load() != 1 {
		t.Errorf("expected exactly one result post, got %d", resultPosts.Load())
	}
	if progressPosts.Load() == 0 {
		t.Error("expected throttled progress posts")
	}
}

func TestWorker_StoreCancelMarkStopsRun(t *testing.T) {
	pipeline, rng := seededPipeline(t)
	sessions := memory.NewSessionStore()
	worker, err := NewWorker(WorkerOptions{Pipeline: pipeline, Sessions: sessions, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatal(err)
	}

	s := strategyWithEpochs(t, 10000)
	snapshot, err := s.Snapshot()
	if err != nil {
		t.Fatal(err)
	}

	// Flip the session to cancelled once the run is underway; the
	// worker polls the store from its progress callback.
	go func() {
		for {
			if sess, err := sessions.Get(context.Background(), "sess-w2"); err == nil && sess.Status == domain.StatusRunning {
				_ = sessions.UpdateStatus(context.Background(), "sess-w2", domain.StatusCancelled, sess.Progress)
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	err = worker.Run(context.Background(), "sess-w2", SubmitRequest{
		StrategyYAML: snapshot, Start: rng.Start, End: rng.End,
	})
	if !kerr.IsKind(err, kerr.KindCancelled) {
		t.Fatalf("expected cancelled error, got %v", err)
	}
	sess, err := sessions.Get(context.Background(), "sess-w2")
	if err != nil {
		t.Fatal(err)
	}
	if sess.Status != domain.StatusCancelled {
		t.Errorf("expected cancelled session, got %q", sess.Status)
	}
}
