package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"ktrdr/internal/config"
	"ktrdr/internal/data"
	"ktrdr/internal/domain"
	"ktrdr/internal/kerr"
	"ktrdr/internal/training"
)

// Training-host API payloads. The host runs a Worker against the same
// pipeline, so results relay verbatim between the two shells.
type SubmitRequest struct {
	StrategyYAML []byte    `json:"strategy_yaml"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
	Mode         string    `json:"mode"`
}

type submitResponse struct {
	SessionID string `json:"session_id"`
}

type sessionStatus struct {
	SessionID string  `json:"session_id"`
	Status    string  `json:"status"`
	Progress  float64 `json:"progress"`
}

// defaultPollInterval keeps remote cancel latency within roughly two
// seconds.
const defaultPollInterval = 2 * time.Second

// Remote drives a training run on a remote host over HTTP: submit,
// poll, fetch the result, cancel.
type Remote struct {
	base     string
	client   *http.Client
	interval time.Duration
	log      zerolog.Logger
}

// RemoteOptions configures a Remote orchestrator.
type RemoteOptions struct {
	// BaseURL is the training-host endpoint, e.g. http://host:5002.
	BaseURL string
	Client  *http.Client
	// PollInterval between status requests. Default 2s.
	PollInterval time.Duration
	Logger       zerolog.Logger
}

// NewRemote creates a remote orchestrator client.
func NewRemote(opts RemoteOptions) (*Remote, error) {
	if opts.BaseURL == "" {
		return nil, kerr.New(kerr.KindConfig, "remote orchestrator requires a base URL")
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	return &Remote{base: opts.BaseURL, client: opts.Client, interval: opts.PollInterval, log: opts.Logger}, nil
}

// Submit registers a run on the host and returns its session ID.
func (o *Remote) Submit(ctx context.Context, req training.Request) (string, error) {
	if req.Strategy == nil {
		return "", kerr.New(kerr.KindConfig, "submit: strategy is required")
	}
	snapshot, err := req.Strategy.Snapshot()
	if err != nil {
		return "", kerr.Wrap(kerr.KindConfig, "submit: snapshot strategy", err)
	}
	payload := SubmitRequest{
		StrategyYAML: snapshot,
		Start:        req.Range.Start,
		End:          req.Range.End,
		Mode:         string(req.Mode),
	}
	var resp submitResponse
	if err := o.post(ctx, o.base+"/trainings", payload, &resp); err != nil {
		return "", err
	}
	if resp.SessionID == "" {
		return "", kerr.New(kerr.KindConnLost, "submit: host returned no session id")
	}
	return resp.SessionID, nil
}

// Poll fetches the current session status and progress fraction.
func (o *Remote) Poll(ctx context.Context, sessionID string) (string, float64, error) {
	var status sessionStatus
	err := o.get(ctx, fmt.Sprintf("%s/trainings/%s", o.base, sessionID), &status)
	return status.Status, status.Progress, err
}

// Result fetches the final run record. The host stores the pipeline's
// result verbatim; nothing is recomputed on this side.
func (o *Remote) Result(ctx context.Context, sessionID string) (domain.RunResult, error) {
	var result domain.RunResult
	err := o.get(ctx, fmt.Sprintf("%s/trainings/%s/result", o.base, sessionID), &result)
	if err != nil {
		return domain.RunResult{}, err
	}
	if result.SessionID == "" {
		result.SessionID = sessionID
	}
	return result, nil
}

// Cancel asks the host to stop a running session.
func (o *Remote) Cancel(ctx context.Context, sessionID string) error {
	return o.post(ctx, fmt.Sprintf("%s/trainings/%s/cancel", o.base, sessionID), struct{}{}, nil)
}

// Train submits and polls until the session reaches a terminal status,
// then relays the host's result.
func (o *Remote) Train(ctx context.Context, req training.Request) (domain.RunResult, error) {
	sessionID, err := o.Submit(ctx, req)
	if err != nil {
		return domain.RunResult{}, err
	}
	o.log.Info().Str("session_id", sessionID).Msg("remote training submitted")

	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			// Best effort: tell the host before giving up.
			cancelCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = o.Cancel(cancelCtx, sessionID)
			cancel()
			return domain.RunResult{}, kerr.Wrap(kerr.KindCancelled, "remote training interrupted", ctx.Err()).
				With("session_id", sessionID)
		case <-ticker.C:
			status, _, err := o.Poll(ctx, sessionID)
			if err != nil {
				return domain.RunResult{}, err
			}
			switch status {
			case domain.StatusCompleted, domain.StatusFailed, domain.StatusCancelled:
				result, err := o.Result(ctx, sessionID)
				if err != nil {
					return domain.RunResult{}, err
				}
				if result.Status == "" {
					result.Status = status
				}
				return result, nil
			}
		}
	}
}

func (o *Remote) post(ctx context.Context, url string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return kerr.Wrap(kerr.KindConfig, "encode request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return kerr.Wrap(kerr.KindConfig, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return o.do(req, out)
}

func (o *Remote) get(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return kerr.Wrap(kerr.KindConfig, "build request", err)
	}
	return o.do(req, out)
}

func (o *Remote) do(req *http.Request, out any) error {
	resp, err := o.client.Do(req)
	if err != nil {
		return kerr.Wrap(kerr.KindConnLost, "training host unreachable", err).With("url", req.URL.String())
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return kerr.Wrap(kerr.KindConnLost, "read host response", err)
	}
	if resp.StatusCode/100 != 2 {
		return kerr.Newf(kerr.KindConnLost, "training host returned %d: %s", resp.StatusCode, truncate(body, 200)).
			With("url", req.URL.String())
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return kerr.Wrap(kerr.KindConnLost, "decode host response", err)
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// requestFromSubmit rebuilds a training request from the wire payload;
// the Worker uses it on the host side.
func requestFromSubmit(raw SubmitRequest) (training.Request, error) {
	s, err := config.Parse(raw.StrategyYAML)
	if err != nil {
		return training.Request{}, err
	}
	return training.Request{
		Strategy: s,
		Range:    domain.TimeRange{Start: raw.Start, End: raw.End},
		Mode:     data.Mode(raw.Mode),
	}, nil
}
