package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"ktrdr/internal/domain"
	"ktrdr/internal/kerr"
	"ktrdr/internal/provider"
)

// Config configures the gateway client.
type Config struct {
	// Endpoint is the websocket URL of the broker gateway.
	Endpoint string
	// ClientID identifies this session to the gateway.
	ClientID int
	// SyncGrace is the minimum wait after the sync frame before the
	// first data request. Never below provider.SyncGrace.
	SyncGrace time.Duration
	// WriteTimeout bounds frame writes.
	WriteTimeout time.Duration
	Logger       zerolog.Logger
}

// DefaultConfig returns the default gateway configuration.
func DefaultConfig(endpoint string) Config {
	return Config{
		Endpoint:     endpoint,
		ClientID:     1,
		SyncGrace:    provider.SyncGrace,
		WriteTimeout: 10 * time.Second,
		Logger:       zerolog.Nop(),
	}
}

// Client implements provider.MarketDataProvider over a websocket.
type Client struct {
	cfg Config
	log zerolog.Logger

	connMu sync.Mutex
	conn   *websocket.Conn

	reqID   atomic.Uint64
	pending map[uint64]chan response
	pendMu  sync.Mutex

	connected atomic.Bool
	done      chan struct{}
	wg        sync.WaitGroup
}

// New creates an unconnected gateway client.
func New(cfg Config) *Client {
	if cfg.SyncGrace < provider.SyncGrace {
		cfg.SyncGrace = provider.SyncGrace
	}
	return &Client{
		cfg:     cfg,
		log:     cfg.Logger,
		pending: make(map[uint64]chan response),
	}
}

// Compile-time interface check.
var _ provider.MarketDataProvider = (*Client)(nil)

// Connect dials the gateway, waits for the sync frame plus the grace
// period, and starts the read pump. Client-ID conflicts are retried at
// most provider.MaxConnectAttempts times with 1–2s spacing; exhausting
// them fails fast with ConnectionLost.
func (c *Client) Connect(ctx context.Context) error {
	if c.connected.Load() {
		return nil
	}

	var lastErr error
	for attempt := 0; attempt < provider.MaxConnectAttempts; attempt++ {
		if attempt > 0 {
			spacing := time.Second + time.Duration(rand.Int63n(int64(time.Second)))
			select {
			case <-ctx.Done():
				return kerr.Wrap(kerr.KindCancelled, "connect interrupted", ctx.Err())
			case <-time.After(spacing):
			}
		}
		if err := c.connectOnce(ctx); err != nil {
			lastErr = err
			c.log.Warn().Err(err).Int("attempt", attempt+1).Msg("gateway connect failed")
			continue
		}
		return nil
	}
	return kerr.Wrap(kerr.KindConnLost,
		fmt.Sprintf("gateway connect exhausted %d attempts", provider.MaxConnectAttempts), lastErr)
}

// connectOnce performs a single dial + sync handshake.
func (c *Client) connectOnce(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	endpoint := fmt.Sprintf("%s?client_id=%d", c.cfg.Endpoint, c.cfg.ClientID)

	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	// The gateway sends a sync frame once its session state is ready.
	syncDeadline := time.Now().Add(30 * time.Second)
	_ = conn.SetReadDeadline(syncDeadline)
	var resp response
	if err := conn.ReadJSON(&resp); err != nil {
		conn.Close()
		return fmt.Errorf("await sync frame: %w", err)
	}
	if resp.Type != frameSync {
		conn.Close()
		return fmt.Errorf("expected sync frame, got %q", resp.Type)
	}
	_ = conn.SetReadDeadline(time.Time{})

	// Minimum grace after synchronization before the first request.
	select {
	case <-ctx.Done():
		conn.Close()
		return ctx.Err()
	case <-time.After(c.cfg.SyncGrace):
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	c.done = make(chan struct{})
	c.connected.Store(true)

	c.wg.Add(1)
	go c.readLoop()

	c.log.Info().Str("endpoint", c.cfg.Endpoint).Int("client_id", c.cfg.ClientID).
		Msg("gateway session established")
	return nil
}

// Disconnect closes the session.
func (c *Client) Disconnect(_ context.Context) error {
	if !c.connected.CompareAndSwap(true, false) {
		return nil
	}
	close(c.done)

	c.connMu.Lock()
	conn := c.conn
	c.conn = nil
	c.connMu.Unlock()
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	}
	c.wg.Wait()
	c.failPending(kerr.New(kerr.KindConnLost, "client disconnected"))
	return nil
}

// Status performs a light status round trip (5s budget). No bar data
// moves on this path.
func (c *Client) Status(ctx context.Context) (provider.ConnectionStatus, error) {
	if !c.connected.Load() {
		return provider.StatusDisconnected, nil
	}
	ctx, cancel := context.WithTimeout(ctx, provider.StatusRequestTimeout)
	defer cancel()

	resp, err := c.roundTrip(ctx, frameStatus, nil)
	if err != nil {
		return provider.StatusDisconnected, err
	}
	var st statusResponse
	if err := json.Unmarshal(resp.Payload, &st); err != nil {
		return provider.StatusDisconnected, fmt.Errorf("decode status payload: %w", err)
	}
	if !st.Connected {
		return provider.StatusDisconnected, nil
	}
	return provider.StatusConnected, nil
}

// FetchBars requests bars for the range under the 30s bar budget.
func (c *Client) FetchBars(ctx context.Context, key domain.SeriesKey, rng domain.TimeRange) ([]domain.Bar, error) {
	if err := rng.Validate(); err != nil {
		return nil, kerr.Wrap(kerr.KindConfig, "invalid fetch range", err)
	}
	ctx, cancel := context.WithTimeout(ctx, provider.BarRequestTimeout)
	defer cancel()

	payload, err := json.Marshal(barsRequest{
		Symbol:    key.Symbol,
		Timeframe: string(key.Timeframe),
		Start:     rng.Start,
		End:       rng.End,
	})
	if err != nil {
		return nil, fmt.Errorf("encode bars request: %w", err)
	}

	resp, err := c.roundTrip(ctx, frameBars, payload)
	if err != nil {
		return nil, err
	}

	var body barsResponse
	if err := json.Unmarshal(resp.Payload, &body); err != nil {
		return nil, fmt.Errorf("decode bars payload: %w", err)
	}
	if len(body.Bars) == 0 {
		return nil, kerr.Newf(kerr.KindNoData, "empty bars for %s", key).With("series", key.String())
	}

	bars := make([]domain.Bar, len(body.Bars))
	for i, wb := range body.Bars {
		bars[i] = domain.Bar{
			TS: wb.TS.UTC(), Open: wb.Open, High: wb.High, Low: wb.Low,
			Close: wb.Close, Volume: wb.Volume, Source: domain.SourceBroker,
		}
	}
	return bars, nil
}

// ContractDetails requests symbol metadata.
func (c *Client) ContractDetails(ctx context.Context, symbol string) (provider.ContractDetails, error) {
	ctx, cancel := context.WithTimeout(ctx, provider.BarRequestTimeout)
	defer cancel()

	payload, err := json.Marshal(contractRequest{Symbol: symbol})
	if err != nil {
		return provider.ContractDetails{}, fmt.Errorf("encode contract request: %w", err)
	}
	resp, err := c.roundTrip(ctx, frameContract, payload)
	if err != nil {
		return provider.ContractDetails{}, err
	}

	var body contractResponse
	if err := json.Unmarshal(resp.Payload, &body); err != nil {
		return provider.ContractDetails{}, fmt.Errorf("decode contract payload: %w", err)
	}
	return provider.ContractDetails{
		Symbol: body.Symbol, Exchange: body.Exchange, Currency: body.Currency,
		Calendar: body.Calendar, MinTick: body.MinTick, Multiplier: body.Multiplier,
	}, nil
}

// roundTrip sends one frame and waits for its correlated response.
func (c *Client) roundTrip(ctx context.Context, frameType string, payload json.RawMessage) (response, error) {
	if !c.connected.Load() {
		return response{}, kerr.New(kerr.KindConnLost, "gateway not connected")
	}

	id := c.reqID.Add(1)
	ch := make(chan response, 1)
	c.pendMu.Lock()
	c.pending[id] = ch
	c.pendMu.Unlock()
	defer func() {
		c.pendMu.Lock()
		delete(c.pending, id)
		c.pendMu.Unlock()
	}()

	c.connMu.Lock()
	conn := c.conn
	if conn != nil {
		_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
		if err := conn.WriteJSON(request{ReqID: id, Type: frameType, Payload: payload}); err != nil {
			c.connMu.Unlock()
			return response{}, kerr.Wrap(kerr.KindConnLost, "write frame", err)
		}
	}
	c.connMu.Unlock()
	if conn == nil {
		return response{}, kerr.New(kerr.KindConnLost, "gateway not connected")
	}

	select {
	case <-ctx.Done():
		return response{}, kerr.Wrap(kerr.KindConnLost, "request timed out", ctx.Err())
	case resp, ok := <-ch:
		if !ok {
			return response{}, kerr.New(kerr.KindConnLost, "session closed mid-request")
		}
		if resp.Type == frameError {
			return response{}, classify(resp.ErrorCode, resp.ErrorMsg)
		}
		return resp, nil
	}
}

// readLoop dispatches incoming frames to their waiting requests.
func (c *Client) readLoop() {
	defer c.wg.Done()

	for {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()
		if conn == nil {
			return
		}

		var resp response
		if err := conn.ReadJSON(&resp); err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			c.log.Warn().Err(err).Msg("gateway read failed, dropping session")
			c.connected.Store(false)
			c.failPending(kerr.Wrap(kerr.KindConnLost, "gateway session dropped", err))
			return
		}

		if resp.Type == frameSync {
			continue // late re-sync notifications carry no request id
		}

		c.pendMu.Lock()
		ch, ok := c.pending[resp.ReqID]
		c.pendMu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

// failPending unblocks all in-flight requests with err.
func (c *Client) failPending(err error) {
	c.pendMu.Lock()
	defer c.pendMu.Unlock()
	for id, ch := range c.pending {
		select {
		case ch <- response{Type: frameError, ErrorCode: codeDisconnect, ErrorMsg: err.Error()}:
		default:
		}
		delete(c.pending, id)
	}
}
