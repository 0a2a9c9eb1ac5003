// Package provider defines the upstream broker boundary. The core
// never talks to a broker directly; everything flows through the
// MarketDataProvider interface under the pacing discipline enforced
// here.
package provider

import (
	"context"
	"time"

	"ktrdr/internal/domain"
)

// ConnectionStatus reports provider session health.
type ConnectionStatus string

// Connection statuses.
const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
)

// ContractDetails is broker metadata for a symbol.
type ContractDetails struct {
	Symbol     string
	Exchange   string
	Currency   string
	Calendar   string // trading-calendar identifier, e.g. "24x7", "us_equity"
	MinTick    float64
	Multiplier float64
}

// MarketDataProvider fetches historical bars from an upstream broker.
// Implementations must honor pacing: bound in-flight requests, back off
// with full jitter on pacing violations, and keep health checks light.
type MarketDataProvider interface {
	// Connect establishes a session. It must not return before the
	// provider's synchronization-complete signal plus the minimum grace
	// period; requests issued earlier would race the session setup.
	Connect(ctx context.Context) error

	// Disconnect tears the session down.
	Disconnect(ctx context.Context) error

	// Status is a light health check (5s budget); it must not issue
	// heavy calls upstream.
	Status(ctx context.Context) (ConnectionStatus, error)

	// FetchBars returns bars for [rng.Start, rng.End] in ascending ts.
	// An empty valid range yields a NoData error, not an empty slice,
	// so callers can record the remaining gap.
	FetchBars(ctx context.Context, key domain.SeriesKey, rng domain.TimeRange) ([]domain.Bar, error)

	// ContractDetails returns symbol metadata.
	ContractDetails(ctx context.Context, symbol string) (ContractDetails, error)
}

// Request budget defaults imposed on implementations.
const (
	BarRequestTimeout    = 30 * time.Second
	StatusRequestTimeout = 5 * time.Second
	SyncGrace            = 2 * time.Second
	MaxConnectAttempts   = 3
)
