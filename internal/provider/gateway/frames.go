// Package gateway implements MarketDataProvider against a broker
// gateway speaking JSON frames over a websocket. The wire protocol is
// request/response correlated by req_id, with one server-initiated
// "sync" frame after session establishment.
package gateway

import (
	"encoding/json"
	"time"

	"ktrdr/internal/kerr"
)

// Frame types.
const (
	frameSync     = "sync"
	frameBars     = "bars"
	frameContract = "contract"
	frameStatus   = "status"
	frameError    = "error"
)

// request is a client-to-gateway frame.
type request struct {
	ReqID   uint64          `json:"req_id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// response is a gateway-to-client frame. Error fields are set only
// when Type == "error".
type response struct {
	ReqID     uint64          `json:"req_id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	ErrorCode string          `json:"error_code,omitempty"`
	ErrorMsg  string          `json:"error_msg,omitempty"`
}

// barsRequest asks for historical bars.
type barsRequest struct {
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"timeframe"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
}

// wireBar is one bar on the wire.
type wireBar struct {
	TS     time.Time `json:"ts"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// barsResponse carries the fetched bars.
type barsResponse struct {
	Bars []wireBar `json:"bars"`
}

// contractRequest asks for symbol metadata.
type contractRequest struct {
	Symbol string `json:"symbol"`
}

// contractResponse mirrors provider.ContractDetails.
type contractResponse struct {
	Symbol     string  `json:"symbol"`
	Exchange   string  `json:"exchange"`
	Currency   string  `json:"currency"`
	Calendar   string  `json:"calendar"`
	MinTick    float64 `json:"min_tick"`
	Multiplier float64 `json:"multiplier"`
}

// statusResponse reports gateway-side session health.
type statusResponse struct {
	Connected bool `json:"connected"`
}

// Gateway error codes mapped onto the core taxonomy.
const (
	codePacing     = "pacing"
	codeNoData     = "no_data"
	codeContract   = "unknown_contract"
	codeDisconnect = "disconnected"
)

// classify maps a gateway error frame onto a kerr kind.
func classify(code, msg string) error {
	switch code {
	case codePacing:
		return kerr.Newf(kerr.KindRateLimited, "gateway pacing violation: %s", msg)
	case codeNoData:
		return kerr.Newf(kerr.KindNoData, "gateway returned no data: %s", msg)
	case codeContract:
		return kerr.Newf(kerr.KindContract, "gateway rejected contract: %s", msg)
	case codeDisconnect:
		return kerr.Newf(kerr.KindConnLost, "gateway session dropped: %s", msg)
	default:
		return kerr.Newf(kerr.KindConnLost, "gateway error %s: %s", code, msg)
	}
}
