// Package stub provides a scriptable MarketDataProvider for tests.
package stub

import (
	"context"
	"sync"

	"ktrdr/internal/domain"
	"ktrdr/internal/kerr"
	"ktrdr/internal/provider"
)

// call records one FetchBars invocation for assertions.
type call struct {
	Key domain.SeriesKey
	Rng domain.TimeRange
}

// Provider is an in-memory MarketDataProvider. Bars are scripted per
// series; FetchBars returns the scripted bars inside the requested
// range. Errors can be queued to fire before data is served.
type Provider struct {
	mu        sync.Mutex
	bars      map[domain.SeriesKey][]domain.Bar
	contracts map[string]provider.ContractDetails
	errQueue  []error
	calls     []call
	connected bool
}

// New creates an empty stub provider.
func New() *Provider {
	return &Provider{
		bars:      make(map[domain.SeriesKey][]domain.Bar),
		contracts: make(map[string]provider.ContractDetails),
	}
}

// Compile-time interface check.
var _ provider.MarketDataProvider = (*Provider)(nil)

// Script sets the bars the provider will serve for a series.
func (p *Provider) Script(key domain.SeriesKey, bars []domain.Bar) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bars[key] = bars
}

// ScriptContract sets contract metadata for a symbol.
func (p *Provider) ScriptContract(symbol string, d provider.ContractDetails) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.contracts[symbol] = d
}

// QueueError makes the next FetchBars calls fail in order with the
// given errors before data is served again.
func (p *Provider) QueueError(errs ...error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errQueue = append(p.errQueue, errs...)
}

// Calls returns the recorded FetchBars invocations.
func (p *Provider) Calls() []call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]call(nil), p.calls...)
}

// Connect marks the session up.
func (p *Provider) Connect(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = true
	return nil
}

// Disconnect marks the session down.
func (p *Provider) Disconnect(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = false
	return nil
}

// Status reports the scripted session state.
func (p *Provider) Status(_ context.Context) (provider.ConnectionStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.connected {
		return provider.StatusConnected, nil
	}
	return provider.StatusDisconnected, nil
}

// FetchBars serves scripted bars inside the requested range.
func (p *Provider) FetchBars(_ context.Context, key domain.SeriesKey, rng domain.TimeRange) ([]domain.Bar, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls = append(p.calls, call{Key: key, Rng: rng})

	if len(p.errQueue) > 0 {
		err := p.errQueue[0]
		p.errQueue = p.errQueue[1:]
		return nil, err
	}

	var out []domain.Bar
	for _, b := range p.bars[key] {
		if rng.Contains(b.TS) {
			out = append(out, b)
		}
	}
	if len(out) == 0 {
		return nil, kerr.Newf(kerr.KindNoData, "no scripted bars for %s", key).
			With("series", key.String())
	}
	return out, nil
}

// ContractDetails returns scripted metadata, defaulting to a 24x7
// contract when the symbol was not scripted.
func (p *Provider) ContractDetails(_ context.Context, symbol string) (provider.ContractDetails, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if d, ok := p.contracts[symbol]; ok {
		return d, nil
	}
	return provider.ContractDetails{Symbol: symbol, Calendar: "24x7", Currency: "USD"}, nil
}
