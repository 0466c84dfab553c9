package llm

import (
	"context"
	"math"
	"sync/atomic"
)

// MeteredClient wraps a Client, prices every response with the catalog and
// accumulates the provider-side running cost.
type MeteredClient struct {
	inner   Client
	catalog *Catalog

	// micro-dollars, so concurrent adds stay exact
	totalMicros atomic.Int64
	calls       atomic.Int64
	failures    atomic.Int64
}

// NewMeteredClient wraps inner.
func NewMeteredClient(inner Client, catalog *Catalog) *MeteredClient {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &MeteredClient{inner: inner, catalog: catalog}
}

// Send forwards to the wrapped client and records the call's cost.
func (m *MeteredClient) Send(ctx context.Context, systemPrompt, userMessage string, opts Options) (*Response, error) {
	m.calls.Add(1)
	resp, err := m.inner.Send(ctx, systemPrompt, userMessage, opts)
	if err != nil {
		m.failures.Add(1)
		return nil, err
	}
	if resp.Cost == 0 {
		resp.Cost = m.catalog.CostForModel(opts.Model, resp.InputTokens, resp.OutputTokens)
	}
	m.totalMicros.Add(int64(math.Round(resp.Cost * 1e6)))
	return resp, nil
}

// TotalCost returns the accumulated cost in USD.
func (m *MeteredClient) TotalCost() float64 {
	return float64(m.totalMicros.Load()) / 1e6
}

// ResetTotalCost zeroes the accumulated cost.
func (m *MeteredClient) ResetTotalCost() {
	m.totalMicros.Store(0)
}

// Calls returns the number of Send calls and how many failed.
func (m *MeteredClient) Calls() (total, failed int64) {
	return m.calls.Load(), m.failures.Load()
}

// Catalog returns the pricing catalog.
func (m *MeteredClient) Catalog() *Catalog {
	return m.catalog
}
