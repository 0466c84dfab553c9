package session

import (
	"context"

	"gamepilot/internal/cost"
	"gamepilot/internal/llm"
)

// spendRecorder prices every successful reply and books it as local spend.
// Sessions without a provider cost accessor send all model traffic through
// it, so decisions, analysis and summaries are all charged to the budget.
type spendRecorder struct {
	inner     llm.Client
	catalog   *llm.Catalog
	optimizer *cost.Optimizer
}

func (r *spendRecorder) Send(ctx context.Context, systemPrompt, userMessage string, opts llm.Options) (*llm.Response, error) {
	resp, err := r.inner.Send(ctx, systemPrompt, userMessage, opts)
	if err != nil {
		return nil, err
	}
	if resp.Cost == 0 {
		resp.Cost = r.catalog.CostForModel(opts.Model, resp.InputTokens, resp.OutputTokens)
	}
	r.optimizer.RecordUsage(resp.Cost)
	return resp, nil
}
