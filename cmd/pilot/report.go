package main

import (
	"fmt"
	"strings"
	"time"

	"gamepilot/internal/controller"
	"gamepilot/internal/llm"
	"gamepilot/internal/usage"

	"github.com/charmbracelet/lipgloss"
)

// Palette
var (
	primary     = lipgloss.Color("#8BC34A") // Lime Green
	muted       = lipgloss.Color("#2a3850")
	success     = lipgloss.Color("#8BC34A")
	warning     = lipgloss.Color("#FFC107")
	destructive = lipgloss.Color("#e53935")
	info        = lipgloss.Color("#2196F3")
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(primary).Padding(0, 1)
	sectionStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(muted).Padding(0, 1).MarginTop(1)
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(info)
	labelStyle   = lipgloss.NewStyle().Width(24)
	okStyle      = lipgloss.NewStyle().Foreground(success)
	warnStyle    = lipgloss.NewStyle().Foreground(warning)
	errStyle     = lipgloss.NewStyle().Foreground(destructive)
)

// renderReport formats a simulation report for the terminal.
func renderReport(r *report) string {
	title := titleStyle.Render(fmt.Sprintf("gamepilot simulation: %d rounds via %s in %s",
		r.Rounds, r.Provider, r.Elapsed.Round(time.Millisecond)))

	decisions := section("Decisions",
		row("dispatched", fmt.Sprint(r.Dispatched)),
		row("model answers", okStyle.Render(fmt.Sprint(r.LLMDecisions))),
		row("rule-based answers", fallbackStyle(r.FallbackDecisions).Render(fmt.Sprint(r.FallbackDecisions))),
		row("analysis tasks", fmt.Sprint(r.AnalysisTasks)),
	)

	var outcomeRows []string
	for _, o := range outcomeOrder {
		n := r.Outcomes[o]
		style := okStyle
		if o != controller.OutcomeDecided && n > 0 {
			style = errStyle
		}
		outcomeRows = append(outcomeRows, row(string(o), style.Render(fmt.Sprint(n))))
	}
	outcomes := section("Journal outcomes", outcomeRows...)

	b := r.Budget
	pct := 0.0
	if b.Limit > 0 {
		pct = b.Used / b.Limit
	}
	spendStyle := okStyle
	switch {
	case b.Remaining <= 0:
		spendStyle = errStyle
	case b.WarningThreshold > 0 && pct >= b.WarningThreshold:
		spendStyle = warnStyle
	}
	spend := section("Spend",
		row("used", spendStyle.Render(fmt.Sprintf("$%.4f of $%.2f (%.1f%%)", b.Used, b.Limit, pct*100))),
		row("provider / local", fmt.Sprintf("$%.4f / $%.4f", b.ProviderCost, b.LocalCost)),
		row("remaining", fmt.Sprintf("$%.4f", b.Remaining)),
	)

	memory := section("Context",
		row("window", fmt.Sprintf("%d entries, %d tokens", r.Entries, r.Tokens)),
		row("summaries / compactions", fmt.Sprintf("%d / %d", r.Summaries, r.Compactions)),
		row("cached artifacts", fmt.Sprintf("%d (generation %d)", r.Artifacts, r.Generation)),
		row("scheduler", fmt.Sprintf("%d submitted, %d done, %d failed, %d cancelled",
			r.Tasks.Submitted, r.Tasks.Completed, r.Tasks.Failed, r.Tasks.Cancelled)),
	)

	var tierRows []string
	for _, t := range llm.AllTiers {
		tc := r.Usage.ByTier[string(t)]
		tierRows = append(tierRows, row(string(t), fmt.Sprintf("%d calls, %d tokens, $%.4f", tc.Calls, tc.Total, tc.Cost)))
	}
	for _, op := range []string{usage.OperationDecision, usage.OperationAnalysis, usage.OperationSummary} {
		tc := r.Usage.ByOperation[op]
		tierRows = append(tierRows, row(op, fmt.Sprintf("%d calls, %d tokens", tc.Calls, tc.Total)))
	}
	tiers := section("Model usage", tierRows...)

	parts := []string{title, decisions, outcomes, spend, tiers, memory}
	if len(r.Recent) > 0 {
		lines := make([]string, 0, len(r.Recent))
		for _, rec := range r.Recent {
			line := fmt.Sprintf("%-16s %-18s %-8s %-8s %6dms",
				rec.EventType, rec.PromptID, rec.Outcome, decisionLabel(rec), rec.Latency.Milliseconds())
			if rec.Error != "" {
				line += " " + errStyle.Render(rec.Error)
			}
			lines = append(lines, line)
		}
		parts = append(parts, section("Timeline", lines...))
	}
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func section(name string, rows ...string) string {
	body := headerStyle.Render(name) + "\n" + strings.Join(rows, "\n")
	return sectionStyle.Render(body)
}

func row(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), value)
}

func fallbackStyle(n int64) lipgloss.Style {
	if n > 0 {
		return warnStyle
	}
	return okStyle
}
