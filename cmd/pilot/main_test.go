package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gamepilot/internal/config"
	"gamepilot/internal/controller"
	"gamepilot/internal/llm"
	"gamepilot/internal/usage"

	"github.com/spf13/cobra"
)

func TestScriptedPlayer(t *testing.T) {
	tests := []struct {
		name   string
		system string
		user   string
		want   string
	}{
		{"attack when legal", "decision", "State: x\nEvent: turn_action (reply shape: action)\nLegal actions: play, attack, pass\n", `"action":"attack"`},
		{"pass otherwise", "decision", "Event: turn_action (reply shape: action)\nLegal actions: play, pass\n", `"action":"pass"`},
		{"first option", "decision", "Event: choice_block (reply shape: choice)\nPick 1 to 1 of:\n  s1: Squire\n  none: No block\n", `"selected":["s1"]`},
		{"mulligan", "decision", "Event: mulligan (reply shape: mulligan)\n", `"return":[]`},
		{"analysis", "You are a card game analyst.", "State: x", "Board is even"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := scriptedPlayer(tt.system, tt.user, llm.Options{})
			if err != nil {
				t.Fatalf("scriptedPlayer returned error: %v", err)
			}
			if !strings.Contains(got, tt.want) {
				t.Fatalf("expected %s in %s", tt.want, got)
			}
		})
	}
}

func TestScriptedPrompts(t *testing.T) {
	if n := len(scriptedPrompts(1)); n != 3 {
		t.Fatalf("round 1: expected 3 prompts, got %d", n)
	}
	for _, msg := range scriptedPrompts(2) {
		if msg.Type == "mulligan" {
			t.Fatal("mulligan after round 1")
		}
	}
	if len(scriptedBoard(4).Opponent.Field) <= len(scriptedBoard(1).Opponent.Field) {
		t.Fatal("expected opponent board to grow")
	}
}

func simConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.LLM.Provider = config.ProviderScripted
	cfg.LLM.APIKey = ""
	return cfg
}

func TestRunSimulation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	usageOut := filepath.Join(t.TempDir(), "usage.json")
	rep, err := runSimulation(ctx, simConfig(), simOptions{Rounds: 3, UsageOut: usageOut})
	if err != nil {
		t.Fatalf("runSimulation failed: %v", err)
	}

	if rep.Dispatched != 9 {
		t.Fatalf("expected 9 dispatched prompts, got %d", rep.Dispatched)
	}
	if got := rep.Outcomes[controller.OutcomeDecided]; got != 9 {
		t.Fatalf("expected 9 decided outcomes, got %d (%v)", got, rep.Outcomes)
	}
	if rep.LLMDecisions != 9 || rep.FallbackDecisions != 0 {
		t.Fatalf("expected 9 model answers, got llm=%d fallback=%d", rep.LLMDecisions, rep.FallbackDecisions)
	}
	// 4 categories in round 1, then only the board read each round.
	if rep.AnalysisTasks != 6 {
		t.Fatalf("expected 6 analysis tasks, got %d", rep.AnalysisTasks)
	}
	if rep.Artifacts != 4 {
		t.Fatalf("expected 4 cached artifacts, got %d", rep.Artifacts)
	}
	if rep.Budget.ProviderCost <= 0 {
		t.Fatal("expected provider spend to be recorded")
	}
	if len(rep.Recent) != 9 || rep.Recent[0].EventType != "mulligan" {
		t.Fatalf("expected chronological timeline starting with mulligan, got %d rows", len(rep.Recent))
	}

	if got := rep.Usage.ByOperation[usage.OperationAnalysis].Calls; got != 6 {
		t.Fatalf("expected 6 analysis calls in the ledger, got %d", got)
	}
	ledger, err := usage.Load(usageOut)
	if err != nil {
		t.Fatalf("load usage ledger: %v", err)
	}
	if ledger.Aggregate.TotalGame.Calls != rep.Usage.TotalGame.Calls {
		t.Fatalf("ledger calls %d, report calls %d", ledger.Aggregate.TotalGame.Calls, rep.Usage.TotalGame.Calls)
	}

	out := renderReport(rep)
	for _, want := range []string{"Decisions", "Journal outcomes", "decided", "Spend", "Model usage", "Context", "Timeline"} {
		if !strings.Contains(out, want) {
			t.Fatalf("report missing %q:\n%s", want, out)
		}
	}
}

func TestRunSimulation_SlowModelFallsBack(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg := simConfig()
	cfg.Controller.ChoiceTimeout = "300ms"
	cfg.Controller.ActionTimeout = "200ms"
	cfg.Inference.DefaultTimeout = "100ms"

	rep, err := runSimulation(ctx, cfg, simOptions{Rounds: 1, Latency: time.Second})
	if err != nil {
		t.Fatalf("runSimulation failed: %v", err)
	}
	if rep.FallbackDecisions != int64(rep.Dispatched) {
		t.Fatalf("expected every answer to be rule-based, got llm=%d fallback=%d", rep.LLMDecisions, rep.FallbackDecisions)
	}
	if got := rep.Outcomes[controller.OutcomeDecided]; got != rep.Dispatched {
		t.Fatalf("fallback answers should still be decided, got %v", rep.Outcomes)
	}
	if rep.Artifacts != 0 {
		t.Fatalf("timed out analysis should not be cached, got %d", rep.Artifacts)
	}
}

func TestRunSimulation_RejectsZeroRounds(t *testing.T) {
	if _, err := runSimulation(context.Background(), simConfig(), simOptions{}); err == nil {
		t.Fatal("expected error for zero rounds")
	}
}

func TestConfigCommands(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")
	configPath = filepath.Join(t.TempDir(), "gamepilot.yaml")
	defer func() { configPath = "gamepilot.yaml" }()

	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)

	if err := runConfigInit(cmd, nil); err != nil {
		t.Fatalf("config init failed: %v", err)
	}
	if !strings.Contains(out.String(), "wrote default config") {
		t.Fatalf("unexpected init output: %s", out.String())
	}

	out.Reset()
	if err := runConfigInit(cmd, nil); err != nil {
		t.Fatalf("second init failed: %v", err)
	}
	if !strings.Contains(out.String(), "already exists") {
		t.Fatalf("expected existing-file notice, got: %s", out.String())
	}

	// Defaults target a real provider, so a key is required.
	if err := runConfigValidate(cmd, nil); err == nil || !strings.Contains(err.Error(), "API key") {
		t.Fatalf("expected missing key error, got %v", err)
	}

	if err := simConfig().Save(configPath); err != nil {
		t.Fatalf("save: %v", err)
	}
	out.Reset()
	if err := runConfigValidate(cmd, nil); err != nil {
		t.Fatalf("validate scripted config: %v", err)
	}
	if !strings.Contains(out.String(), "is valid") {
		t.Fatalf("unexpected validate output: %s", out.String())
	}
}

func TestConfigShowMasksKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "sk-very-secret")
	configPath = filepath.Join(t.TempDir(), "missing.yaml")
	defer func() { configPath = "gamepilot.yaml" }()

	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	if err := runConfigShow(cmd, nil); err != nil {
		t.Fatalf("config show failed: %v", err)
	}
	if strings.Contains(out.String(), "sk-very-secret") {
		t.Fatal("API key leaked in config show")
	}
	if !strings.Contains(out.String(), "api_key: '***'") && !strings.Contains(out.String(), `api_key: "***"`) {
		t.Fatalf("expected masked key, got:\n%s", out.String())
	}
}
