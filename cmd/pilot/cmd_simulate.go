package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"gamepilot/internal/config"
	"gamepilot/internal/controller"
	"gamepilot/internal/cost"
	"gamepilot/internal/journal"
	"gamepilot/internal/llm"
	"gamepilot/internal/logging"
	"gamepilot/internal/scheduler"
	"gamepilot/internal/session"
	"gamepilot/internal/types"
	"gamepilot/internal/usage"

	"github.com/spf13/cobra"
)

// simulateCmd plays the scripted match through a full session
var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Play a scripted multi-round game and print a decision report",
	Long: `Runs a deterministic match through the complete pipeline: controller,
complexity scoring, tier selection, fallback, background analysis, context
compression and the decision journal.

With provider "scripted" (the default for simulate) no network calls are
made. Pass --provider anthropic or gemini to spend real tokens.

Examples:
  pilot simulate --rounds 5
  pilot simulate --provider anthropic --rounds 2
  pilot simulate --latency 6s   # force model timeouts and rule-based answers`,
	RunE: runSimulate,
}

var (
	simRounds   int
	simProvider string
	simLatency  time.Duration
	simWatch    bool
	simUsageOut string
)

func init() {
	simulateCmd.Flags().IntVar(&simRounds, "rounds", 4, "Number of rounds to play")
	simulateCmd.Flags().StringVar(&simProvider, "provider", config.ProviderScripted, "LLM provider (scripted, anthropic, gemini)")
	simulateCmd.Flags().DurationVar(&simLatency, "latency", 0, "Simulated model latency for the scripted provider")
	simulateCmd.Flags().BoolVar(&simWatch, "watch", false, "Hot-reload --config while the game runs")
	simulateCmd.Flags().StringVar(&simUsageOut, "usage-out", "", "Write the token usage ledger as JSON to this path")
}

// simOptions are the knobs of one simulated match.
type simOptions struct {
	Rounds   int
	Latency  time.Duration
	Watch    string // config path to watch, empty disables
	UsageOut string // usage ledger path, empty disables
}

func runSimulate(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			logging.Boot("received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
	}()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if simProvider != "" {
		cfg.LLM.Provider = simProvider
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	opts := simOptions{Rounds: simRounds, Latency: simLatency, UsageOut: simUsageOut}
	if simWatch {
		opts.Watch = configPath
	}
	rep, err := runSimulation(ctx, cfg, opts)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderReport(rep))
	return nil
}

// newClient returns the metered client for cfg. The scripted provider gets
// the game-aware scripted player instead of the factory's echo client.
func newClient(ctx context.Context, cfg *config.Config, latency time.Duration) (*llm.MeteredClient, error) {
	if cfg.LLM.Provider != config.ProviderScripted {
		return llm.NewClient(ctx, cfg.LLM)
	}
	scripted := llm.NewScriptedClient(scriptedPlayer)
	scripted.SetDelay(latency)
	return llm.NewMeteredClient(scripted, llm.NewCatalog(cfg.LLM)), nil
}

// runSimulation plays opts.Rounds rounds and gathers the report.
func runSimulation(ctx context.Context, cfg *config.Config, opts simOptions) (*report, error) {
	if opts.Rounds < 1 {
		return nil, fmt.Errorf("rounds must be >= 1, got %d", opts.Rounds)
	}
	if cfg.Controller.PlayerID == "" {
		cfg.Controller.PlayerID = selfID
	}

	client, err := newClient(ctx, cfg, opts.Latency)
	if err != nil {
		return nil, fmt.Errorf("create LLM client: %w", err)
	}
	s, err := session.New(cfg, session.Deps{Client: client, Costs: client})
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	defer func() {
		if err := s.Close(); err != nil {
			logging.SessionWarn("close session: %v", err)
		}
	}()

	if opts.Watch != "" {
		w, err := s.WatchConfig(ctx, opts.Watch)
		if err != nil {
			logging.ConfigWarn("config hot reload disabled: %v", err)
		} else {
			defer w.Stop()
		}
	}

	rep := &report{Provider: cfg.LLM.Provider, Rounds: opts.Rounds}
	start := time.Now()
	for round := 1; round <= opts.Rounds; round++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ids, err := s.BeginRound(scriptedBoard(round))
		if err != nil {
			logging.SessionWarn("round %d analysis: %v", round, err)
		}
		rep.AnalysisTasks += len(ids)

		for _, msg := range scriptedPrompts(round) {
			if s.HandleMessage(ctx, msg) {
				rep.Dispatched++
			}
		}
		if err := s.WaitIdle(ctx); err != nil {
			return nil, fmt.Errorf("round %d: %w", round, err)
		}
	}
	rep.Elapsed = time.Since(start)

	if err := collect(ctx, s, rep); err != nil {
		return nil, err
	}
	if opts.UsageOut != "" {
		if err := s.Usage().Save(opts.UsageOut); err != nil {
			return nil, fmt.Errorf("write usage ledger: %w", err)
		}
	}
	return rep, nil
}

func collect(ctx context.Context, s *session.Session, rep *report) error {
	rep.LLMDecisions, rep.FallbackDecisions = s.Pipeline().Stats()
	rep.Budget = s.Optimizer().Budget()
	rep.Entries, rep.Tokens, rep.Summaries, rep.Compactions = s.Window().Stats()
	rep.Artifacts = s.Generations().Len()
	rep.Generation = s.Generations().CurrentGeneration()
	rep.Tasks = s.Scheduler().Stats()
	rep.Usage = s.Usage().Stats()

	j := s.Journal()
	if j == nil {
		return nil
	}
	outcomes, err := j.Outcomes(ctx)
	if err != nil {
		return fmt.Errorf("read journal outcomes: %w", err)
	}
	rep.Outcomes = outcomes
	recent, err := j.Recent(ctx, rep.Dispatched)
	if err != nil {
		return fmt.Errorf("read journal: %w", err)
	}
	slices.Reverse(recent)
	rep.Recent = recent
	return nil
}

// report is everything `pilot simulate` prints.
type report struct {
	Provider string
	Rounds   int
	Elapsed  time.Duration

	Dispatched        int
	LLMDecisions      int64
	FallbackDecisions int64
	AnalysisTasks     int

	Outcomes map[controller.Outcome]int
	Recent   []journal.Record

	Budget      cost.Budget
	Entries     int
	Tokens      int
	Summaries   int
	Compactions int
	Artifacts   int
	Generation  int
	Tasks       scheduler.Stats
	Usage       usage.AggregatedStats
}

// outcomeOrder fixes the display order of journal outcomes.
var outcomeOrder = []controller.Outcome{
	controller.OutcomeDecided, controller.OutcomeTimeout,
	controller.OutcomeError, controller.OutcomeHandlerMissing,
}

// decisionLabel is used for journal rows without a tier.
func decisionLabel(r journal.Record) string {
	switch {
	case r.Source == types.SourceLLM && r.Model != "":
		return r.Model
	case r.Source != "":
		return r.Source
	}
	return "-"
}
