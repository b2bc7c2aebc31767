package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/brodkin/clack-track-sub011/internal/ai"
	"github.com/brodkin/clack-track-sub011/internal/breaker"
	"github.com/brodkin/clack-track-sub011/internal/config"
	"github.com/brodkin/clack-track-sub011/internal/database"
	"github.com/brodkin/clack-track-sub011/internal/display"
	"github.com/brodkin/clack-track-sub011/internal/generator"
	"github.com/brodkin/clack-track-sub011/internal/history"
	"github.com/brodkin/clack-track-sub011/internal/orchestrator"
	"github.com/brodkin/clack-track-sub011/models"
	"github.com/spf13/cobra"
)

var (
	refreshGenerator string
	refreshMajor     bool
	refreshDryRun    bool
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Generate and push one frame to the display (one-shot)",
	Long: `Runs a single content update: picks a generator (or uses --generator),
calls the AI provider chain if needed, composes a 6x22 frame, and pushes
it to the display.

Respects the same circuits as the daemon: a tripped provider circuit is
skipped, and the MASTER circuit blocks the update entirely.

Use --dry-run to print the frame without touching the display.`,
	RunE: runRefresh,
}

func init() {
	refreshCmd.Flags().StringVar(&refreshGenerator, "generator", "",
		"generator to run (default: next in rotation)")
	refreshCmd.Flags().BoolVar(&refreshMajor, "major", false,
		"re-flap the whole board instead of only changed cells")
	refreshCmd.Flags().BoolVar(&refreshDryRun, "dry-run", false,
		"print the frame without pushing it to the display")
}

func runRefresh(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	db, err := database.New(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	providers, err := ai.NewAll(cfg.AI)
	if err != nil {
		return fmt.Errorf("configuring AI providers: %w", err)
	}
	names := make([]string, 0, len(providers))
	for _, p := range providers {
		if p.Name() != "none" {
			names = append(names, p.Name())
		}
	}

	store := breaker.NewStore(db)
	if err := store.Seed(ctx, breaker.DefaultCircuits(names, cfg.Circuits.FailureThreshold)); err != nil {
		return fmt.Errorf("seeding circuits: %w", err)
	}
	engine := breaker.NewEngine(store, cfg.Circuits, nil)

	var disp orchestrator.Display = display.NewClient(cfg.Display)
	var hist orchestrator.Recorder = history.NewStore(db)
	if refreshDryRun {
		disp = discardDisplay{}
		hist = nil
	}

	orch := orchestrator.New(engine, generator.Default(), providers, disp, hist, cfg.AI, nil)

	updateType := models.UpdateMinor
	if refreshMajor {
		updateType = models.UpdateMajor
	}
	res, err := orch.GenerateAndSend(ctx, orchestrator.Request{
		GeneratorID: refreshGenerator,
		UpdateType:  updateType,
		TriggerName: "cli_refresh",
	})
	if err != nil {
		return err
	}
	if res.Blocked {
		return fmt.Errorf("update blocked: %s", res.BlockReason)
	}

	fmt.Printf("Generator : %s\n", res.GeneratorID)
	if res.Provider != "" {
		fmt.Printf("Provider  : %s\n", res.Provider)
	}
	fmt.Println()
	printFrame(res.Frame)
	if refreshDryRun {
		fmt.Println("\n(dry run: nothing was pushed to the display)")
	}
	return nil
}

func printFrame(f models.Frame) {
	border := "+" + strings.Repeat("-", models.FrameCols) + "+"
	fmt.Println(border)
	for _, row := range f.Rows {
		fmt.Printf("|%-*s|\n", models.FrameCols, row)
	}
	fmt.Println(border)
}

// discardDisplay satisfies the display contract for --dry-run.
type discardDisplay struct{}

func (discardDisplay) SendFrame(context.Context, models.Frame, models.UpdateType) error {
	return nil
}
