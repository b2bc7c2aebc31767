package cmd

import (
	"context"
	"fmt"

	"github.com/brodkin/clack-track-sub011/internal/breaker"
	"github.com/brodkin/clack-track-sub011/internal/config"
	"github.com/brodkin/clack-track-sub011/internal/database"
	"github.com/brodkin/clack-track-sub011/internal/history"
	"github.com/brodkin/clack-track-sub011/internal/tui"
	"github.com/spf13/cobra"
)

var uiCmd = &cobra.Command{
	Use:   "ui",
	Short: "Launch the terminal dashboard",
	Long:  `Opens the interactive terminal UI for watching circuits, flipping the master and sleep switches, and voting on recent content.`,
	RunE:  runUI,
}

func runUI(cmd *cobra.Command, args []string) error {
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

	engine := breaker.NewEngine(breaker.NewStore(db), cfg.Circuits, nil)
	app := tui.NewApp(cfg, engine, history.NewStore(db))
	return app.Run()
}
