package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/brodkin/clack-track-sub011/internal/ai"
	"github.com/brodkin/clack-track-sub011/internal/config"
	"github.com/brodkin/clack-track-sub011/internal/database"
	"github.com/brodkin/clack-track-sub011/internal/display"
	"github.com/brodkin/clack-track-sub011/internal/hass"
	"github.com/brodkin/clack-track-sub011/internal/trigger"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var successStyle = lipgloss.NewStyle().
	Foreground(lipgloss.Color("#10B981"))

var warnStyle = lipgloss.NewStyle().
	Foreground(lipgloss.Color("#F59E0B"))

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Verify database, display, and provider health",
	Long: `Checks that the database can be reached, the split-flap display answers,
Home Assistant accepts the configured token, the AI providers respond,
and the trigger rule file parses.`,
	RunE: runDoctor,
}

func runDoctor(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	allOK := true

	fmt.Println("=== clacktrack doctor ===")
	fmt.Println()

	// Check database
	fmt.Print("Database ................. ")
	db, err := database.New(cfg.Database)
	if err != nil {
		fmt.Printf("FAIL (%s)\n", err)
		allOK = false
	} else {
		if err := db.Ping(ctx); err != nil {
			fmt.Printf("FAIL (%s)\n", err)
			allOK = false
		} else {
			fmt.Printf("OK (%s: %s)\n", db.Driver(), cfg.Database.Path)
		}
		db.Close()
	}

	// Check display
	fmt.Print("Display .................. ")
	switch {
	case cfg.Display.URL == "":
		fmt.Println("WARN (no display URL configured)")
		allOK = false
	case !display.NewClient(cfg.Display).Ping(ctx):
		fmt.Printf("FAIL (%s not answering)\n", cfg.Display.URL)
		allOK = false
	default:
		fmt.Printf("OK (%s)\n", cfg.Display.URL)
	}

	// Check Home Assistant
	fmt.Print("Home Assistant ........... ")
	switch {
	case cfg.HomeAssistant.URL == "":
		fmt.Println("disabled (no URL configured — schedules and API refresh still work)")
	case cfg.HomeAssistant.Token == "":
		fmt.Println("WARN (URL set but token missing)")
		allOK = false
	default:
		if err := hass.Ping(ctx, cfg.HomeAssistant); err != nil {
			fmt.Printf("FAIL (%s)\n", err)
			allOK = false
		} else {
			fmt.Printf("OK (%s)\n", cfg.HomeAssistant.URL)
		}
	}

	// Check AI providers
	fmt.Println()
	fmt.Println("AI providers:")
	providers, err := ai.NewAll(cfg.AI)
	if err != nil {
		fmt.Printf("  FAIL (%s)\n", err)
		allOK = false
	} else {
		for _, p := range providers {
			if p.Name() == "none" {
				fmt.Println("  none           ... disabled (art generators only)")
				continue
			}
			fmt.Printf("  %-14s ... ", p.Name())
			if p.IsAvailable(ctx) {
				fmt.Println("OK")
			} else {
				fmt.Println("FAIL (not reachable or key rejected)")
				allOK = false
			}
		}
	}

	// Check trigger rules
	fmt.Print("\nTrigger rules ............ ")
	if cfg.Triggers.Path == "" {
		fmt.Println("disabled (no rule file configured)")
	} else if rules, err := trigger.LoadRules(cfg.Triggers.Path); err != nil {
		fmt.Printf("FAIL (%s)\n", err)
		allOK = false
	} else {
		fmt.Printf("OK (%d rules: %s)\n", len(rules), cfg.Triggers.Path)
	}

	fmt.Println()
	if allOK {
		fmt.Println(successStyle.Render("All checks passed — clacktrack is ready!"))
	} else {
		fmt.Println(warnStyle.Render("Some checks failed — see above."))
	}

	return nil
}
