package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"

	"github.com/brodkin/clack-track-sub011/internal/config"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View and manage clacktrack configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current configuration (secrets redacted)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		// Redact secrets.
		if cfg.AI.OpenAIKey != "" {
			cfg.AI.OpenAIKey = "sk-***"
		}
		if cfg.AI.AnthropicKey != "" {
			cfg.AI.AnthropicKey = "sk-ant-***"
		}
		if cfg.HomeAssistant.Token != "" {
			cfg.HomeAssistant.Token = "***"
		}
		if cfg.Notify.Telegram.BotToken != "" {
			cfg.Notify.Telegram.BotToken = "tg-***"
		}
		if cfg.Notify.Webhook.Secret != "" {
			cfg.Notify.Webhook.Secret = "***"
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(cfg)
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the path to the config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := config.ConfigPath(cfgFile)
		if err != nil {
			return err
		}
		fmt.Println(p)
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter config file with defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := config.ConfigPath(cfgFile)
		if err != nil {
			return err
		}
		if _, err := os.Stat(p); err == nil {
			return fmt.Errorf("config already exists at %s (edit it instead)", p)
		}
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		if err := config.EnsureDir(); err != nil {
			return err
		}
		if err := config.Save(cfg, p); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", p)
		fmt.Println("Fill in display.url, ai keys, and home_assistant before running serve.")
		return nil
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open the config file in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := config.ConfigPath(cfgFile)
		if err != nil {
			return err
		}
		editor := os.Getenv("EDITOR")
		if editor == "" {
			editor = "nano"
		}
		fmt.Printf("Opening %s with %s...\n", p, editor)
		c := exec.Command(editor, p) // #nosec G204 -- editor is from $EDITOR env var, intentional user-controlled binary
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		return c.Run()
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configPathCmd, configInitCmd, configEditCmd)
}
