package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"

	"gtdbot/internal/config"
	"gtdbot/internal/provider"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check config, store, model provider and listen port",
		Long: `Verifies that the configuration loads, the database opens, the model
provider answers and the webhook port is free. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("gtdbot status v%s\n\n", version)

			passed, failed, warned := 0, 0, 0

			if _, err := os.Stat(cfgPath); err != nil {
				printFail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'gtdbot config init' to create a default configuration.\n")
				return nil
			}
			printPass("Config file", cfgPath)
			passed++

			cfg, err := config.Load(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				fmt.Printf("\n%d passed, 1 failed\n", passed)
				return nil
			}
			printPass("Config validation", "valid")
			passed++

			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()

			if processed, err := checkStore(ctx, cfg); err != nil {
				printFail("Store", err.Error())
				failed++
			} else {
				printPass("Store", fmt.Sprintf("%s (%d events recorded)", cfg.Store.DBPath, processed))
				passed++
			}

			llm, err := provider.NewFactory(cfg.LLM, logger).Build()
			switch {
			case err != nil:
				printFail("Model provider", err.Error())
				failed++
			default:
				if err := llm.Healthy(ctx); err != nil {
					printWarn("Model provider", fmt.Sprintf("%s: %v (classifier will use the fallback)", llm.Name(), err))
					warned++
				} else {
					printPass("Model provider", llm.Name())
					passed++
				}
			}

			if cfg.Transcription.Enabled {
				printPass("Transcription", cfg.Transcription.Model)
				passed++
			} else {
				printWarn("Transcription", "disabled, voice notes get a fallback reply")
				warned++
			}

			if err := checkPort(cfg.Server.Host, cfg.Server.Port); err != nil {
				printWarn("Port", fmt.Sprintf("%d in use (server running?)", cfg.Server.Port))
				warned++
			} else {
				printPass("Port", fmt.Sprintf("%d available", cfg.Server.Port))
				passed++
			}

			fmt.Printf("\n%d passed, %d failed, %d warnings\n", passed, failed, warned)
			if failed > 0 {
				return fmt.Errorf("%d check(s) failed", failed)
			}
			return nil
		},
	}
}

// checkStore opens the database, which also applies the schema, and counts
// processed events.
func checkStore(ctx context.Context, cfg *config.Config) (int, error) {
	st, err := openStore(cfg)
	if err != nil {
		return 0, err
	}
	defer st.Close()
	if err := st.Ping(); err != nil {
		return 0, fmt.Errorf("cannot ping: %w", err)
	}
	return st.CountMarkers(ctx, "")
}

func checkPort(host string, port int) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, fmt.Sprint(port)))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
