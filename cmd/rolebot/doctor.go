package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"rolebot/internal/config"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your rolebot installation",
		Long: `Verifies that rolebot's configuration, credentials, database, and
data directory are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("rolebot doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file exists
			if _, err := os.Stat(cfgPath); err != nil {
				printFail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'rolebot init' to create a default configuration.\n")
				return nil
			}
			printPass("Config file", cfgPath)
			passed++

			// 2. Config loads and validates
			cfg, err := config.Load(cfgPath)
			if err != nil {
				printFail("Config load", err.Error())
				fmt.Printf("\n%d passed, %d failed\n", passed, 1)
				return nil
			}
			if err := cfg.Validate(); err != nil {
				printFail("Config validation", err.Error())
				failed++
			} else {
				printPass("Config validation", "valid")
				passed++
			}

			// 3. Credentials present
			if cfg.Telegram.Token == "" {
				printFail("Telegram token", "telegram.token is empty")
				failed++
			} else {
				printPass("Telegram token", "configured")
				passed++
			}
			if cfg.AI.APIKey == "" {
				printFail("API key", "ai.apiKey is empty")
				failed++
			} else {
				printPass("API key", "configured")
				passed++
			}

			// 4. Data directory and database writable
			if err := os.MkdirAll(cfg.General.DataDir, 0o755); err != nil {
				printFail("Data directory", err.Error())
				failed++
			} else {
				printPass("Data directory", cfg.General.DataDir)
				passed++
			}
			dbPath := filepath.Join(cfg.General.DataDir, "rolebot.db")
			if err := checkDatabase(dbPath); err != nil {
				printFail("Database", err.Error())
				failed++
			} else {
				printPass("Database", dbPath)
				passed++
			}

			// 5. Enabled modalities have models
			for _, m := range []struct {
				name string
				mc   config.ModalityConfig
			}{
				{"textGeneration", cfg.AI.TextGeneration},
				{"vision", cfg.AI.Vision},
				{"audioRecognition", cfg.AI.AudioRecognition},
				{"audioGeneration", cfg.AI.AudioGeneration},
				{"imageGeneration", cfg.AI.ImageGeneration},
			} {
				switch {
				case !m.mc.Enabled:
					printWarn("Modality: "+m.name, "disabled")
					warned++
				case len(m.mc.Models) == 0:
					printFail("Modality: "+m.name, "enabled but has no models")
					failed++
				default:
					printPass("Modality: "+m.name, fmt.Sprintf("%d model(s)", len(m.mc.Models)))
					passed++
				}
			}

			// 6. Metrics port available
			if cfg.General.MetricsAddr != "" {
				if err := checkAddr(cfg.General.MetricsAddr); err != nil {
					printWarn("Metrics addr", fmt.Sprintf("%s may be in use: %v", cfg.General.MetricsAddr, err))
					warned++
				} else {
					printPass("Metrics addr", cfg.General.MetricsAddr+" available")
					passed++
				}
			}

			// Summary
			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running rolebot.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nrolebot should work but consider the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! rolebot is ready to run.\n")
			}
			return nil
		},
	}
}

func checkDatabase(dbPath string) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("cannot create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("cannot open: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}

	// Try a write.
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _doctor_test (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	db.ExecContext(ctx, "DROP TABLE IF EXISTS _doctor_test")

	return nil
}

func checkAddr(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-24s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-24s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-24s %s\n", check, detail)
}
