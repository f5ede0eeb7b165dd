package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"arogyabot/internal/config"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your ArogyaBot installation",
		Long: `Verifies that ArogyaBot's configuration, provider, database, and
channel credentials are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("ArogyaBot Doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file exists
			if _, err := os.Stat(cfgPath); err != nil {
				printFail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				failed++
				fmt.Printf("\nRun 'arogyabot init' to create a default configuration.\n")
				return nil
			}
			printPass("Config file", cfgPath)
			passed++

			// 2. Config loads and validates
			cfg, err := config.Load(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				failed++
			} else {
				printPass("Config validation", "valid")
				passed++
			}

			if cfg == nil {
				fmt.Printf("\n%d passed, %d failed\n", passed, failed)
				return nil
			}

			// 3. Database writable
			dbPath := cfg.Store.DBPath
			if dbPath == "" {
				home, _ := os.UserHomeDir()
				dbPath = filepath.Join(home, ".arogyabot", "arogyabot.db")
			}
			if err := checkDatabase(dbPath); err != nil {
				printFail("Database", err.Error())
				failed++
			} else {
				printPass("Database", dbPath)
				passed++
			}

			// 4. Upload directory writable
			if err := os.MkdirAll(cfg.Uploads.Dir, 0o755); err != nil {
				printFail("Uploads", fmt.Sprintf("cannot create %s: %v", cfg.Uploads.Dir, err))
				failed++
			} else {
				printPass("Uploads", cfg.Uploads.Dir)
				passed++
			}

			// 5. Provider configured
			if cfg.Provider.APIKey == "" {
				printWarn("Provider", "no API key configured (set provider.apiKey)")
				warned++
			} else {
				printPass("Provider", fmt.Sprintf("%s (%s)", cfg.Provider.APIBase, cfg.Provider.Model))
				passed++
			}

			// 6. Safety rule override parses
			if cfg.Safety.RulesFile != "" {
				if _, err := os.Stat(cfg.Safety.RulesFile); err != nil {
					printFail("Safety rules", fmt.Sprintf("not found: %s", cfg.Safety.RulesFile))
					failed++
				} else {
					printPass("Safety rules", cfg.Safety.RulesFile)
					passed++
				}
			} else {
				printPass("Safety rules", "built-in tables")
				passed++
			}

			// 7. Channel credentials
			channelCount := 0
			if cfg.Channels.WhatsApp.Enabled {
				channelCount++
				if cfg.Channels.WhatsApp.AccountSID == "" || cfg.Channels.WhatsApp.AuthToken == "" {
					printFail("WhatsApp", "enabled but accountSid/authToken missing")
					failed++
				} else {
					printPass("WhatsApp", "credentials configured")
					passed++
				}
				if err := checkPort(cfg.Channels.WhatsApp.Port); err != nil {
					printWarn("Webhook port", fmt.Sprintf("port %d may be in use: %v", cfg.Channels.WhatsApp.Port, err))
					warned++
				} else {
					printPass("Webhook port", fmt.Sprintf(":%d available", cfg.Channels.WhatsApp.Port))
					passed++
				}
				if !cfg.Channels.WhatsApp.ValidateSignature {
					printWarn("WhatsApp", "signature validation disabled, webhook accepts unauthenticated posts")
					warned++
				}
			}
			if cfg.Channels.Telegram.Enabled {
				channelCount++
				if cfg.Channels.Telegram.Token == "" {
					printFail("Telegram", "enabled but token missing")
					failed++
				} else {
					printPass("Telegram", "token configured")
					passed++
				}
			}
			if cfg.Channels.CLI.Enabled {
				channelCount++
			}
			if channelCount == 0 {
				printFail("Channels", "no channels enabled")
				failed++
			}

			// 8. Redis reachable when selected
			if cfg.Session.Backend == "redis" {
				conn, err := net.DialTimeout("tcp", cfg.Session.RedisAddr, 3*time.Second)
				if err != nil {
					printFail("Redis", fmt.Sprintf("cannot reach %s: %v", cfg.Session.RedisAddr, err))
					failed++
				} else {
					conn.Close()
					printPass("Redis", cfg.Session.RedisAddr)
					passed++
				}
			}

			// 9. Log file writable
			if cfg.General.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
					printWarn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
					warned++
				} else {
					printPass("Log file", cfg.General.LogFile)
					passed++
				}
			}

			// Summary
			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running ArogyaBot.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nArogyaBot should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! ArogyaBot is ready to run.\n")
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

func checkPort(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
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
