package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/thanhhuynhk17/messenger-agent/internal/config"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your messenger-agent installation",
		Long: `Verifies that the configuration, credentials, agent backend, and
store are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("messenger-agent Doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file exists
			if _, err := os.Stat(config.ExpandPath(cfgPath)); err != nil {
				printFail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				failed++
				fmt.Printf("\nRun 'messenger-agent init' to create a default configuration.\n")
				return nil
			}
			printPass("Config file", cfgPath)
			passed++

			// 2. Config loads and validates
			cfg, err := config.Load(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				failed++
				fmt.Printf("\n%d passed, %d failed\n", passed, failed)
				return nil
			}
			printPass("Config validation", "valid")
			passed++

			// 3. Credentials present
			if cfg.Messenger.VerifyToken == "" || cfg.Messenger.VerifyToken == "${VERIFY_TOKEN}" {
				printFail("Verify token", "not set (export VERIFY_TOKEN or edit the config)")
				failed++
			} else {
				printPass("Verify token", "set")
				passed++
			}
			if cfg.Messenger.AccessToken == "" || cfg.Messenger.AccessToken == "${PAGE_ACCESS_TOKEN}" {
				printFail("Access token", "not set (export PAGE_ACCESS_TOKEN or edit the config)")
				failed++
			} else {
				printPass("Access token", "set")
				passed++
			}
			if cfg.Messenger.AppSecret == "" {
				printWarn("App secret", "not set, webhook signatures will not be verified")
				warned++
			} else {
				printPass("App secret", "set")
				passed++
			}

			// 4. Agent backend reachable
			if err := checkAgent(cfg.Agent.BaseURL); err != nil {
				printWarn("Agent backend", fmt.Sprintf("%s unreachable: %v", cfg.Agent.BaseURL, err))
				warned++
			} else {
				printPass("Agent backend", cfg.Agent.BaseURL)
				passed++
			}

			// 5. Store writable
			if cfg.Store.Backend == "sqlite" {
				if err := checkDatabase(cfg.Store.DBPath); err != nil {
					printFail("Database", err.Error())
					failed++
				} else {
					printPass("Database", cfg.Store.DBPath)
					passed++
				}
			} else {
				printWarn("Store", "memory backend: threads and dedup state reset on restart")
				warned++
			}

			// 6. Webhook port available
			if err := checkPort(cfg.Server.Port); err != nil {
				printWarn("Webhook port", fmt.Sprintf("port %d may be in use: %v", cfg.Server.Port, err))
				warned++
			} else {
				printPass("Webhook port", fmt.Sprintf(":%d available", cfg.Server.Port))
				passed++
			}

			// 7. Log file writable
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
				fmt.Printf("\nPlease fix the failed checks before running messenger-agent.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nmessenger-agent should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! messenger-agent is ready to run.\n")
			}
			return nil
		},
	}
}

// checkAgent probes the LangGraph backend's health endpoint.
func checkAgent(baseURL string) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(baseURL + "/ok")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("health check returned %d", resp.StatusCode)
	}
	return nil
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
