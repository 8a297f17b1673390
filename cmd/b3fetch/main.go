// b3fetch: B3 asset data acquisition
//
// Main CLI entrypoint using cobra command framework.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/seenimoa/b3fetch/api"
	"github.com/seenimoa/b3fetch/internal/app"
	"github.com/seenimoa/b3fetch/internal/config"
	"github.com/seenimoa/b3fetch/internal/logger"
	"github.com/seenimoa/b3fetch/pkg/models"
	"github.com/seenimoa/b3fetch/pkg/utils"
)

// Build-time variables (set via -ldflags).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Global config
var cfg *config.Config

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "b3fetch",
	Short: "b3fetch — B3 asset data acquisition",
	Long: `b3fetch classifies B3 tickers (stocks, units, real-estate funds, ETFs
and BDRs), scrapes their public asset pages with a headless browser and
keeps a normalized, freshness-checked copy of each record.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		configFile, _ := cmd.Flags().GetString("config")
		if configFile != "" {
			cfg, err = config.LoadFromFile(configFile)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if level, _ := cmd.Flags().GetString("log-level"); level != "" {
			cfg.Logging.Level = level
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file path (default: ./config/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level override (debug, info, warn, error)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(rawCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(configCmd)
}

// withApp builds the application for one command and closes it afterwards.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log, err := logger.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// --- Version Command ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("b3fetch %s\n", version)
		fmt.Printf("  commit:  %s\n", commit)
		fmt.Printf("  built:   %s\n", date)
	},
}

// --- Serve Command (API Server) ---

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			srv := api.NewServer(api.Options{
				Config:   cfg,
				Service:  a.Service,
				Breakers: a.Breakers,
				Metrics:  a.Metrics,
				Logger:   a.Log,
				Version:  version,
			})
			addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
			return srv.ListenAndServe(ctx, addr)
		})
	},
}

// --- Fetch Command ---

var fetchCmd = &cobra.Command{
	Use:   "fetch [ticker]",
	Short: "Fetch an asset, scraping it when the stored copy is stale",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			res, err := a.Service.Fetch(ctx, args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(res)
			}
			printSummary(res.Classification, res.Record.Base())
			return nil
		})
	},
}

func init() {
	fetchCmd.Flags().Bool("json", false, "print the full record as JSON")
}

func printSummary(c models.ClassificationResult, s *models.Snapshot) {
	fmt.Println("═══════════════════════════════════════")
	fmt.Printf("  %s — %s\n", s.Ticker, s.Name)
	fmt.Println("═══════════════════════════════════════")
	fmt.Printf("  Type:          %s (%s, %.0f%%)\n", c.Type, c.Method, c.Confidence*100)
	if s.Price != nil {
		fmt.Printf("  Price:         %s\n", utils.FormatBRL(*s.Price))
	}
	if s.ChangePct != nil {
		fmt.Printf("  Change:        %s\n", utils.FormatPct(*s.ChangePct))
	}
	if s.DividendYield != nil {
		fmt.Printf("  Yield (12m):   %s\n", utils.FormatPct(*s.DividendYield))
	}
	fmt.Printf("  Dividends:     %d\n", len(s.Dividends))
	fmt.Printf("  Price points:  %d\n", len(s.Prices))
	fmt.Printf("  Updated:       %s\n", s.LastUpdated.In(utils.BRT).Format("02/01/2006 15:04 MST"))
	fmt.Printf("  Market Status: %s\n", utils.MarketStatus(utils.NowBRT()))
	fmt.Println("═══════════════════════════════════════")
}

// --- Classify Command ---

var classifyCmd = &cobra.Command{
	Use:   "classify [ticker]",
	Short: "Classify a ticker without scraping it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			return printJSON(a.Service.Classify(ctx, args[0]))
		})
	},
}

// --- Raw Command ---

var rawCmd = &cobra.Command{
	Use:   "raw [ticker]",
	Short: "Print the raw acquisition stored with the last fetch",
	Long: `Print the raw acquisition stored with the last fetch.

With --replay the stored payload is mapped again and the resulting record
is printed. Nothing is scraped or persisted, so mapper changes can be
checked against past captures.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		replay, _ := cmd.Flags().GetBool("replay")
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if replay {
				res, err := a.Service.Replay(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(res)
			}
			raw, err := a.Service.RawAudit(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(raw)
		})
	},
}

func init() {
	rawCmd.Flags().Bool("replay", false, "map the stored payload again and print the record")
}

// --- Cache Command ---

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the classification cache",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Evict every cached classification",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if err := a.Service.ClearClassificationCache(ctx); err != nil {
				return err
			}
			fmt.Println("✅ classification cache cleared")
			return nil
		})
	},
}

func init() {
	cacheCmd.AddCommand(cacheClearCmd)
}

// --- Migrate Command ---

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the PostgreSQL schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Storage.Driver != "postgres" {
			fmt.Printf("storage.driver is %q, nothing to migrate\n", cfg.Storage.Driver)
			return nil
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if err := a.Migrate(ctx); err != nil {
				return err
			}
			fmt.Println("✅ schema is up to date")
			return nil
		})
	},
}

// --- Config Command ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show configuration summary and credential status",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("═══════════════════════════════════════")
		fmt.Println("  b3fetch — Configuration")
		fmt.Println("═══════════════════════════════════════")
		fmt.Printf("  Version:       %s (%s)\n", version, commit)
		fmt.Printf("  Market Status: %s\n", utils.MarketStatus(utils.NowBRT()))
		fmt.Println()

		fmt.Println("  Components:")
		fmt.Printf("    Browsers:      %s → %s (max %d sessions)\n",
			cfg.Browser.Primary, fallbackName(cfg.Browser.Secondary), cfg.Browser.MaxSessions)
		fmt.Printf("    Attempt:       %s (retries: %d)\n", cfg.Scraping.AttemptTimeout, cfg.Resilience.MaxRetries)
		fmt.Printf("    Storage:       %s\n", cfg.Storage.Driver)
		fmt.Printf("    Cache:         %s\n", cfg.Cache.Driver)
		fmt.Printf("    API Server:    %s:%d\n", cfg.API.Host, cfg.API.Port)
		fmt.Println()

		fmt.Println("  Freshness:")
		for _, g := range models.Groups {
			fmt.Printf("    %-14s %s\n", string(g)+":", cfg.Freshness.TTL(g))
		}
		fmt.Println()

		fmt.Println("  Credentials:")
		for _, k := range config.CheckSecrets(cfg) {
			status := "❌ not set"
			if k.IsSet {
				status = fmt.Sprintf("✅ set (%s: %s)", k.Source, k.Masked)
			}
			fmt.Printf("    %-25s %s\n", k.Name+":", status)
		}

		fmt.Println("═══════════════════════════════════════")
		return nil
	},
}

func fallbackName(name string) string {
	if name == "" {
		return "none"
	}
	return name
}
