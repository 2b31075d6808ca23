package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"recipe-matcher/internal/app"
	"recipe-matcher/internal/core/seed"
	"recipe-matcher/internal/core/store"
	"recipe-matcher/internal/infrastructure/config"
	"recipe-matcher/internal/pkg/common"
)

var (
	seedDir        string
	seedEmbed      bool
	seedEmbedLimit int
	seedDryRun     bool
	seedJSON       bool
	backfillLimit  int
)

var rootCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load the ingredient taxonomy from CSV files",
	Long: "Reads food_groups.csv, ingredients.csv, ingredient_parents.csv and final_aliases.csv\n" +
		"from a directory. Rows that break the taxonomy rules are reported and skipped.\n" +
		"Running it twice against the same data is a no-op.",
	SilenceUsage: true,
	RunE:         runSeed,
}

var backfillCmd = &cobra.Command{
	Use:          "backfill",
	Short:        "Embed ingredients and aliases that have no vector yet",
	SilenceUsage: true,
	RunE:         runBackfill,
}

func init() {
	rootCmd.Flags().StringVar(&seedDir, "dir", "data", "directory containing the CSV files")
	rootCmd.Flags().BoolVar(&seedEmbed, "embed", false, "embed new rows after loading")
	rootCmd.Flags().IntVar(&seedEmbedLimit, "embed-limit", 0, "maximum rows to embed, 0 for all")
	rootCmd.Flags().BoolVar(&seedDryRun, "dry-run", false, "load into an in-memory store and report only")
	rootCmd.PersistentFlags().BoolVar(&seedJSON, "json", false, "print the report as JSON")

	backfillCmd.Flags().IntVar(&backfillLimit, "limit", 0, "maximum rows to embed, 0 for all")
	rootCmd.AddCommand(backfillCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup 載入設定、logger 與服務；dryRun 時改用記憶體存儲
func setup(ctx context.Context, dryRun bool) (*app.App, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := common.InitLogger(cfg.LogLevel, cfg.LogDir); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	if dryRun {
		return app.NewWithStore(ctx, cfg, store.NewMemoryStore())
	}
	return app.New(ctx, cfg)
}

func runSeed(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := setup(ctx, seedDryRun)
	if err != nil {
		return err
	}
	defer common.Sync()
	defer a.Close()

	rep, err := seed.NewSeeder(a.Store, a.Hierarchy, a.Embedder).Run(ctx, seedDir, seed.Options{
		Embed:      seedEmbed,
		EmbedLimit: seedEmbedLimit,
	})
	if err != nil {
		return err
	}
	return printReport(cmd, rep)
}

func runBackfill(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := setup(ctx, false)
	if err != nil {
		return err
	}
	defer common.Sync()
	defer a.Close()

	rep := &seed.Report{}
	if err := seed.NewSeeder(a.Store, a.Hierarchy, a.Embedder).Backfill(ctx, backfillLimit, rep); err != nil {
		return err
	}
	return printReport(cmd, rep)
}

func printReport(cmd *cobra.Command, rep *seed.Report) error {
	if seedJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}

	common.LogInfo("匯入完成",
		zap.Int("food_groups", rep.FoodGroups),
		zap.Int("ingredients", rep.Ingredients),
		zap.Int("existing_ingredients", rep.ExistingIngredients),
		zap.Int("edges", rep.Edges),
		zap.Int("duplicate_edges", rep.DuplicateEdges),
		zap.Int("aliases", rep.Aliases),
		zap.Int("embedded", rep.Embedded),
		zap.Int("embed_failed", rep.EmbedFailed),
		zap.Int("rejected", len(rep.Rejected)),
	)
	out := cmd.OutOrStdout()
	for _, r := range rep.Rejected {
		fmt.Fprintf(out, "%s:%d\t%s\t%s\n", r.File, r.Line, r.Kind, r.Reason)
	}
	return nil
}
