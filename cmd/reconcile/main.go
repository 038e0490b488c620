package main

import (
	"context"
	"fmt"
	"os"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JustFixNYC/tenants2-sub000/internal/certmail"
	"github.com/JustFixNYC/tenants2-sub000/internal/config"
	esvc "github.com/JustFixNYC/tenants2-sub000/internal/email/service"
	evsvc "github.com/JustFixNYC/tenants2-sub000/internal/events/service"
	repo "github.com/JustFixNYC/tenants2-sub000/internal/letters/repository"
	svc "github.com/JustFixNYC/tenants2-sub000/internal/letters/service"
	"github.com/JustFixNYC/tenants2-sub000/internal/logger"
	"github.com/JustFixNYC/tenants2-sub000/internal/pdf"
	"github.com/JustFixNYC/tenants2-sub000/internal/reconcile"
)

var (
	dryRun bool
	maxN   int
)

var rootCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Resume incomplete letter deliveries",
	Long: `Reconcile finds letters whose delivery pass never completed, plus
fully-processed letters whose authority email has since become available,
and re-runs the delivery orchestrator over them.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func main() {
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be processed without side effects")
	rootCmd.Flags().IntVar(&maxN, "max", 50, "maximum number of letters to process")
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.New(cfg.AppEnv)

	pgCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("invalid DATABASE_URL: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, pgCfg)
	if err != nil {
		return fmt.Errorf("pg pool: %w", err)
	}
	defer pool.Close()

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	})
	defer asynqClient.Close()

	r := repo.New(pool)
	orch := svc.NewOrchestrator(
		r,
		pdf.NewComposer(pdf.NewHTTPRenderer(cfg)),
		svc.DefaultRegistry(),
		esvc.NewRouter(cfg),
		certmail.New(cfg, logger.Component(log, "certmail")),
		asynqClient,
		evsvc.NewLogger(),
		cfg,
		logger.Component(log, "orchestrator"),
	)

	job := reconcile.New(r, orch, logger.Component(log, "reconcile"))
	report, err := job.Run(ctx, reconcile.Options{
		Window: cfg.ReconcileWindow,
		Max:    maxN,
		DryRun: dryRun,
	})
	if err != nil {
		return err
	}
	fmt.Println(report)
	return nil
}
