package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/edvin/pacgate/internal/api"
	"github.com/edvin/pacgate/internal/config"
	"github.com/edvin/pacgate/internal/core"
	"github.com/edvin/pacgate/internal/db"
	"github.com/edvin/pacgate/internal/logging"
	"github.com/edvin/pacgate/internal/model"
)

func main() {
	if len(os.Args) >= 2 && os.Args[1] == "create-admin-key" {
		createAdminKey(os.Args[2:])
		return
	}

	migrateFlag := flag.Bool("migrate", false, "Run database migrations before starting")
	migrateDirFlag := flag.String("migrate-dir", "migrations", "Migration files directory")
	seedRulesFlag := flag.String("seed-rules", "", "YAML file of global rules to seed when no global rules exist")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg)

	if *migrateFlag {
		logger.Info().Str("dir", *migrateDirFlag).Msg("running database migrations")
		if err := db.RunMigrations(cfg.DatabaseURL, *migrateDirFlag); err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()

	services := core.NewServices(pool, logger, cfg.UsageBufferSize)

	if err := services.Rule.Load(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to load rules")
	}

	if *seedRulesFlag != "" {
		if err := seedGlobalRules(ctx, services.Rule, cfg, *seedRulesFlag); err != nil {
			logger.Fatal().Err(err).Str("file", *seedRulesFlag).Msg("failed to seed global rules")
		}
	}

	srv := api.NewServer(logger, pool, services, cfg)

	httpServer := &http.Server{
		Addr:         cfg.HTTPListenAddr,
		Handler:      srv,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.HTTPListenAddr).Msg("starting pacgate API server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)

	srv.Close()
	services.Usage.Close()
}

// seedGlobalRules installs a global rule set from a YAML file, but only when
// no global rules exist yet. Proxy rules in the seed may omit their target,
// in which case PROXY_ADDR fills it in.
func seedGlobalRules(ctx context.Context, rules *core.RuleService, cfg *config.Config, path string) error {
	if len(rules.GetRules(model.ScopeGlobal)) > 0 {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}

	var seed struct {
		Rules []core.RuleInput `yaml:"rules"`
	}
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("parse seed file: %w", err)
	}

	for i := range seed.Rules {
		if seed.Rules[i].Action == model.ActionProxy && seed.Rules[i].Target == "" {
			if cfg.ProxyAddr == "" {
				return fmt.Errorf("seed rule %d omits target and PROXY_ADDR is not set", i)
			}
			seed.Rules[i].Target = cfg.ProxyAddr
		}
	}

	if _, err := rules.SetRules(ctx, model.ScopeGlobal, seed.Rules); err != nil {
		return fmt.Errorf("install seed rules: %w", err)
	}
	return nil
}

func createAdminKey(args []string) {
	fs := flag.NewFlagSet("create-admin-key", flag.ExitOnError)
	name := fs.String("name", "", "Name for the admin key (required)")
	fs.Parse(args)

	if *name == "" {
		fmt.Fprintln(os.Stderr, "error: --name is required")
		fmt.Fprintln(os.Stderr, "usage: pacgate-api create-admin-key --name <name>")
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to load config: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	svc := core.NewAdminKeyService(pool)
	key, rawKey, err := svc.Create(ctx, *name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to create admin key: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Admin key created successfully.\n\n")
	fmt.Printf("  Name:   %s\n", key.Name)
	fmt.Printf("  ID:     %s\n", key.ID)
	fmt.Printf("  Key:    %s\n\n", rawKey)
	fmt.Printf("Save this key - it will not be shown again.\n")
}
