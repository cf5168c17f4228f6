package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentgov/config"
	"github.com/BaSui01/agentgov/internal/migration"
)

// =============================================================================
// 🗄️ 账本迁移命令
// =============================================================================

// runMigrate 处理 migrate 子命令
func runMigrate(args []string) {
	if len(args) < 1 {
		printMigrateUsage()
		os.Exit(1)
	}

	subcommand := args[0]
	if subcommand == "help" || subcommand == "-h" || subcommand == "--help" {
		printMigrateUsage()
		return
	}

	fs := flag.NewFlagSet("migrate "+subcommand, flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	envFile := fs.String("env-file", ".env", "Path to .env file (ignored when missing)")
	timeout := fs.Duration("timeout", 5*time.Minute, "Migration timeout")
	_ = fs.Parse(args[1:])

	cfg, err := loadConfig(*configPath, *envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := migrate(ctx, cfg.Database, subcommand, fs.Args(), logger); err != nil {
		fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
		os.Exit(1)
	}
}

// migrate 打开迁移器并执行一次子命令
func migrate(ctx context.Context, dbCfg config.DatabaseConfig, command string, args []string, logger *zap.Logger) error {
	m, err := migration.New(dbCfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := m.Close(); cerr != nil {
			logger.Warn("failed to close migrator", zap.Error(cerr))
		}
	}()

	return migration.NewCLI(m, os.Stdout).Run(ctx, command, args)
}

func printMigrateUsage() {
	fmt.Println(`Cost Ledger Migration Commands

Usage:
  agentgov migrate <subcommand> [options] [args]

Subcommands:
  up         Apply all pending migrations
  down       Rollback all migrations
  steps <n>  Apply (n > 0) or rollback (n < 0) n migrations
  force <v>  Force set migration version (use with caution)
  version    Show current migration version
  status     Show migration status
  help       Show this help message

Options:
  --config <path>     Path to configuration file (YAML)
  --env-file <path>   Path to .env file (default .env)
  --timeout <dur>     Abort after this duration (default 5m)

Examples:
  agentgov migrate up
  agentgov migrate up --config /etc/agentgov/config.yaml
  agentgov migrate steps -- -1
  agentgov migrate status
  agentgov migrate force 1`)
}
