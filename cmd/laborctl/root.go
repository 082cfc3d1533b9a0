package main

import (
	"context"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/bigkaa/laborflow/internal/config"
	"github.com/bigkaa/laborflow/internal/database"
)

// commandContext лениво загружает конфигурацию и пул соединений:
// --help и ошибки флагов не требуют доступа к БД.
type commandContext struct {
	envFile *string

	configOnce sync.Once
	config     *config.Config
	logger     *slog.Logger
	configErr  error

	pool *pgxpool.Pool
}

func newCommandContext(envFile *string) *commandContext {
	return &commandContext{envFile: envFile}
}

func (c *commandContext) ensureConfig() (*config.Config, *slog.Logger, error) {
	c.configOnce.Do(func() {
		if err := config.LoadDotEnv(*c.envFile); err != nil {
			c.configErr = err
			return
		}
		cfg, err := config.LoadDatabase()
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.logger = config.SetupLogger(cfg)
	})
	return c.config, c.logger, c.configErr
}

func (c *commandContext) ensurePool(ctx context.Context) (*pgxpool.Pool, error) {
	if c.pool != nil {
		return c.pool, nil
	}
	cfg, logger, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	c.pool = pool
	return pool, nil
}

func (c *commandContext) close() {
	if c.pool != nil {
		c.pool.Close()
	}
}

func newRootCommand() *cobra.Command {
	var envFile string
	ctx := newCommandContext(&envFile)

	rootCmd := &cobra.Command{
		Use:           "laborctl",
		Short:         "Обслуживание LaborFlow",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			ctx.close()
		},
	}

	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Файл с переменными окружения LF_*")

	rootCmd.AddCommand(newMigrateCommand(ctx))
	rootCmd.AddCommand(newPurgeCommand(ctx))
	rootCmd.AddCommand(newSummaryCommand(ctx))
	rootCmd.AddCommand(newWorkersCommand(ctx))

	return rootCmd
}
