package main

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/bigkaa/laborflow/internal/database"
	"github.com/bigkaa/laborflow/internal/domain/model"
	"github.com/bigkaa/laborflow/internal/repository"
	"github.com/bigkaa/laborflow/internal/service"
)

var errTenantRequired = errors.New("флаг --tenant обязателен")

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Миграции схемы БД",
	}

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Применить все миграции",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return database.Migrate(cfg, logger)
		},
	})

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Показать текущую версию схемы",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			version, dirty, err := database.MigrationVersion(cfg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version=%d dirty=%t\n", version, dirty)
			return nil
		},
	})

	return migrateCmd
}

func newPurgeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "purge-notifications",
		Short: "Удалить уведомления с истёкшим сроком хранения",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, logger, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			pool, err := ctx.ensurePool(cmd.Context())
			if err != nil {
				return err
			}

			svc := service.NewRetentionService(repository.NewNotificationRepository(pool), time.Hour, logger)
			n, err := svc.PurgeNow(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Удалено уведомлений: %d\n", n)
			return nil
		},
	}
}

func newSummaryCommand(ctx *commandContext) *cobra.Command {
	var tenant string

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Уведомления компании за 7 дней по дням недели и категориям",
		RunE: func(cmd *cobra.Command, args []string) error {
			if tenant == "" {
				return errTenantRequired
			}
			pool, err := ctx.ensurePool(cmd.Context())
			if err != nil {
				return err
			}
			cfg, logger, _ := ctx.ensureConfig()

			svc := service.NewNotificationService(repository.NewNotificationRepository(pool), nil, cfg.NotificationRetention, logger)
			buckets, err := svc.WeeklySummary(cmd.Context(), tenant)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderSummary(buckets))
			return nil
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "Идентификатор компании")
	return cmd
}

func newWorkersCommand(ctx *commandContext) *cobra.Command {
	var tenant string

	cmd := &cobra.Command{
		Use:   "workers",
		Short: "Число работников компании по статусам",
		RunE: func(cmd *cobra.Command, args []string) error {
			if tenant == "" {
				return errTenantRequired
			}
			pool, err := ctx.ensurePool(cmd.Context())
			if err != nil {
				return err
			}

			repo := repository.NewWorkerRepository(pool, repository.NewTxRunner(pool))
			counts, err := repo.CountByStatus(cmd.Context(), tenant)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderStatusCounts(counts))
			return nil
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "Идентификатор компании")
	return cmd
}

var weekdays = [...]string{"", "Пн", "Вт", "Ср", "Чт", "Пт", "Сб", "Вс"}

func renderSummary(buckets []model.SummaryBucket) string {
	rows := make([][]string, 0, len(buckets))
	total := 0
	for _, b := range buckets {
		day := strconv.Itoa(b.ISODayOfWeek)
		if b.ISODayOfWeek >= 1 && b.ISODayOfWeek <= 7 {
			day = weekdays[b.ISODayOfWeek]
		}
		rows = append(rows, []string{day, b.Category.Label(), strconv.Itoa(b.Count)})
		total += b.Count
	}
	rows = append(rows, []string{"Итого", "", strconv.Itoa(total)})
	return renderTable([]string{"День", "Категория", "Количество"}, rows, []columnAlignment{alignLeft, alignLeft, alignRight})
}

func renderStatusCounts(counts map[model.WorkerStatus]int) string {
	statuses := []model.WorkerStatus{
		model.WorkerStatusPending,
		model.WorkerStatusProcessing,
		model.WorkerStatusDeployed,
	}
	rows := make([][]string, 0, len(statuses)+1)
	total := 0
	for _, s := range statuses {
		rows = append(rows, []string{string(s), strconv.Itoa(counts[s])})
		total += counts[s]
	}
	rows = append(rows, []string{"total", strconv.Itoa(total)})
	return renderTable([]string{"Статус", "Работников"}, rows, []columnAlignment{alignLeft, alignRight})
}
