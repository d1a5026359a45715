// Package cli реализует команды административной утилиты economyctl.
package cli

import (
	"context"
	"fmt"
	"slices"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mmeshcher/race-economy/internal/app"
	"github.com/mmeshcher/race-economy/internal/config"
)

// ValidFormats: допустимые форматы вывода.
var ValidFormats = []string{"text", "json"}

// RootOptions: общие флаги и зависимости команд.
type RootOptions struct {
	Format string
	Logger *zap.Logger

	// LoadConfig читает конфигурацию; по умолчанию config.FromEnv.
	LoadConfig func() (*config.Config, error)
}

// NewRootCommand создаёт корневую команду economyctl.
func NewRootCommand(logger *zap.Logger) *cobra.Command {
	return newRootCommand(&RootOptions{
		Logger:     logger,
		LoadConfig: config.FromEnv,
	})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "economyctl",
		Short: "Operator tool for the race economy service",
		Long: `Operator tool for the race economy service.

Runs the offer scheduler and recovery sweeps once, validates catalogs,
grants currency and issues player tokens. Configuration is read from
the same environment variables as the server.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewCatalogCommand(opts))
	cmd.AddCommand(NewSchedulerCommand(opts))
	cmd.AddCommand(NewSweepCommand(opts))
	cmd.AddCommand(NewGrantCommand(opts))
	cmd.AddCommand(NewTokenCommand(opts))

	return cmd
}

func (o *RootOptions) newApp(ctx context.Context) (*app.App, error) {
	cfg, err := o.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("configuration: %w", err)
	}
	return app.New(ctx, cfg, o.Logger)
}
