package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mmeshcher/race-economy/internal/catalog"
)

// NewCatalogCommand создаёт группу команд справочника.
func NewCatalogCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Catalog maintenance",
	}
	cmd.AddCommand(newCatalogValidateCommand(rootOpts))
	return cmd
}

func newCatalogValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [catalog.yaml]",
		Short: "Parse a catalog and check references",
		Long: `Parse a catalog YAML file and check its referential integrity.
Without an argument the embedded default catalog is checked.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var src catalog.Source = catalog.EmbeddedSource{}
			name := "embedded"
			if len(args) == 1 {
				src = catalog.FileSource{Path: args[0]}
				name = args[0]
			}
			return runCatalogValidate(cmd.Context(), rootOpts, cmd, src, name)
		},
	}
}

func runCatalogValidate(ctx context.Context, opts *RootOptions, cmd *cobra.Command, src catalog.Source, name string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	snap, err := src.Load(ctx)
	if err != nil {
		return fmt.Errorf("catalog %s is invalid: %w", name, err)
	}
	return printResult(cmd.OutOrStdout(), opts.Format, map[string]any{
		"catalog": name,
		"valid":   true,
		"skus":    len(snap.SKUs),
		"crates":  len(snap.Crates),
		"offers":  len(snap.Offers),
	})
}
