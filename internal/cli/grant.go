package cli

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/mmeshcher/race-economy/internal/middleware"
)

var errNoSecret = errors.New("AUTH_SECRET is required")

type grantOptions struct {
	gems  int64
	coins int64
	opID  string
}

// NewGrantCommand создаёт команду начисления валюты.
func NewGrantCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &grantOptions{}

	cmd := &cobra.Command{
		Use:   "grant <player-id>",
		Short: "Grant gems and coins to a player",
		Long: `Grant gems and coins to a player through the idempotent operation path.
Repeating the command with the same --op-id returns the stored result.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGrant(cmd, rootOpts, opts, args[0])
		},
	}

	cmd.Flags().Int64Var(&opts.gems, "gems", 0, "gems to grant")
	cmd.Flags().Int64Var(&opts.coins, "coins", 0, "coins to grant")
	cmd.Flags().StringVar(&opts.opID, "op-id", "", "operation id; generated when empty")

	return cmd
}

func runGrant(cmd *cobra.Command, rootOpts *RootOptions, opts *grantOptions, playerID string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	opID := opts.opID
	if opID == "" {
		opID = "ctl-" + uuid.NewString()
	}

	a, err := rootOpts.newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.Service.GrantCurrency(ctx, playerID, opID, opts.gems, opts.coins)
	if err != nil {
		return err
	}
	return printResult(cmd.OutOrStdout(), rootOpts.Format, map[string]any{
		"playerId": playerID,
		"opId":     opID,
		"gems":     res.Value.Gems,
		"coins":    res.Value.Coins,
		"replayed": res.Replayed,
	})
}

// NewTokenCommand создаёт команду выпуска токена игрока.
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "token <player-id>",
		Short: "Issue a bearer token for a player",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.LoadConfig()
			if err != nil {
				return err
			}
			if cfg.AuthSecret == "" {
				return errNoSecret
			}
			token := middleware.NewAuthMiddleware(cfg.AuthSecret).Token(args[0])
			return printResult(cmd.OutOrStdout(), rootOpts.Format, map[string]any{
				"playerId": args[0],
				"token":    token,
			})
		},
	}
}
