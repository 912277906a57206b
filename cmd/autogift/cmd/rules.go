package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/solatis/autogift/internal/source"
)

var rulesShop string

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage per-shop rule documents",
}

var rulesImportCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Store a rule document (JSON or YAML) for a shop",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		logger, err := newLogger(cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		cfg, secrets, err := loadConfig()
		if err != nil {
			return err
		}

		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		doc, err := source.DecodeRuleDocument(args[0], data)
		if err != nil {
			return fmt.Errorf("%s: %w", args[0], err)
		}

		b, err := openBackend(ctx, cfg, secrets, logger, nil)
		if err != nil {
			return err
		}
		defer b.close()

		rec, issues, err := b.store.PutRuleSet(ctx, rulesShop, doc)
		if err != nil {
			return err
		}
		for _, issue := range issues {
			logger.Warn("dropped malformed rule",
				"shop_id", rulesShop,
				"index", issue.Index,
				"rule_id", issue.RuleID,
				"error", issue.Err)
		}
		if err := b.invalidate(ctx, rulesShop); err != nil {
			logger.Warn("cache invalidation failed", "shop_id", rulesShop, "error", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "stored %d rules for %s (%d dropped, checksum %s)\n",
			rec.RuleCount, rec.ShopID, rec.DroppedCount, rec.Checksum[:12])
		return nil
	},
}

var rulesShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the stored rule document of a shop",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, secrets, err := loadConfig()
		if err != nil {
			return err
		}
		logger, err := newLogger(cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		b, err := openBackend(cmd.Context(), cfg, secrets, logger, nil)
		if err != nil {
			return err
		}
		defer b.close()

		rec, err := b.store.GetRuleSet(cmd.Context(), rulesShop)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), rec.Document)
		return nil
	},
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List shops with stored rule documents",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, secrets, err := loadConfig()
		if err != nil {
			return err
		}
		logger, err := newLogger(cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		b, err := openBackend(cmd.Context(), cfg, secrets, logger, nil)
		if err != nil {
			return err
		}
		defer b.close()

		shops, err := b.store.Shops(cmd.Context())
		if err != nil {
			return err
		}
		for _, shop := range shops {
			fmt.Fprintln(cmd.OutOrStdout(), shop)
		}
		return nil
	},
}

var rulesDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete the rule document of a shop",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, secrets, err := loadConfig()
		if err != nil {
			return err
		}
		logger, err := newLogger(cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		b, err := openBackend(cmd.Context(), cfg, secrets, logger, nil)
		if err != nil {
			return err
		}
		defer b.close()

		if err := b.store.DeleteRuleSet(cmd.Context(), rulesShop); err != nil {
			return err
		}
		if err := b.invalidate(cmd.Context(), rulesShop); err != nil {
			logger.Warn("cache invalidation failed", "shop_id", rulesShop, "error", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(rulesCmd)
	rulesCmd.AddCommand(rulesImportCmd, rulesShowCmd, rulesListCmd, rulesDeleteCmd)
	for _, c := range []*cobra.Command{rulesImportCmd, rulesShowCmd, rulesDeleteCmd} {
		c.Flags().StringVar(&rulesShop, "shop", "", "shop id")
		_ = c.MarkFlagRequired("shop")
	}
}
