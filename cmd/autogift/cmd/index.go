package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/solatis/autogift/internal/core/store"
	"github.com/solatis/autogift/internal/source"
)

var indexShop string

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Manage per-shop collection indexes",
}

var indexImportCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Replace a shop's collection index from a {productId: [collectionId]} document",
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
		index, err := source.LoadIndex(args[0])
		if err != nil {
			return err
		}

		b, err := openBackend(ctx, cfg, secrets, logger, nil)
		if err != nil {
			return err
		}
		defer b.close()

		build, err := b.store.ReplaceIndex(ctx, indexShop, index)
		if err != nil {
			return err
		}
		if err := b.invalidate(ctx, indexShop); err != nil {
			logger.Warn("cache invalidation failed", "shop_id", indexShop, "error", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "indexed %d products (%d memberships) for %s\n",
			build.ProductCount, build.MembershipCount, build.ShopID)
		return nil
	},
}

var indexStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show when a shop's collection index was last imported",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, err := newLogger(cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		cfg, secrets, err := loadConfig()
		if err != nil {
			return err
		}
		b, err := openBackend(cmd.Context(), cfg, secrets, logger, nil)
		if err != nil {
			return err
		}
		defer b.close()

		build, err := b.store.LastIndexBuild(cmd.Context(), indexShop)
		if errors.Is(err, store.ErrNotFound) {
			fmt.Fprintf(cmd.OutOrStdout(), "no index imported for %s\n", indexShop)
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d products, %d memberships, built %s\n",
			build.ShopID, build.ProductCount, build.MembershipCount, build.BuiltAt.Format(time.RFC3339))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.AddCommand(indexImportCmd, indexStatusCmd)
	for _, c := range []*cobra.Command{indexImportCmd, indexStatusCmd} {
		c.Flags().StringVar(&indexShop, "shop", "", "shop id")
		_ = c.MarkFlagRequired("shop")
	}
}
