package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/micr/internal/cache"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the model response cache",
	Long: `Responses are cached by image hash, provider, model and prompt so that
re-analyzing an image does not call the provider again. The cache lives in
cache.dir (default ~/.micr/cache).`,
}

var cachePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove expired cache entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		removed, err := cache.NewDiskCache(cfg.Cache.Dir, cfg.Cache.DiskTTL()).Prune()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Removed %d expired entries from %s\n", removed, cfg.Cache.Dir)
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every cache entry",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cache.NewDiskCache(cfg.Cache.Dir, cfg.Cache.DiskTTL()).Clear(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Cleared %s\n", cfg.Cache.Dir)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cachePruneCmd)
	cacheCmd.AddCommand(cacheClearCmd)
}
