package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nlpgrid/nlp-service/internal/cache"
	"github.com/nlpgrid/nlp-service/internal/nlp"
)

// cacheCmd groups result cache administration
var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the result cache",
}

var cacheInvalidateCmd = &cobra.Command{
	Use:   "invalidate <task-type>",
	Short: "Drop every cached result for a task type",
	Example: `  nlp-service cache invalidate classification
  nlp-service cache invalidate summarization`,
	Args: cobra.ExactArgs(1),
	RunE: runCacheInvalidate,
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheInvalidateCmd)
}

func runCacheInvalidate(cmd *cobra.Command, args []string) error {
	kind, err := nlp.ParseKind(args[0])
	if err != nil {
		return err
	}
	if cfg == nil {
		return fmt.Errorf("config required for cache commands but not loaded")
	}

	resultCache := cache.New(cache.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Prefix:   cfg.Cache.Prefix,
		TTL:      cfg.Cache.TTL,
		Enabled:  true,
	})
	defer resultCache.Close()

	removed, err := resultCache.Invalidate(context.Background(), kind)
	if err != nil {
		return err
	}
	fmt.Printf("Removed %d cached %s results\n", removed, kind)
	return nil
}
