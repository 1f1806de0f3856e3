package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mfenderov/doclens/pkg/models"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and clear the extraction cache",
	Long: `The extraction cache keeps parsed text and classifications by document
fingerprint so re-extracting identical bytes skips parsing and classification.

Examples:
  doclens cache list
  doclens cache clear            # everything
  doclens cache clear 9f86d0...  # one document`,
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached document fingerprints",
	Args:  cobra.NoArgs,
	RunE:  runCacheList,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear [fingerprint]",
	Short: "Clear the cache, or one document from it",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runCacheClear,
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheListCmd, cacheClearCmd)
}

func runCacheList(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, GetConfig())
	if err != nil {
		return err
	}
	defer a.Close()

	// records point at every document extracted by earlier runs; loading
	// them warms the in-memory cache from the mirror
	c := a.engine.Cache()
	for _, r := range a.engine.Records() {
		c.Document(ctx, r.Fingerprint)
	}

	fps := c.Fingerprints()
	if len(fps) == 0 {
		fmt.Println("Cache is empty.")
		return nil
	}
	for _, fp := range fps {
		e, _ := c.Get(fp)
		name := ""
		if e != nil && e.Document != nil {
			name = e.Document.Filename
		}
		fmt.Printf("%s  %s\n", fp, name)
	}
	return nil
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, GetConfig())
	if err != nil {
		return err
	}
	defer a.Close()

	var fp models.Fingerprint
	if len(args) == 1 {
		fp = models.Fingerprint(args[0])
	}
	if err := a.engine.ClearCache(ctx, fp); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	if fp == "" {
		fmt.Println("Cache cleared.")
	} else {
		fmt.Printf("Cleared %s from the cache.\n", fp.Short())
	}
	return nil
}
