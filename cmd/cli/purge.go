package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/hearth-social/backend/internal/cache"
	"github.com/hearth-social/backend/internal/config"
	"github.com/hearth-social/backend/internal/logger"
	"github.com/hearth-social/backend/internal/purge"
	"github.com/hearth-social/backend/internal/storage"
	"github.com/spf13/cobra"
)

var purgeBatchSize int

var purgeCmd = &cobra.Command{
	Use:       "purge <messages|stories|all>",
	Short:     "Run one purge pass now",
	Long:      "Deletes soft-deleted messages and expired stories the same way the server's scheduler does, then exits.",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{purge.TaskMessages, purge.TaskStories, purge.TaskAll},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPurge(args[0])
	},
}

func init() {
	purgeCmd.Flags().IntVar(&purgeBatchSize, "batch-size", 0, "Rows per batch (defaults to PURGE_BATCH_SIZE)")
}

func runPurge(task string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	db, cleanup, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	var keys purge.KeyDeleter
	if rc, err := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB); err != nil {
		logger.WarnWithFields("Redis unavailable, story cache keys will expire on their own", err)
	} else {
		defer rc.Close()
		keys = rc
	}

	var media purge.MediaDeleter
	if cfg.AWSBucket != "" {
		store, err := storage.NewS3MediaStore(cfg.AWSRegion, cfg.AWSBucket, cfg.CDNBaseURL)
		if err != nil {
			logger.WarnWithFields("S3 unavailable, story media will be left in place", err)
		} else {
			media = store
		}
	}

	batch := cfg.PurgeBatchSize
	if purgeBatchSize > 0 {
		batch = purgeBatchSize
	}
	scheduler := purge.NewScheduler(db, keys, media, purge.WithBatchSize(batch))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	results, err := scheduler.Run(ctx, task)
	if err != nil {
		return err
	}
	return printResults(results)
}

func printResults(results []purge.Result) error {
	if output == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TASK\tDELETED\tFAILED\tDURATION")
	for _, r := range results {
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", r.Task, r.Deleted, r.Failed, r.Duration)
	}
	return w.Flush()
}
