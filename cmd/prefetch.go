// cmd/prefetch.go - Response store warm-up command
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/valpere/building_tiles/internal/batch"
	"github.com/valpere/building_tiles/internal/grid"
	"github.com/valpere/building_tiles/internal/wfs"
)

// prefetchCmd represents the prefetch command
var prefetchCmd = &cobra.Command{
	Use:   "prefetch",
	Short: "Fetch every tile covering a bounding box",
	Long: `Fetch the buildings of every grid tile covering a bounding box. With a Redis
store configured (--redis-addr or store.redis_addr) each response is stored, so
later view runs and other instances sharing the store do not hit the feature
service for these tiles.

Requests run with at most --concurrency in flight (default
tiles.max_concurrent_loads). Ctrl-C stops scheduling new tiles and waits for
those in flight.

Examples:
  # Warm the store for an area
  building-tiles prefetch --redis-addr localhost:6379 --bbox "76.9,21.6,77.1,21.8"

  # More parallel requests, stop on the first failure
  building-tiles prefetch --bbox "76.9,21.6,77.1,21.8" --concurrency 8 --fail-on-error`,
	RunE: runPrefetch,
}

func init() {
	rootCmd.AddCommand(prefetchCmd)

	prefetchCmd.Flags().String("bbox", "", "bounding box: 'min_lon,min_lat,max_lon,max_lat'")
	prefetchCmd.Flags().Int("concurrency", 0, "requests in flight (default: tiles.max_concurrent_loads)")
	prefetchCmd.Flags().Int("max-tiles", 10000, "refuse boxes covering more tiles than this")
	prefetchCmd.Flags().Bool("fail-on-error", false, "stop on the first failed tile")
	prefetchCmd.Flags().Bool("progress", true, "show progress bar")
	prefetchCmd.Flags().Duration("job-timeout", 0, "abort the job after this duration (0 = no limit)")

	_ = prefetchCmd.MarkFlagRequired("bbox")
}

func runPrefetch(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadRuntime()
	if err != nil {
		return err
	}

	bboxStr, _ := cmd.Flags().GetString("bbox")
	concurrency, _ := cmd.Flags().GetInt("concurrency")
	maxTiles, _ := cmd.Flags().GetInt("max-tiles")
	failOnError, _ := cmd.Flags().GetBool("fail-on-error")
	showProgress, _ := cmd.Flags().GetBool("progress")
	timeout, _ := cmd.Flags().GetDuration("job-timeout")

	bounds, err := batch.ParseBBox(bboxStr)
	if err != nil {
		return fmt.Errorf("invalid bbox: %w", err)
	}
	if concurrency <= 0 {
		concurrency = cfg.Tiles.MaxConcurrentLoads
	}

	if cfg.Store.RedisAddr == "" {
		log.Warn("No response store configured, tiles are fetched but not kept")
	}

	service, err := wfs.NewFetcherFactory(cfg, log).CreateService()
	if err != nil {
		return err
	}
	defer service.Close()

	var reporter batch.ProgressReporter
	if showProgress {
		reporter = batch.NewBarReporter(os.Stderr)
	} else {
		reporter = batch.NewLogReporter(log, 100)
	}

	processor := batch.NewProcessor(service, wfs.NewQueryBuilder(cfg), grid.NewIndexer(cfg.Tiles.TileSize), reporter, log)
	job, err := processor.Plan(bounds, &batch.JobConfig{
		Concurrency: concurrency,
		Timeout:     timeout,
		MaxTiles:    maxTiles,
		FailOnError: failOnError,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := processor.Process(ctx, job); err != nil {
		return fmt.Errorf("prefetch job %s %s: %w", job.ID, job.Status, err)
	}

	progress := job.Progress.Snapshot()
	if progress.FailedTiles > 0 {
		for _, tileErr := range batch.Errors(job) {
			log.WithError(tileErr).Debug("Failed tile")
		}
		return fmt.Errorf("prefetch job %s: %d of %d tiles failed", job.ID, progress.FailedTiles, progress.TotalTiles)
	}
	return nil
}
