// cmd/view.go - Single viewport loading command
package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/valpere/building_tiles/internal/manager"
	"github.com/valpere/building_tiles/internal/metrics"
	"github.com/valpere/building_tiles/internal/output"
	"github.com/valpere/building_tiles/internal/scene"
	"github.com/valpere/building_tiles/internal/wfs"
)

// viewCmd represents the view command
var viewCmd = &cobra.Command{
	Use:   "view",
	Short: "Load the buildings visible from one camera position",
	Long: `Run the building tile manager for a single camera position. Passes are
repeated until every required tile has been loaded (or --passes is reached),
then the visible buildings are written as GeoJSON or JSON.

Above the altitude gate (tiles.min_zoom_height) nothing is loaded and the
output is empty.

Examples:
  # Write the visible buildings to stdout
  building-tiles view --base-url "https://geo.example.com" --lon 77.0 --lat 21.675 --height 800

  # Write to a compressed file with run metadata
  building-tiles view --lon 77.0 --lat 21.675 --height 800 --output view.geojson --compression --metadata

  # Export one file per tile, usable later with --base-path
  building-tiles view --lon 77.0 --lat 21.675 --height 800 --output ./tiles --multi-file

  # Serve Prometheus metrics while loading
  building-tiles view --lon 77.0 --lat 21.675 --height 800 --metrics-addr :9090`,
	RunE: runView,
}

func init() {
	rootCmd.AddCommand(viewCmd)

	// Camera flags
	viewCmd.Flags().Float64("lon", 0, "camera longitude in degrees")
	viewCmd.Flags().Float64("lat", 0, "camera latitude in degrees")
	viewCmd.Flags().Float64("height", 1000, "camera height above the ellipsoid in metres")

	// Output flags
	viewCmd.Flags().StringP("output", "o", "", "output file or directory (default: stdout)")
	viewCmd.Flags().Bool("multi-file", false, "write one {x}_{y}.geojson file per required tile")
	viewCmd.Flags().Bool("metadata", false, "include run metadata in output")

	// Processing flags
	viewCmd.Flags().Int("passes", 10, "maximum number of reconciliation passes")
	viewCmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address")

	_ = viewCmd.MarkFlagRequired("lon")
	_ = viewCmd.MarkFlagRequired("lat")
	cobra.CheckErr(viper.BindPFlag("metrics.addr", viewCmd.Flags().Lookup("metrics-addr")))
}

func runView(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadRuntime()
	if err != nil {
		return err
	}

	lon, _ := cmd.Flags().GetFloat64("lon")
	lat, _ := cmd.Flags().GetFloat64("lat")
	height, _ := cmd.Flags().GetFloat64("height")
	outputPath, _ := cmd.Flags().GetString("output")
	multiFile, _ := cmd.Flags().GetBool("multi-file")
	metadata, _ := cmd.Flags().GetBool("metadata")
	passes, _ := cmd.Flags().GetInt("passes")
	if passes < 1 {
		return fmt.Errorf("passes must be at least 1")
	}
	if multiFile && (outputPath == "" || outputPath == "-") {
		return fmt.Errorf("--multi-file requires --output to name a directory")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Addr != "" {
		shutdown := serveMetrics(cfg.Metrics.Addr, log)
		defer shutdown()
	}

	service, err := wfs.NewFetcherFactory(cfg, log).CreateService()
	if err != nil {
		return err
	}
	defer service.Close()

	host := scene.NewCollection()
	viewport := scene.NewStaticViewport(scene.Camera{Lon: lon, Lat: lat, Height: height})

	m, err := manager.New(manager.NewOptions(cfg), manager.Dependencies{
		Source:   service,
		Host:     host,
		Viewport: viewport,
		Notifier: scene.NewLogNotifier(log),
		Logger:   log,
	})
	if err != nil {
		return err
	}
	defer m.Close()

	report, err := settle(ctx, m, passes, log)
	if err != nil {
		return err
	}

	stats := m.Stats()
	snapshot := &output.Snapshot{
		Camera:   report.Camera,
		Center:   report.Center,
		Required: report.Required,
		Entities: m.Visible(),
		Metadata: &output.Metadata{
			Passes:        stats.Passes,
			Fetches:       stats.Fetches,
			FetchFailures: stats.FetchFailures,
			Skipped:       stats.Skipped,
			Decode:        stats.Decode,
			CachedTiles:   stats.Cache.Len,
			GeneratedAt:   time.Now(),
		},
	}

	format, err := output.ParseFormat(cfg.Output.Format)
	if err != nil {
		return err
	}
	writer, err := output.NewWriter(&output.WriterConfig{
		Format:      format,
		Pretty:      cfg.Output.Pretty,
		Compression: cfg.Output.Compression,
		Metadata:    metadata,
	}, outputPath, multiFile)
	if err != nil {
		return fmt.Errorf("failed to create writer: %w", err)
	}

	if err := writer.Write(snapshot); err != nil {
		writer.Close()
		return fmt.Errorf("failed to write output: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close output: %w", err)
	}

	log.WithFields(logrus.Fields{
		"tile":      report.Center,
		"buildings": len(snapshot.Entities),
		"passes":    stats.Passes,
		"fetches":   stats.Fetches,
		"failed":    stats.FetchFailures,
		"rejected":  stats.Decode.RejectedTotal(),
	}).Info("View complete")

	return nil
}

// settle runs passes until every required tile is cached, waiting for the
// fetches each pass started before running the next one. Canceling ctx
// closes the manager, which cancels the fetches in flight.
func settle(ctx context.Context, m *manager.Manager, passes int, log logrus.FieldLogger) (*manager.PassReport, error) {
	stop := context.AfterFunc(ctx, m.Close)
	defer stop()

	var report *manager.PassReport
	for i := 0; i < passes; i++ {
		var err error
		report, err = m.Refresh(ctx)
		if err != nil {
			return nil, err
		}
		if ctx.Err() != nil {
			break
		}
		if report.State == manager.StateAllHidden {
			log.WithField("height", report.Camera.Height).Warn("Camera is above the altitude gate, no buildings loaded")
			return report, nil
		}
		if report.Complete() {
			return report, nil
		}
		m.Wait()
		if ctx.Err() != nil {
			break
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("loading interrupted: %w", err)
	}

	log.WithField("passes", passes).Warn("Not every required tile loaded within the pass limit")
	return report, nil
}

// serveMetrics starts the metrics listener and returns its shutdown func
func serveMetrics(addr string, log logrus.FieldLogger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.WithField("addr", addr).Info("Serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("Metrics server failed")
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
