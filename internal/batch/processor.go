// internal/batch/processor.go - Prefetch job execution
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"
	"go.uber.org/multierr"

	"github.com/valpere/building_tiles/internal"
	"github.com/valpere/building_tiles/internal/grid"
	"github.com/valpere/building_tiles/internal/limiter"
	"github.com/valpere/building_tiles/internal/wfs"
)

// Processor runs prefetch jobs against a feature source. When the source
// is backed by a response store, every fetched tile is written to it.
type Processor struct {
	source   wfs.FeatureSource
	queries  *wfs.QueryBuilder
	indexer  *grid.Indexer
	reporter ProgressReporter
	log      logrus.FieldLogger
	mutex    sync.Mutex
}

// NewProcessor creates a prefetch processor. reporter may be nil.
func NewProcessor(source wfs.FeatureSource, queries *wfs.QueryBuilder, indexer *grid.Indexer, reporter ProgressReporter, log logrus.FieldLogger) *Processor {
	return &Processor{
		source:   source,
		queries:  queries,
		indexer:  indexer,
		reporter: reporter,
		log:      log,
	}
}

// Plan builds a job for every tile covering bounds. It fails with a
// validation error when the cover exceeds config.MaxTiles.
func (p *Processor) Plan(bounds orb.Bound, config *JobConfig) (*Job, error) {
	if config == nil {
		config = NewJobConfig()
	}
	if config.Concurrency <= 0 {
		return nil, internal.NewError(internal.ErrorCodeValidation, "concurrency must be positive", nil)
	}

	lo := p.indexer.TileIDForPoint(bounds.Min)
	hi := p.indexer.TileIDForPoint(bounds.Max)
	count := (hi.X - lo.X + 1) * (hi.Y - lo.Y + 1)
	if config.MaxTiles > 0 && count > config.MaxTiles {
		return nil, internal.NewError(internal.ErrorCodeValidation,
			fmt.Sprintf("bbox covers %d tiles, more than the limit of %d", count, config.MaxTiles), nil)
	}

	return NewJob(bounds, p.indexer.Cover(bounds), config), nil
}

// Process fetches every tile of the job with at most Concurrency requests
// in flight. Tile failures are collected; the job fails on them only when
// FailOnError is set. Cancelling ctx stops scheduling and marks the job
// canceled.
func (p *Processor) Process(ctx context.Context, job *Job) error {
	if job.Config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, job.Config.Timeout)
		defer cancel()
	}
	runCtx, abort := context.WithCancel(ctx)
	defer abort()

	p.mutex.Lock()
	job.Status = JobStatusRunning
	now := time.Now()
	job.StartedAt = &now
	p.mutex.Unlock()

	log := p.log.WithFields(logrus.Fields{"job": job.ID, "tiles": len(job.Tiles)})
	log.Info("Prefetch started")
	if p.reporter != nil {
		p.reporter.ReportStart(job)
	}

	slots := limiter.New(job.Config.Concurrency)

	var (
		wg      conc.WaitGroup
		errMu   sync.Mutex
		errs    error
		aborted bool
	)

	for _, id := range job.Tiles {
		if err := slots.Acquire(runCtx); err != nil {
			break
		}

		id := id
		wg.Go(func() {
			defer slots.Release()

			result := p.processTile(runCtx, id)
			job.Progress.Record(result)
			if p.reporter != nil {
				p.reporter.ReportTile(job, result)
			}

			if result.Error == nil {
				return
			}
			log.WithError(result.Error).WithField("tile", id).Warn("Tile prefetch failed")

			errMu.Lock()
			errs = multierr.Append(errs, fmt.Errorf("tile %s: %w", id, result.Error))
			if job.Config.FailOnError && !aborted {
				aborted = true
				abort()
			}
			errMu.Unlock()
		})
	}
	wg.Wait()

	var err error
	switch {
	case aborted:
		err = internal.NewError(internal.ErrorCodeProcessing, "prefetch aborted on tile failure", errs)
		p.finish(job, JobStatusFailed, err)
	case ctx.Err() != nil:
		err = internal.NewError(internal.ErrorCodeTimeout, "prefetch canceled", multierr.Append(ctx.Err(), errs))
		p.finish(job, JobStatusCanceled, err)
	default:
		p.finish(job, JobStatusCompleted, errs)
	}

	progress := job.Progress.Snapshot()
	log.WithFields(logrus.Fields{
		"status":   job.Status,
		"success":  progress.SuccessTiles,
		"failed":   progress.FailedTiles,
		"stored":   progress.StoredTiles,
		"features": progress.Features,
	}).Info("Prefetch finished")

	return err
}

// processTile fetches one tile through the feature source
func (p *Processor) processTile(ctx context.Context, id grid.TileID) *WorkResult {
	start := time.Now()
	result := &WorkResult{Tile: id}

	if err := ctx.Err(); err != nil {
		result.Error = err
		return result
	}

	query := p.queries.Build(id, p.indexer.BoundsFor(id))
	batch, err := p.source.FetchFeatures(ctx, query)
	result.Duration = time.Since(start)
	if err != nil {
		result.Error = err
		return result
	}

	result.Features = len(batch.Features)
	result.Malformed = batch.Malformed
	result.FromStore = batch.Response != nil && batch.Response.FromStore
	return result
}

func (p *Processor) finish(job *Job, status JobStatus, err error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	job.Status = status
	job.Error = err
	now := time.Now()
	job.CompletedAt = &now

	if p.reporter != nil {
		p.reporter.ReportComplete(job)
	}
}

// Errors returns the individual tile errors of a finished job
func Errors(job *Job) []error {
	if job.Error == nil {
		return nil
	}
	var e *internal.Error
	if errors.As(job.Error, &e) && e.Cause != nil {
		return multierr.Errors(e.Cause)
	}
	return multierr.Errors(job.Error)
}
