// internal/batch/progress.go - Prefetch progress reporting
package batch

import (
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	pb "gopkg.in/cheggaaa/pb.v1"
)

// BarReporter draws a terminal progress bar for a job
type BarReporter struct {
	out io.Writer
	bar *pb.ProgressBar
}

// NewBarReporter creates a progress bar reporter writing to out
func NewBarReporter(out io.Writer) *BarReporter {
	return &BarReporter{out: out}
}

// ReportStart starts the bar sized to the job's tile count
func (r *BarReporter) ReportStart(job *Job) {
	r.bar = pb.New(len(job.Tiles)).Prefix(fmt.Sprintf("Prefetch %s : ", job.ID))
	r.bar.Output = r.out
	r.bar.ShowSpeed = true
	r.bar.SetRefreshRate(time.Second)
	r.bar.Start()
}

// ReportTile advances the bar by one tile
func (r *BarReporter) ReportTile(job *Job, result *WorkResult) {
	if r.bar != nil {
		r.bar.Increment()
	}
}

// ReportComplete stops the bar and prints a summary line
func (r *BarReporter) ReportComplete(job *Job) {
	if r.bar == nil {
		return
	}
	p := job.Progress.Snapshot()
	r.bar.FinishPrint(fmt.Sprintf("Prefetch %s %s: %d tiles, %d failed, %d from store, %d features",
		job.ID, job.Status, p.ProcessedTiles, p.FailedTiles, p.StoredTiles, p.Features))
}

// Current returns the number of tiles the bar has counted
func (r *BarReporter) Current() int64 {
	if r.bar == nil {
		return 0
	}
	return r.bar.Get()
}

// LogReporter reports progress through the logger, for non-interactive runs
type LogReporter struct {
	log   logrus.FieldLogger
	every int64
}

// NewLogReporter logs a progress line every n processed tiles
func NewLogReporter(log logrus.FieldLogger, every int) *LogReporter {
	if every < 1 {
		every = 1
	}
	return &LogReporter{log: log, every: int64(every)}
}

// ReportStart logs the job plan
func (r *LogReporter) ReportStart(job *Job) {
	r.log.WithFields(logrus.Fields{
		"job":         job.ID,
		"tiles":       len(job.Tiles),
		"concurrency": job.Config.Concurrency,
	}).Info("Prefetch planned")
}

// ReportTile logs every n-th tile
func (r *LogReporter) ReportTile(job *Job, result *WorkResult) {
	p := job.Progress.Snapshot()
	if p.ProcessedTiles%r.every != 0 && p.ProcessedTiles != p.TotalTiles {
		return
	}
	r.log.WithFields(logrus.Fields{
		"job":       job.ID,
		"processed": p.ProcessedTiles,
		"total":     p.TotalTiles,
		"rate":      fmt.Sprintf("%.1f/s", p.Throughput),
	}).Info("Prefetch progress")
}

// ReportComplete logs the final status
func (r *LogReporter) ReportComplete(job *Job) {
	p := job.Progress.Snapshot()
	entry := r.log.WithFields(logrus.Fields{
		"job":    job.ID,
		"status": job.Status,
		"failed": p.FailedTiles,
	})
	if job.Error != nil {
		entry = entry.WithError(job.Error)
	}
	entry.Info("Prefetch complete")
}
