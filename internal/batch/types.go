// internal/batch/types.go - Prefetch job types
package batch

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/spf13/cast"
	"github.com/teris-io/shortid"

	"github.com/valpere/building_tiles/internal/grid"
)

// Job is one prefetch run over every tile covering a bounding box
type Job struct {
	ID          string        `json:"id"`
	Bounds      orb.Bound     `json:"bounds"`
	Tiles       []grid.TileID `json:"tiles"`
	Config      *JobConfig    `json:"config"`
	Status      JobStatus     `json:"status"`
	Progress    *JobProgress  `json:"progress"`
	CreatedAt   time.Time     `json:"created_at"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	Error       error         `json:"-"`
}

// JobConfig contains configuration for a prefetch job
type JobConfig struct {
	Concurrency int           `json:"concurrency"`
	Timeout     time.Duration `json:"timeout"`
	MaxTiles    int           `json:"max_tiles"`
	FailOnError bool          `json:"fail_on_error"`
}

// JobStatus represents the current status of a prefetch job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
)

// JobProgress tracks the progress of a prefetch job. Workers update it
// concurrently, readers take a copy with Snapshot.
type JobProgress struct {
	mu sync.Mutex
	ProgressSnapshot
}

// ProgressSnapshot holds the progress counters
type ProgressSnapshot struct {
	TotalTiles     int64      `json:"total_tiles"`
	ProcessedTiles int64      `json:"processed_tiles"`
	FailedTiles    int64      `json:"failed_tiles"`
	SuccessTiles   int64      `json:"success_tiles"`
	StoredTiles    int64      `json:"stored_tiles"`
	Features       int64      `json:"features"`
	StartTime      time.Time  `json:"start_time"`
	EstimatedEnd   *time.Time `json:"estimated_end,omitempty"`
	Throughput     float64    `json:"throughput"`
}

// WorkResult is the outcome of prefetching one tile
type WorkResult struct {
	Tile      grid.TileID   `json:"tile"`
	Features  int           `json:"features"`
	Malformed int           `json:"malformed"`
	FromStore bool          `json:"from_store"`
	Error     error         `json:"-"`
	Duration  time.Duration `json:"duration"`
}

// ProgressReporter receives job lifecycle events
type ProgressReporter interface {
	ReportStart(job *Job)
	ReportTile(job *Job, result *WorkResult)
	ReportComplete(job *Job)
}

// NewJob creates a pending job for the given tiles
func NewJob(bounds orb.Bound, tiles []grid.TileID, config *JobConfig) *Job {
	id, err := shortid.Generate()
	if err != nil {
		id = fmt.Sprintf("job-%d", time.Now().UnixNano())
	}

	progress := NewJobProgress()
	progress.TotalTiles = int64(len(tiles))

	return &Job{
		ID:        id,
		Bounds:    bounds,
		Tiles:     tiles,
		Config:    config,
		Status:    JobStatusPending,
		Progress:  progress,
		CreatedAt: time.Now(),
	}
}

// NewJobConfig creates a new job configuration with default values
func NewJobConfig() *JobConfig {
	return &JobConfig{
		Concurrency: 2,
		Timeout:     30 * time.Minute,
		MaxTiles:    10000,
		FailOnError: false,
	}
}

// NewJobProgress creates a new job progress tracker
func NewJobProgress() *JobProgress {
	p := &JobProgress{}
	p.StartTime = time.Now()
	return p
}

// IsComplete returns true if the job has finished (successfully or with error)
func (j *Job) IsComplete() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed || j.Status == JobStatusCanceled
}

// IsRunning returns true if the job is currently being processed
func (j *Job) IsRunning() bool {
	return j.Status == JobStatusRunning
}

// Record adds one tile result to the progress counters
func (p *JobProgress) Record(result *WorkResult) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.ProcessedTiles++
	if result.Error != nil {
		p.FailedTiles++
	} else {
		p.SuccessTiles++
		p.Features += int64(result.Features)
		if result.FromStore {
			p.StoredTiles++
		}
	}
	p.updateThroughput()
	end := p.estimateCompletion()
	p.EstimatedEnd = &end
}

// Snapshot returns a copy of the counters safe to read while the job runs
func (p *JobProgress) Snapshot() ProgressSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ProgressSnapshot
}

// CalculateProgress calculates the completion percentage
func (p *JobProgress) CalculateProgress() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.TotalTiles == 0 {
		return 0
	}
	return float64(p.ProcessedTiles) / float64(p.TotalTiles) * 100
}

func (p *JobProgress) estimateCompletion() time.Time {
	remaining := p.TotalTiles - p.ProcessedTiles
	if remaining <= 0 || p.Throughput == 0 {
		return time.Now()
	}
	secondsRemaining := float64(remaining) / p.Throughput
	return time.Now().Add(time.Duration(secondsRemaining * float64(time.Second)))
}

func (p *JobProgress) updateThroughput() {
	elapsed := time.Since(p.StartTime)
	if elapsed.Seconds() > 0 && p.ProcessedTiles > 0 {
		p.Throughput = float64(p.ProcessedTiles) / elapsed.Seconds()
	}
}

// String returns a string representation of the job status
func (s JobStatus) String() string {
	return string(s)
}

// ParseBBox parses "minLon,minLat,maxLon,maxLat" into a bound
func ParseBBox(s string) (orb.Bound, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return orb.Bound{}, fmt.Errorf("bbox must have 4 comma separated values, got %d", len(parts))
	}

	values := make([]float64, 4)
	for i, part := range parts {
		v, err := cast.ToFloat64E(strings.TrimSpace(part))
		if err != nil {
			return orb.Bound{}, fmt.Errorf("bbox value %d: %w", i+1, err)
		}
		values[i] = v
	}

	if values[0] > values[2] || values[1] > values[3] {
		return orb.Bound{}, fmt.Errorf("bbox minimum (%v,%v) exceeds maximum (%v,%v)", values[0], values[1], values[2], values[3])
	}

	return orb.Bound{
		Min: orb.Point{values[0], values[1]},
		Max: orb.Point{values[2], values[3]},
	}, nil
}
