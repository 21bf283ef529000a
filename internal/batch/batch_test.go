package batch

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/valpere/building_tiles/internal"
	"github.com/valpere/building_tiles/internal/config"
	"github.com/valpere/building_tiles/internal/grid"
	"github.com/valpere/building_tiles/internal/logging"
	"github.com/valpere/building_tiles/internal/wfs"
)

type stubSource struct {
	mu      sync.Mutex
	calls   map[grid.TileID]int
	fail    map[grid.TileID]error
	stored  map[grid.TileID]bool
	block   bool
	delay   time.Duration
	active  atomic.Int64
	peak    atomic.Int64
	started chan struct{}
}

func newStubSource() *stubSource {
	return &stubSource{
		calls:   make(map[grid.TileID]int),
		fail:    make(map[grid.TileID]error),
		stored:  make(map[grid.TileID]bool),
		started: make(chan struct{}, 64),
	}
}

func (s *stubSource) FetchFeatures(ctx context.Context, q *wfs.Query) (*wfs.FeatureBatch, error) {
	n := s.active.Inc()
	defer s.active.Dec()
	for {
		peak := s.peak.Load()
		if n <= peak || s.peak.CAS(peak, n) {
			break
		}
	}

	s.mu.Lock()
	s.calls[q.Tile]++
	failure := s.fail[q.Tile]
	stored := s.stored[q.Tile]
	s.mu.Unlock()

	s.started <- struct{}{}

	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if failure != nil {
		return nil, failure
	}

	feature := geojson.NewFeature(orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}})
	return &wfs.FeatureBatch{
		Query:    q,
		Features: []*geojson.Feature{feature},
		Response: &wfs.Response{Query: q, FromStore: stored},
	}, nil
}

func (s *stubSource) totalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.calls {
		total += n
	}
	return total
}

func newTestProcessor(source wfs.FeatureSource, reporter ProgressReporter) *Processor {
	cfg := config.Default()
	cfg.Server.BaseURL = "http://wfs.test"
	return NewProcessor(source, wfs.NewQueryBuilder(cfg), grid.NewIndexer(cfg.Tiles.TileSize), reporter, logging.Discard())
}

// 3x2 tiles on the 0.03 degree grid
var testBounds = orb.Bound{Min: orb.Point{0.001, 0.001}, Max: orb.Point{0.07, 0.04}}

func TestParseBBox(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    orb.Bound
		wantErr bool
	}{
		{name: "valid", input: "76.98,21.66,77.01,21.69", want: orb.Bound{Min: orb.Point{76.98, 21.66}, Max: orb.Point{77.01, 21.69}}},
		{name: "spaces", input: " 1, 2 ,3,4 ", want: orb.Bound{Min: orb.Point{1, 2}, Max: orb.Point{3, 4}}},
		{name: "too few values", input: "1,2,3", wantErr: true},
		{name: "not a number", input: "1,x,3,4", wantErr: true},
		{name: "inverted", input: "3,2,1,4", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseBBox(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestPlan(t *testing.T) {
	p := newTestProcessor(newStubSource(), nil)

	job, err := p.Plan(testBounds, &JobConfig{Concurrency: 2, MaxTiles: 10})
	require.NoError(t, err)
	require.Len(t, job.Tiles, 6)
	require.NotEmpty(t, job.ID)
	require.Equal(t, JobStatusPending, job.Status)
	require.Equal(t, int64(6), job.Progress.Snapshot().TotalTiles)

	_, err = p.Plan(testBounds, &JobConfig{Concurrency: 2, MaxTiles: 4})
	require.True(t, internal.HasCode(err, internal.ErrorCodeValidation))

	_, err = p.Plan(testBounds, &JobConfig{Concurrency: 0})
	require.True(t, internal.HasCode(err, internal.ErrorCodeValidation))
}

func TestProcess(t *testing.T) {
	source := newStubSource()
	source.delay = 5 * time.Millisecond
	source.stored[grid.TileID{X: 0, Y: 0}] = true

	p := newTestProcessor(source, nil)
	job, err := p.Plan(testBounds, &JobConfig{Concurrency: 2})
	require.NoError(t, err)

	require.NoError(t, p.Process(context.Background(), job))

	require.Equal(t, JobStatusCompleted, job.Status)
	require.NotNil(t, job.CompletedAt)
	require.NoError(t, job.Error)
	require.Equal(t, 6, source.totalCalls())
	require.LessOrEqual(t, source.peak.Load(), int64(2))

	progress := job.Progress.Snapshot()
	require.Equal(t, int64(6), progress.SuccessTiles)
	require.Equal(t, int64(1), progress.StoredTiles)
	require.Equal(t, int64(6), progress.Features)
	require.InDelta(t, 100, job.Progress.CalculateProgress(), 1e-9)
}

func TestProcessCollectsFailures(t *testing.T) {
	source := newStubSource()
	source.fail[grid.TileID{X: 1, Y: 0}] = internal.NewError(internal.ErrorCodeNetwork, "boom", nil)
	source.fail[grid.TileID{X: 2, Y: 1}] = errors.New("broken")

	p := newTestProcessor(source, nil)
	job, err := p.Plan(testBounds, &JobConfig{Concurrency: 3})
	require.NoError(t, err)

	require.NoError(t, p.Process(context.Background(), job))

	require.Equal(t, JobStatusCompleted, job.Status)
	require.Len(t, Errors(job), 2)
	progress := job.Progress.Snapshot()
	require.Equal(t, int64(2), progress.FailedTiles)
	require.Equal(t, int64(4), progress.SuccessTiles)
}

func TestProcessFailOnError(t *testing.T) {
	source := newStubSource()
	source.fail[grid.TileID{X: 0, Y: 0}] = errors.New("broken")

	p := newTestProcessor(source, nil)
	job, err := p.Plan(testBounds, &JobConfig{Concurrency: 1, FailOnError: true})
	require.NoError(t, err)

	err = p.Process(context.Background(), job)
	require.Error(t, err)
	require.True(t, internal.HasCode(err, internal.ErrorCodeProcessing))
	require.Equal(t, JobStatusFailed, job.Status)
	require.Equal(t, 1, source.totalCalls())
}

func TestProcessCanceled(t *testing.T) {
	source := newStubSource()
	source.block = true

	p := newTestProcessor(source, nil)
	job, err := p.Plan(testBounds, &JobConfig{Concurrency: 2})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-source.started
		cancel()
	}()

	err = p.Process(ctx, job)
	require.True(t, internal.HasCode(err, internal.ErrorCodeTimeout))
	require.Equal(t, JobStatusCanceled, job.Status)
	require.LessOrEqual(t, source.totalCalls(), 2)
}

func TestBarReporter(t *testing.T) {
	reporter := NewBarReporter(io.Discard)
	p := newTestProcessor(newStubSource(), reporter)
	job, err := p.Plan(testBounds, &JobConfig{Concurrency: 2})
	require.NoError(t, err)

	require.NoError(t, p.Process(context.Background(), job))
	require.Equal(t, int64(6), reporter.Current())
}

func TestLogReporter(t *testing.T) {
	log, hook := test.NewNullLogger()
	reporter := NewLogReporter(log, 4)

	p := newTestProcessor(newStubSource(), reporter)
	job, err := p.Plan(testBounds, &JobConfig{Concurrency: 1})
	require.NoError(t, err)
	require.NoError(t, p.Process(context.Background(), job))

	progressLines := 0
	for _, entry := range hook.AllEntries() {
		if entry.Message == "Prefetch progress" {
			progressLines++
		}
	}
	// tile 4 and the last tile
	require.Equal(t, 2, progressLines)
	require.Equal(t, "Prefetch complete", hook.LastEntry().Message)
}
