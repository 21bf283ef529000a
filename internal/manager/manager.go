// internal/manager/manager.go - Viewport-driven building tile manager
package manager

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"
	"go.uber.org/atomic"

	"github.com/valpere/building_tiles/internal"
	"github.com/valpere/building_tiles/internal/building"
	"github.com/valpere/building_tiles/internal/grid"
	"github.com/valpere/building_tiles/internal/limiter"
	"github.com/valpere/building_tiles/internal/metrics"
	"github.com/valpere/building_tiles/internal/scene"
	"github.com/valpere/building_tiles/internal/tilecache"
	"github.com/valpere/building_tiles/internal/wfs"
)

// Manager loads the buildings around the camera tile by tile and keeps the
// scene layer in sync with the tiles the camera currently requires.
//
// All scene and visible-set mutations happen under mu. Fetches run in their
// own goroutines and take mu only to publish their result.
type Manager struct {
	opts     Options
	indexer  *grid.Indexer
	decoder  *building.Decoder
	cache    *tilecache.Cache
	limiter  *limiter.Limiter
	source   wfs.FeatureSource
	host     scene.Host
	viewport scene.Viewport
	notifier scene.Notifier
	log      logrus.FieldLogger

	ctx    context.Context
	cancel context.CancelFunc
	tasks  conc.WaitGroup

	mu         sync.Mutex
	enabled    bool
	closed     bool
	generation uint64
	layer      scene.Layer
	required   grid.Set
	pending    grid.Set
	visible    map[string]*building.Entity
	timer      *time.Timer

	statsMu sync.Mutex
	decode  building.Stats

	passes        atomic.Uint64
	fetches       atomic.Uint64
	fetchFailures atomic.Uint64
	skipped       atomic.Uint64
	coalesced     atomic.Uint64
}

// New creates an enabled manager. No pass runs until the viewport changes
// or a refresh is requested.
func New(opts Options, deps Dependencies) (*Manager, error) {
	if deps.Source == nil || deps.Host == nil || deps.Viewport == nil {
		return nil, internal.NewError(internal.ErrorCodeConfig, "source, host and viewport are required", nil)
	}
	if opts.TileSize <= 0 {
		return nil, internal.NewError(internal.ErrorCodeConfig, fmt.Sprintf("tile size must be positive, got %v", opts.TileSize), nil)
	}
	if opts.LayerName == "" {
		opts.LayerName = DefaultLayerName
	}

	log := deps.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		opts:     opts,
		indexer:  grid.NewIndexer(opts.TileSize),
		decoder:  building.NewDecoderWithOptions(opts.Decoder),
		cache:    tilecache.New(opts.CacheSize),
		limiter:  limiter.New(opts.MaxConcurrentLoads),
		source:   deps.Source,
		host:     deps.Host,
		viewport: deps.Viewport,
		notifier: deps.Notifier,
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
		enabled:  true,
		required: grid.NewSet(),
		pending:  grid.NewSet(),
		visible:  make(map[string]*building.Entity),
	}

	m.cache.OnEvict(func(tile *tilecache.Tile) {
		metrics.CacheEvictionsTotal.Inc()
		m.log.WithField("tile", tile.ID).Debug("Evicted tile from cache")
	})

	return m, nil
}

// Enable turns loading on and runs a pass immediately
func (m *Manager) Enable(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.enabled = true
	_, err := m.reconcile(ctx)
	return err
}

// Disable hides every building and suppresses passes until re-enabled.
// It returns the enabled state after the call, which is always false.
func (m *Manager) Disable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.disable()
	return m.enabled
}

// Toggle flips the enabled state. Turning on runs a pass; turning off hides
// every building. It returns the enabled state after the call.
func (m *Manager) Toggle(ctx context.Context) (bool, error) {
	m.mu.Lock()
	var err error
	if m.enabled {
		m.disable()
	} else {
		m.enabled = true
		_, err = m.reconcile(ctx)
	}
	enabled := m.enabled
	m.mu.Unlock()

	if enabled {
		m.notify("Buildings on", scene.LevelInfo)
	} else {
		m.notify("Buildings off", scene.LevelInfo)
	}
	return enabled, err
}

// Enabled reports whether loading is on
func (m *Manager) Enabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

// ViewportChanged schedules a pass after the debounce delay. Calls within the
// delay restart it, so a burst of camera moves results in one pass.
func (m *Manager) ViewportChanged() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || !m.enabled {
		return
	}
	m.stopTimer()
	m.timer = time.AfterFunc(m.opts.Debounce, m.debounced)
}

func (m *Manager) debounced() {
	report, err := m.Refresh(m.ctx)
	if err != nil {
		m.log.WithError(err).Error("Reconciliation failed")
		return
	}
	m.log.WithFields(logrus.Fields{
		"pass":     report.ID,
		"state":    report.State,
		"attached": report.Attached,
		"detached": report.Detached,
	}).Debug("Debounced pass finished")
}

// Refresh runs one pass now
func (m *Manager) Refresh(ctx context.Context) (*PassReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reconcile(ctx)
}

// ForceRefresh forgets tiles whose load failed, so they are fetched again,
// and runs a pass now. A pending debounced pass is dropped.
func (m *Manager) ForceRefresh(ctx context.Context) (*PassReport, error) {
	m.mu.Lock()
	if m.enabled {
		m.stopTimer()
		if removed := m.cache.RemoveFailed(); removed > 0 {
			m.log.WithField("tiles", removed).Info("Retrying failed tiles")
		}
	}
	report, err := m.reconcile(ctx)
	m.mu.Unlock()

	if err == nil && report.State != StateDisabled {
		m.notify("Updating buildings...", scene.LevelInfo)
	}
	return report, err
}

// Clear removes the layer from the host and drops the cache and the visible
// set. Loads still running are cached when they finish but never attached.
func (m *Manager) Clear() {
	m.mu.Lock()
	m.stopTimer()
	if m.layer != nil {
		m.host.RemoveLayer(m.layer)
		m.layer = nil
	}
	m.cache.Clear()
	m.visible = make(map[string]*building.Entity)
	m.required = grid.NewSet()
	m.pending = grid.NewSet()
	m.generation++
	metrics.VisibleEntities.Set(0)
	m.mu.Unlock()

	m.log.Info("Buildings cleared")
	m.notify("Buildings cleared", scene.LevelInfo)
}

// Wait blocks until every started fetch has completed
func (m *Manager) Wait() {
	m.tasks.Wait()
}

// Close disables the manager, cancels running fetches and waits for them
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.enabled = false
	m.stopTimer()
	m.mu.Unlock()

	m.cancel()
	m.tasks.Wait()
}

// Visible returns the attached buildings ordered by key
func (m *Manager) Visible() []*building.Entity {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*building.Entity, 0, len(m.visible))
	for _, e := range m.visible {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// Required returns the tile ids required by the last pass
func (m *Manager) Required() grid.Set {
	m.mu.Lock()
	defer m.mu.Unlock()
	return grid.NewSet(m.required.IDs()...)
}

// Stats returns a snapshot of the manager state
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	stats := Stats{
		Enabled: m.enabled,
		Visible: len(m.visible),
		Pending: len(m.pending),
	}
	m.mu.Unlock()

	m.statsMu.Lock()
	stats.Decode.Merge(m.decode)
	m.statsMu.Unlock()

	stats.InFlight = m.limiter.InFlight()
	stats.Passes = m.passes.Load()
	stats.Fetches = m.fetches.Load()
	stats.FetchFailures = m.fetchFailures.Load()
	stats.Skipped = m.skipped.Load()
	stats.Coalesced = m.coalesced.Load()
	stats.Cache = m.cache.Stats()
	return stats
}

// disable hides everything and turns loading off. Caller holds mu.
func (m *Manager) disable() {
	m.enabled = false
	m.stopTimer()
	m.hideAll()
	m.setRequired()
}

// stopTimer cancels a scheduled debounced pass. Caller holds mu.
func (m *Manager) stopTimer() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Manager) notify(message string, level scene.Level) {
	if m.notifier != nil {
		m.notifier.Notify(message, level)
	}
}
