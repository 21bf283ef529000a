// internal/manager/reconcile.go - Visibility reconciliation and tile loading
package manager

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/teris-io/shortid"

	"github.com/valpere/building_tiles/internal"
	"github.com/valpere/building_tiles/internal/building"
	"github.com/valpere/building_tiles/internal/grid"
	"github.com/valpere/building_tiles/internal/metrics"
	"github.com/valpere/building_tiles/internal/tilecache"
	"github.com/valpere/building_tiles/internal/wfs"
)

// reconcile runs one pass: altitude gate, required set, load or reuse, prune.
// Caller holds mu.
func (m *Manager) reconcile(ctx context.Context) (*PassReport, error) {
	report := &PassReport{ID: m.passID()}

	if m.closed || !m.enabled {
		report.State = StateDisabled
		return report, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, internal.NewError(internal.ErrorCodeTimeout, "reconciliation canceled", err)
	}
	if err := m.ensureLayer(); err != nil {
		return nil, err
	}

	m.passes.Inc()
	log := m.log.WithField("pass", report.ID)

	camera := m.viewport.Camera()
	report.Camera = camera

	if camera.Height > m.opts.MinZoomHeight {
		report.Detached = m.hideAll()
		m.setRequired()
		report.State = StateAllHidden
		metrics.PassesTotal.WithLabelValues(string(report.State)).Inc()
		log.WithField("height", camera.Height).Debug("Camera above altitude gate, buildings hidden")
		return report, nil
	}

	report.Center = m.indexer.TileIDFor(camera.Lon, camera.Lat)
	report.Required = grid.Neighborhood(report.Center, m.opts.NeighborhoodRadius)
	m.setRequired(report.Required...)

	for _, id := range report.Required {
		if tile, ok := m.cache.Get(id); ok {
			metrics.CacheHitsTotal.Inc()
			report.Cached++
			report.Attached += m.attach(tile.Entities)
			continue
		}

		if m.pending.Has(id) {
			m.coalesced.Inc()
			metrics.CoalescedTilesTotal.Inc()
			report.Coalesced = append(report.Coalesced, id)
			continue
		}

		if !m.limiter.TryAcquire() {
			m.skipped.Inc()
			metrics.SkippedTilesTotal.Inc()
			report.Skipped = append(report.Skipped, id)
			continue
		}

		m.pending[id] = struct{}{}
		report.Started = append(report.Started, id)
		m.startFetch(id)
	}

	report.Detached = m.prune()
	report.State = StateSettled
	metrics.PassesTotal.WithLabelValues(string(report.State)).Inc()

	log.WithFields(logrus.Fields{
		"tile":      report.Center,
		"cached":    report.Cached,
		"started":   len(report.Started),
		"skipped":   len(report.Skipped),
		"coalesced": len(report.Coalesced),
		"attached":  report.Attached,
		"detached":  report.Detached,
	}).Debug("Pass settled")

	return report, nil
}

// startFetch loads a tile in the background. The caller has acquired a
// limiter slot, which is released when the task ends. Caller holds mu.
func (m *Manager) startFetch(id grid.TileID) {
	generation := m.generation
	query := m.opts.Queries.Build(id, m.indexer.BoundsFor(id))

	m.fetches.Inc()
	metrics.InFlightFetches.Inc()

	m.tasks.Go(func() {
		defer func() {
			metrics.InFlightFetches.Dec()
			m.limiter.Release()
		}()

		tile, _ := m.cache.GetOrLoad(id, func() *tilecache.Tile {
			return m.load(query)
		})
		m.complete(id, generation, tile)
	})
}

// load fetches and decodes one tile. Every failure becomes an empty tile
// marked failed; nothing is returned as an error.
func (m *Manager) load(query *wfs.Query) (tile *tilecache.Tile) {
	start := time.Now()
	log := m.log.WithField("tile", query.Tile)

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("feature source panic: %v", r)
			m.fetchFailed(log, err)
			tile = tilecache.FailedTile(query.Tile, err)
		}
		metrics.FetchDurationMs.Observe(float64(time.Since(start).Milliseconds()))
	}()

	log.WithField("url", query.URL()).Debug("Loading tile")

	batch, err := m.source.FetchFeatures(m.ctx, query)
	if err != nil {
		m.fetchFailed(log, err)
		return tilecache.FailedTile(query.Tile, err)
	}

	entities, stats := m.decoder.DecodeAll(query.Tile, batch.Features)
	if batch.Malformed > 0 {
		stats.Merge(building.Stats{Rejected: map[building.Reason]int{building.ReasonMalformedFeature: batch.Malformed}})
	}
	for reason, n := range stats.Rejected {
		metrics.RejectedFeaturesTotal.WithLabelValues(string(reason)).Add(float64(n))
	}

	m.statsMu.Lock()
	m.decode.Merge(stats)
	m.statsMu.Unlock()

	metrics.FetchesTotal.WithLabelValues("ok").Inc()
	log.WithFields(logrus.Fields{
		"buildings": len(entities),
		"rejected":  stats.RejectedTotal(),
		"duration":  time.Since(start).Round(time.Millisecond),
	}).Info("Tile loaded")

	return tilecache.NewTile(query.Tile, entities)
}

func (m *Manager) fetchFailed(log logrus.FieldLogger, err error) {
	m.fetchFailures.Inc()
	metrics.FetchesTotal.WithLabelValues("failed").Inc()
	log.WithError(err).Warn("Tile load failed, caching empty tile")
}

// complete publishes a finished load, which is already cached. The entities
// are attached only while the manager is enabled, no Clear happened since the
// load started, and the tile is still required.
func (m *Manager) complete(id grid.TileID, generation uint64, tile *tilecache.Tile) {
	m.mu.Lock()
	defer m.mu.Unlock()

	log := m.log.WithField("tile", id)

	if generation != m.generation {
		log.Debug("Load finished after clear, cached only")
		return
	}
	delete(m.pending, id)

	if !m.enabled || m.layer == nil || !m.required.Has(id) {
		return
	}

	if attached := m.attach(tile.Entities); attached > 0 {
		log.WithField("attached", attached).Debug("Attached loaded tile")
	}
}

// ensureLayer creates the scene layer on first use. Caller holds mu.
func (m *Manager) ensureLayer() error {
	if m.layer != nil {
		return nil
	}
	layer, err := m.host.AddLayer(m.opts.LayerName)
	if err != nil {
		return internal.NewError(internal.ErrorCodeConfig, fmt.Sprintf("failed to create layer %q", m.opts.LayerName), err)
	}
	m.layer = layer
	return nil
}

// attach adds the entities not yet visible. Caller holds mu.
func (m *Manager) attach(entities []*building.Entity) int {
	attached := 0
	for _, e := range entities {
		key := e.Key()
		if _, ok := m.visible[key]; ok {
			continue
		}
		m.layer.Attach(e)
		m.visible[key] = e
		attached++
	}
	if attached > 0 {
		metrics.VisibleEntities.Set(float64(len(m.visible)))
	}
	return attached
}

// prune detaches every visible entity whose tile is not required. Caller holds mu.
func (m *Manager) prune() int {
	detached := 0
	for key, e := range m.visible {
		if m.required.Has(e.Tile) {
			continue
		}
		m.layer.Detach(e)
		delete(m.visible, key)
		detached++
	}
	if detached > 0 {
		metrics.VisibleEntities.Set(float64(len(m.visible)))
	}
	return detached
}

// setRequired records the tiles the camera needs and pins them in the cache,
// so a late load of another tile never evicts a visible one. Caller holds mu.
func (m *Manager) setRequired(ids ...grid.TileID) {
	m.required = grid.NewSet(ids...)
	m.cache.SetPinned(ids...)
}

// hideAll detaches everything. Caller holds mu.
func (m *Manager) hideAll() int {
	hidden := len(m.visible)
	if m.layer != nil {
		m.layer.DetachAll()
	}
	m.visible = make(map[string]*building.Entity)
	metrics.VisibleEntities.Set(0)
	return hidden
}

func (m *Manager) passID() string {
	id, err := shortid.Generate()
	if err != nil {
		return strconv.FormatUint(m.passes.Load()+1, 10)
	}
	return id
}
