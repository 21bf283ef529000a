package cmd

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/valpere/building_tiles/internal/config"
	"github.com/valpere/building_tiles/internal/logging"
	"github.com/valpere/building_tiles/internal/manager"
	"github.com/valpere/building_tiles/internal/scene"
	"github.com/valpere/building_tiles/internal/wfs"
)

// hangingSource never answers; it returns once the fetch context ends
type hangingSource struct {
	once    sync.Once
	started chan struct{}
}

func (s *hangingSource) FetchFeatures(ctx context.Context, q *wfs.Query) (*wfs.FeatureBatch, error) {
	s.once.Do(func() { close(s.started) })
	<-ctx.Done()
	return nil, ctx.Err()
}

type emptySource struct{}

func (emptySource) FetchFeatures(ctx context.Context, q *wfs.Query) (*wfs.FeatureBatch, error) {
	return &wfs.FeatureBatch{Query: q}, nil
}

func newViewManager(t *testing.T, source wfs.FeatureSource) *manager.Manager {
	t.Helper()

	opts := manager.NewOptions(config.Default())
	opts.MaxConcurrentLoads = 9
	m, err := manager.New(opts, manager.Dependencies{
		Source:   source,
		Host:     scene.NewCollection(),
		Viewport: scene.NewStaticViewport(scene.Camera{Lon: 77.0, Lat: 21.675, Height: 500}),
		Logger:   logging.Discard(),
	})
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m
}

func TestSettle(t *testing.T) {
	m := newViewManager(t, emptySource{})

	report, err := settle(context.Background(), m, 5, logging.Discard())
	require.NoError(t, err)
	require.True(t, report.Complete())
	require.Equal(t, 9, report.Cached)
}

func TestSettleAboveAltitudeGate(t *testing.T) {
	opts := manager.NewOptions(config.Default())
	m, err := manager.New(opts, manager.Dependencies{
		Source:   emptySource{},
		Host:     scene.NewCollection(),
		Viewport: scene.NewStaticViewport(scene.Camera{Lon: 77.0, Lat: 21.675, Height: 200000}),
		Logger:   logging.Discard(),
	})
	require.NoError(t, err)
	defer m.Close()

	report, err := settle(context.Background(), m, 5, logging.Discard())
	require.NoError(t, err)
	require.Equal(t, manager.StateAllHidden, report.State)
}

func TestSettleInterruptedWhileWaiting(t *testing.T) {
	source := &hangingSource{started: make(chan struct{})}
	m := newViewManager(t, source)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-source.started
		cancel()
	}()

	done := make(chan error, 1)
	go func() {
		_, err := settle(ctx, m, 5, logging.Discard())
		done <- err
	}()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("settle did not return after the context was canceled")
	}

	require.Eventually(t, func() bool { return !m.Enabled() }, time.Second, 5*time.Millisecond, "manager is closed")
	m.Wait()
	require.Zero(t, m.Stats().InFlight)
}
