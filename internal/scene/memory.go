// internal/scene/memory.go - In-memory scene used by the CLI and tests
package scene

import (
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/valpere/building_tiles/internal/building"
)

// Collection is a Host keeping layers in memory
type Collection struct {
	mu     sync.Mutex
	layers map[string]*MemoryLayer
}

// NewCollection creates an empty collection
func NewCollection() *Collection {
	return &Collection{layers: make(map[string]*MemoryLayer)}
}

// AddLayer creates a layer; names are unique
func (c *Collection) AddLayer(name string) (Layer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.layers[name]; exists {
		return nil, fmt.Errorf("layer %q already exists", name)
	}
	layer := &MemoryLayer{name: name, entities: make(map[string]*building.Entity)}
	c.layers[name] = layer
	return layer, nil
}

// RemoveLayer removes a layer and everything attached to it
func (c *Collection) RemoveLayer(layer Layer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if l, ok := c.layers[layer.Name()]; ok && l == layer {
		l.DetachAll()
		delete(c.layers, layer.Name())
	}
}

// Layer returns a layer by name
func (c *Collection) Layer(name string) (*MemoryLayer, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.layers[name]
	return l, ok
}

// Len returns the number of layers
func (c *Collection) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.layers)
}

// MemoryLayer is a Layer keeping its entities in a map
type MemoryLayer struct {
	mu       sync.Mutex
	name     string
	entities map[string]*building.Entity
	attaches int
	detaches int
}

// Name returns the layer name
func (l *MemoryLayer) Name() string { return l.name }

// Attach adds or replaces an entity
func (l *MemoryLayer) Attach(entity *building.Entity) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entities[entity.Key()] = entity
	l.attaches++
}

// Detach removes an entity if present
func (l *MemoryLayer) Detach(entity *building.Entity) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.entities[entity.Key()]; ok {
		delete(l.entities, entity.Key())
		l.detaches++
	}
}

// DetachAll removes every entity
func (l *MemoryLayer) DetachAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.detaches += len(l.entities)
	l.entities = make(map[string]*building.Entity)
}

// Has reports whether an entity with the given key is attached
func (l *MemoryLayer) Has(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.entities[key]
	return ok
}

// Len returns the number of attached entities
func (l *MemoryLayer) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entities)
}

// Entities returns the attached entities ordered by key
func (l *MemoryLayer) Entities() []*building.Entity {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]*building.Entity, 0, len(l.entities))
	for _, e := range l.entities {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// Operations returns the number of attach and detach calls that changed the layer
func (l *MemoryLayer) Operations() (attaches, detaches int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.attaches, l.detaches
}

// StaticViewport is a Viewport whose camera is set explicitly
type StaticViewport struct {
	mu     sync.RWMutex
	camera Camera
}

// NewStaticViewport creates a viewport at camera
func NewStaticViewport(camera Camera) *StaticViewport {
	return &StaticViewport{camera: camera}
}

// Camera returns the current camera
func (v *StaticViewport) Camera() Camera {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.camera
}

// Set moves the camera
func (v *StaticViewport) Set(camera Camera) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.camera = camera
}

// LogNotifier writes notifications to a logger
type LogNotifier struct {
	log logrus.FieldLogger
}

// NewLogNotifier creates a notifier on log
func NewLogNotifier(log logrus.FieldLogger) *LogNotifier {
	return &LogNotifier{log: log}
}

// Notify logs message at the matching level
func (n *LogNotifier) Notify(message string, level Level) {
	entry := n.log.WithField("notification", string(level))
	switch level {
	case LevelError:
		entry.Error(message)
	case LevelWarning:
		entry.Warn(message)
	default:
		entry.Info(message)
	}
}
