// internal/output/writer.go - Output writing implementation
package output

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/valpere/building_tiles/internal/grid"
)

// FileWriter writes snapshots to a single file with optional compression.
// Each Write appends one document followed by a newline.
type FileWriter struct {
	formatter   Formatter
	destination Destination
	config      *WriterConfig
}

// NewFileWriter creates a new file-based writer
func NewFileWriter(config *WriterConfig, destination string) (*FileWriter, error) {
	return NewFileWriterWithFs(afero.NewOsFs(), config, destination)
}

// NewFileWriterWithFs creates a file-based writer on the given filesystem
func NewFileWriterWithFs(fs afero.Fs, config *WriterConfig, destination string) (*FileWriter, error) {
	formatter, err := NewFormatter(&FormatterConfig{
		Format:       config.Format,
		Pretty:       config.Pretty,
		IncludeStats: config.Metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create formatter: %w", err)
	}

	dest, err := newFileDestination(fs, destination, config.Compression)
	if err != nil {
		return nil, fmt.Errorf("failed to create file destination: %w", err)
	}

	return &FileWriter{
		formatter:   formatter,
		destination: dest,
		config:      config,
	}, nil
}

// Write formats and writes one snapshot
func (w *FileWriter) Write(snapshot *Snapshot) error {
	data, err := w.formatter.Format(snapshot)
	if err != nil {
		return fmt.Errorf("formatting failed: %w", err)
	}

	if _, err := w.destination.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write failed: %w", err)
	}

	return nil
}

// Name returns the path of the output file
func (w *FileWriter) Name() string {
	return w.destination.Name()
}

// Close closes the writer and underlying destination
func (w *FileWriter) Close() error {
	return w.destination.Close()
}

// StreamWriter writes snapshots to an io.Writer, stdout by default
type StreamWriter struct {
	formatter Formatter
	out       io.Writer
}

// NewStdoutWriter creates a new stdout-based writer
func NewStdoutWriter(format Format, pretty bool) (*StreamWriter, error) {
	return NewStreamWriter(os.Stdout, &WriterConfig{Format: format, Pretty: pretty})
}

// NewStreamWriter creates a writer on an arbitrary stream
func NewStreamWriter(out io.Writer, config *WriterConfig) (*StreamWriter, error) {
	formatter, err := NewFormatter(&FormatterConfig{
		Format:       config.Format,
		Pretty:       config.Pretty,
		IncludeStats: config.Metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create formatter: %w", err)
	}

	return &StreamWriter{formatter: formatter, out: out}, nil
}

// Write writes a single snapshot followed by a newline
func (w *StreamWriter) Write(snapshot *Snapshot) error {
	data, err := w.formatter.Format(snapshot)
	if err != nil {
		return fmt.Errorf("formatting failed: %w", err)
	}

	if _, err := w.out.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write to stream failed: %w", err)
	}
	return nil
}

// Close is a no-op for stream writers
func (w *StreamWriter) Close() error {
	return nil
}

// MultiFileWriter writes the buildings of each required tile to a separate
// GeoJSON file named after the tile id. The resulting directory can be used
// as a local feature source.
type MultiFileWriter struct {
	fs        afero.Fs
	formatter Formatter
	baseDir   string
	config    *WriterConfig
	written   int
}

// NewMultiFileWriter creates a writer that outputs each tile to a separate file
func NewMultiFileWriter(config *WriterConfig, baseDir string) (*MultiFileWriter, error) {
	return NewMultiFileWriterWithFs(afero.NewOsFs(), config, baseDir)
}

// NewMultiFileWriterWithFs creates a multi-file writer on the given filesystem
func NewMultiFileWriterWithFs(fs afero.Fs, config *WriterConfig, baseDir string) (*MultiFileWriter, error) {
	if err := fs.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &MultiFileWriter{
		fs:        fs,
		formatter: NewGeoJSONFormatter(config.Pretty, false),
		baseDir:   baseDir,
		config:    config,
	}, nil
}

// Write writes one file per required tile. Tiles without buildings get an
// empty FeatureCollection so a later local read does not report them missing.
func (w *MultiFileWriter) Write(snapshot *Snapshot) error {
	groups := snapshot.ByTile()

	for _, id := range snapshot.Required {
		part := &Snapshot{
			Camera:   snapshot.Camera,
			Center:   snapshot.Center,
			Required: []grid.TileID{id},
			Entities: groups[id],
		}

		path := filepath.Join(w.baseDir, w.generateFilename(id))
		if err := w.writeFile(path, part); err != nil {
			return fmt.Errorf("failed to write tile %s: %w", id, err)
		}
		w.written++
	}
	return nil
}

func (w *MultiFileWriter) writeFile(path string, snapshot *Snapshot) error {
	dest, err := newFileDestination(w.fs, path, w.config.Compression)
	if err != nil {
		return fmt.Errorf("failed to create file destination: %w", err)
	}

	data, err := w.formatter.Format(snapshot)
	if err != nil {
		dest.Close()
		return fmt.Errorf("formatting failed: %w", err)
	}

	if _, err := dest.Write(data); err != nil {
		dest.Close()
		return fmt.Errorf("write failed: %w", err)
	}
	return dest.Close()
}

// Written returns the number of tile files written so far
func (w *MultiFileWriter) Written() int {
	return w.written
}

// Close is a no-op for multi-file writer
func (w *MultiFileWriter) Close() error {
	return nil
}

// generateFilename matches the default local path template {x}_{y}.geojson
func (w *MultiFileWriter) generateFilename(id grid.TileID) string {
	name := id.String() + ".geojson"
	if w.config.Compression {
		name += ".gz"
	}
	return name
}

// fileDestination implements the Destination interface for file output
type fileDestination struct {
	file   afero.File
	gz     *gzip.Writer
	writer io.Writer
	name   string
	size   int64
}

// newFileDestination creates a new file destination with optional compression
func newFileDestination(fs afero.Fs, path string, compression bool) (*fileDestination, error) {
	if compression && !strings.HasSuffix(path, ".gz") {
		path += ".gz"
	}

	if err := fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := fs.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}

	dest := &fileDestination{file: file, writer: file, name: path}
	if compression {
		dest.gz = gzip.NewWriter(file)
		dest.writer = dest.gz
	}
	return dest, nil
}

// Write implements io.Writer
func (d *fileDestination) Write(p []byte) (n int, err error) {
	n, err = d.writer.Write(p)
	d.size += int64(n)
	return n, err
}

// Close implements io.Closer
func (d *fileDestination) Close() error {
	if d.gz != nil {
		if err := d.gz.Close(); err != nil {
			d.file.Close()
			return err
		}
	}
	return d.file.Close()
}

// Name returns the destination file path
func (d *fileDestination) Name() string {
	return d.name
}

// Size returns the number of bytes written
func (d *fileDestination) Size() int64 {
	return d.size
}

// NewWriter creates the appropriate writer based on configuration
func NewWriter(config *WriterConfig, destination string, multiFile bool) (Writer, error) {
	if destination == "" || destination == "-" {
		return NewStreamWriter(os.Stdout, config)
	}

	if multiFile {
		return NewMultiFileWriter(config, destination)
	}

	return NewFileWriter(config, destination)
}
