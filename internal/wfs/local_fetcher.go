// internal/wfs/local_fetcher.go - Local GeoJSON tile file fetching implementation
package wfs

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/valpere/building_tiles/internal"
	"github.com/valpere/building_tiles/internal/config"
)

// LocalFetcher implements the Fetcher interface for pre-exported tile files.
// Files are addressed by tile id through the configured path template.
type LocalFetcher struct {
	fs     afero.Fs
	config *config.Config
}

// NewLocalFetcher creates a local fetcher on the OS file system
func NewLocalFetcher(cfg *config.Config) *LocalFetcher {
	return NewLocalFetcherWithFs(cfg, afero.NewOsFs())
}

// NewLocalFetcherWithFs creates a local fetcher on the given file system
func NewLocalFetcherWithFs(cfg *config.Config, fs afero.Fs) *LocalFetcher {
	return &LocalFetcher{fs: fs, config: cfg}
}

// Fetch reads the tile file of the query
func (f *LocalFetcher) Fetch(ctx context.Context, query *Query) (*Response, error) {
	start := time.Now()

	if err := ctx.Err(); err != nil {
		err := internal.NewError(internal.ErrorCodeTimeout, "fetch canceled", err)
		return &Response{Query: query, Error: err}, err
	}

	filePath := f.config.GetTilePath(query.Tile.X, query.Tile.Y)
	if filePath == "" {
		err := internal.NewError(internal.ErrorCodeValidation, "base_path is required for local tiles", nil)
		return &Response{Query: query, Error: err}, err
	}

	fileInfo, err := f.fs.Stat(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			notFoundErr := internal.NewError(internal.ErrorCodeNotFound, fmt.Sprintf("tile file not found: %s", filePath), err)
			return &Response{Query: query, StatusCode: 404, FetchTime: time.Since(start), Error: notFoundErr}, notFoundErr
		}
		accessErr := internal.NewError(internal.ErrorCodeFileSystem, fmt.Sprintf("cannot access tile file: %s", filePath), err)
		return &Response{Query: query, FetchTime: time.Since(start), Error: accessErr}, accessErr
	}

	if !fileInfo.Mode().IsRegular() {
		typeErr := internal.NewError(internal.ErrorCodeValidation, fmt.Sprintf("path is not a regular file: %s", filePath), nil)
		return &Response{Query: query, FetchTime: time.Since(start), Error: typeErr}, typeErr
	}

	file, err := f.fs.Open(filePath)
	if err != nil {
		openErr := internal.NewError(internal.ErrorCodeFileSystem, fmt.Sprintf("failed to open tile file: %s", filePath), err)
		return &Response{Query: query, FetchTime: time.Since(start), Error: openErr}, openErr
	}
	defer file.Close()

	var reader io.Reader = file
	compressed := strings.HasSuffix(strings.ToLower(filePath), ".gz")
	if compressed {
		gzipReader, err := gzip.NewReader(file)
		if err != nil {
			compressErr := internal.NewError(internal.ErrorCodeProcessing, fmt.Sprintf("failed to create gzip reader for: %s", filePath), err)
			return &Response{Query: query, FetchTime: time.Since(start), Error: compressErr}, compressErr
		}
		defer gzipReader.Close()
		reader = gzipReader
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		readErr := internal.NewError(internal.ErrorCodeFileSystem, fmt.Sprintf("failed to read tile file: %s", filePath), err)
		return &Response{Query: query, FetchTime: time.Since(start), Error: readErr}, readErr
	}

	response := &Response{
		Query:      query,
		Data:       data,
		StatusCode: 200,
		Size:       len(data),
		FetchTime:  time.Since(start),
		Headers:    map[string][]string{"Content-Type": {"application/json"}},
	}
	if compressed {
		response.Headers["Content-Encoding"] = []string{"gzip"}
	}

	return response, nil
}

// FetchWithRetry is Fetch; a missing or unreadable file does not heal by waiting
func (f *LocalFetcher) FetchWithRetry(ctx context.Context, query *Query) (*Response, error) {
	return f.Fetch(ctx, query)
}
