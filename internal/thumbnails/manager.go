// Markerforge - Out-of-Band Marker Editor for Plex Media Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/markerforge

// Package thumbnails resolves (base item, timestamp) pairs to JPEG
// frames. Index mode reads the trick-play BIF bundle Plex already
// generated; precise mode extracts the exact frame with ffmpeg, rate
// limited and behind a circuit breaker so a broken media path cannot
// pile up worker processes. Results are held in an in-memory LRU that
// the ReloadThumbnails event clears.
package thumbnails

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/tomtom215/markerforge/internal/apperr"
	"github.com/tomtom215/markerforge/internal/logging"
	"github.com/tomtom215/markerforge/internal/pathmap"
)

// Host is the slice of the query manager the thumbnail manager needs.
type Host interface {
	MediaPath(ctx context.Context, metadataID int64) (string, error)
	MediaHash(ctx context.Context, metadataID int64) (string, error)
}

// Options configures the manager.
type Options struct {
	// DataPath is the Plex data directory holding Media/localhost
	// bundles.
	DataPath string

	// FFmpegPath is the extraction binary for precise mode.
	FFmpegPath string

	// Timeout bounds one ffmpeg invocation.
	Timeout time.Duration

	CacheSize int
	CacheTTL  time.Duration
}

// cacheKeyRound quantizes request timestamps so scrubbing nearby
// offsets hits the cache.
const cacheKeyRound = 1000

// Manager serves thumbnail bytes.
type Manager struct {
	host Host

	mu         sync.RWMutex
	dataPath   string
	mapper     *pathmap.Mapper
	ffmpegPath string
	timeout    time.Duration

	cache   *lruCache
	breaker *gobreaker.CircuitBreaker[[]byte]
	limiter *rate.Limiter

	enabled atomic.Bool
	precise atomic.Bool
}

// New creates a Manager. mapper may be nil when no path mappings are
// configured.
func New(host Host, mapper *pathmap.Mapper, opts Options) *Manager {
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = "ffmpeg"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if mapper == nil {
		mapper = pathmap.New(nil)
	}

	m := &Manager{
		host:       host,
		dataPath:   opts.DataPath,
		mapper:     mapper,
		ffmpegPath: opts.FFmpegPath,
		timeout:    opts.Timeout,
		cache:      newLRUCache(opts.CacheSize, opts.CacheTTL),
		// One extraction at a time with a small burst: frame grabs are
		// CPU-bound and a scrubbing client can request dozens per second.
		limiter: rate.NewLimiter(rate.Every(250*time.Millisecond), 4),
	}
	m.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:    "ffmpeg",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Thumbnail extraction breaker state changed")
		},
	})
	m.enabled.Store(true)
	return m
}

// SetEnabled toggles thumbnail serving (previews off in config).
func (m *Manager) SetEnabled(enabled bool) {
	m.enabled.Store(enabled)
	if !enabled {
		m.cache.clear()
	}
}

// SetPrecise toggles ffmpeg extraction versus BIF index reads.
func (m *Manager) SetPrecise(precise bool) {
	m.precise.Store(precise)
	m.cache.clear()
}

// SetMapper hot-applies new path mappings.
func (m *Manager) SetMapper(mapper *pathmap.Mapper) {
	m.mu.Lock()
	m.mapper = mapper
	m.mu.Unlock()
	m.cache.clear()
}

// SetDataPath follows a data-path config change (soft reload).
func (m *Manager) SetDataPath(dataPath string) {
	m.mu.Lock()
	m.dataPath = dataPath
	m.mu.Unlock()
	m.cache.clear()
}

// HandleReload clears the cache. Wired to the ReloadThumbnails event.
func (m *Manager) HandleReload(context.Context) error {
	m.cache.clear()
	logging.Debug().Msg("Thumbnail cache cleared")
	return nil
}

// Stats exposes cache counters for the health endpoint.
func (m *Manager) Stats() (hits, misses int64, size int) {
	return m.cache.stats()
}

// Thumbnail returns JPEG bytes for the item at the given timestamp.
func (m *Manager) Thumbnail(ctx context.Context, metadataID, timestampMs int64) ([]byte, error) {
	if !m.enabled.Load() {
		return nil, apperr.New(apperr.KindNotFound, "thumbnail previews are disabled")
	}
	if timestampMs < 0 {
		return nil, apperr.Newf(apperr.KindInvalidInput, "negative timestamp %d", timestampMs)
	}

	key := fmt.Sprintf("%d/%d", metadataID, timestampMs-timestampMs%cacheKeyRound)
	if jpeg, ok := m.cache.get(key); ok {
		return jpeg, nil
	}

	var (
		jpeg []byte
		err  error
	)
	if m.precise.Load() {
		jpeg, err = m.preciseThumbnail(ctx, metadataID, timestampMs)
	} else {
		jpeg, err = m.indexThumbnail(ctx, metadataID, timestampMs)
	}
	if err != nil {
		return nil, err
	}
	m.cache.add(key, jpeg)
	return jpeg, nil
}

// indexThumbnail reads the frame from Plex's precomputed BIF bundle.
func (m *Manager) indexThumbnail(ctx context.Context, metadataID, timestampMs int64) ([]byte, error) {
	hash, err := m.host.MediaHash(ctx, metadataID)
	if err != nil {
		return nil, err
	}
	if hash == "" {
		return nil, apperr.Newf(apperr.KindNotFound, "item %d has no thumbnail index", metadataID)
	}

	m.mu.RLock()
	dataPath := m.dataPath
	m.mu.RUnlock()

	// Plex shards bundles by the first hash character:
	// Media/localhost/d/eadbeef....bundle
	bifPath := filepath.Join(dataPath, "Media", "localhost",
		hash[:1], hash[1:]+".bundle", "Contents", "Indexes", "index-sd.bif")
	data, err := os.ReadFile(bifPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperr.Newf(apperr.KindNotFound, "no thumbnail index for item %d", metadataID)
		}
		return nil, apperr.Wrap(apperr.KindBackend, err, "thumbnail index read failed")
	}

	index, err := parseBIF(data)
	if err != nil {
		return nil, err
	}
	return index.frameAt(timestampMs)
}

// preciseThumbnail extracts the exact frame with ffmpeg.
func (m *Manager) preciseThumbnail(ctx context.Context, metadataID, timestampMs int64) ([]byte, error) {
	dbPath, err := m.host.MediaPath(ctx, metadataID)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	mediaPath := m.mapper.Map(dbPath)
	ffmpegPath := m.ffmpegPath
	timeout := m.timeout
	m.mu.RUnlock()

	if _, err := os.Stat(mediaPath); err != nil {
		return nil, apperr.Newf(apperr.KindNotFound,
			"media file not reachable at %q; check path mappings", mediaPath)
	}
	if err := m.limiter.Wait(ctx); err != nil {
		return nil, apperr.Wrap(apperr.KindExternal, err, "thumbnail extraction canceled")
	}

	jpeg, err := m.breaker.Execute(func() ([]byte, error) {
		return extractFrame(ctx, ffmpegPath, mediaPath, timestampMs, timeout)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, apperr.Wrap(apperr.KindExternal, err, "thumbnail extraction temporarily disabled")
		}
		return nil, err
	}
	return jpeg, nil
}

// extractFrame runs one bounded ffmpeg invocation writing a single
// mjpeg frame to stdout.
func extractFrame(ctx context.Context, ffmpegPath, mediaPath string, timestampMs int64, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	seek := fmt.Sprintf("%d.%03d", timestampMs/1000, timestampMs%1000)
	cmd := exec.CommandContext(ctx, ffmpegPath,
		"-hide_banner", "-loglevel", "error",
		"-ss", seek,
		"-i", mediaPath,
		"-frames:v", "1",
		"-f", "image2pipe",
		"-c:v", "mjpeg",
		"pipe:1")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		logging.Error().
			Str("media", mediaPath).
			Str("detail", detail).
			Msg("Frame extraction failed")
		return nil, apperr.Wrap(apperr.KindExternal, err, "media tool failed")
	}
	if stdout.Len() == 0 {
		return nil, apperr.New(apperr.KindExternal, "media tool produced no frame")
	}
	return stdout.Bytes(), nil
}
