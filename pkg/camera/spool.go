package camera

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/classtrack/classtrack/pkg/logging"
)

// SpoolSource reads frames from a spool directory that an external frame
// grabber (ffmpeg, gstreamer, a hardware appliance) keeps writing into.
// Files are consumed in modification-time order and removed after reading,
// so the spool never grows unboundedly.
type SpoolSource struct {
	dir          string
	pollInterval time.Duration

	mu     sync.Mutex
	closed bool
}

// NewSpoolSource creates a source reading from the given directory.
func NewSpoolSource(dir string, pollInterval time.Duration) *SpoolSource {
	if pollInterval <= 0 {
		pollInterval = 100 * time.Millisecond
	}
	return &SpoolSource{dir: dir, pollInterval: pollInterval}
}

// Next returns the oldest frame in the spool, waiting for one to appear
// if the spool is empty.
func (s *SpoolSource) Next(ctx context.Context) (Frame, error) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return Frame{}, ErrSourceClosed
		}

		if frame, ok := s.take(); ok {
			return frame, nil
		}

		select {
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// take reads and removes the oldest image file from the spool.
func (s *SpoolSource) take() (Frame, bool) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		logging.Component("camera").WithError(err).Warn("failed to read frame spool")
		return Frame{}, false
	}

	type candidate struct {
		path    string
		modTime time.Time
		format  string
	}
	var files []candidate

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		var format string
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".jpg", ".jpeg":
			format = "jpeg"
		case ".png":
			format = "png"
		default:
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, candidate{
			path:    filepath.Join(s.dir, entry.Name()),
			modTime: info.ModTime(),
			format:  format,
		})
	}

	if len(files) == 0 {
		return Frame{}, false
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].modTime.Before(files[j].modTime)
	})

	oldest := files[0]
	data, err := os.ReadFile(oldest.path)
	if err != nil {
		// Grabber may still be writing it; try again next poll.
		return Frame{}, false
	}
	if err := os.Remove(oldest.path); err != nil {
		logging.Component("camera").WithError(err).Warnf("failed to remove consumed frame %s", oldest.path)
	}

	return Frame{
		Data:      data,
		Format:    oldest.format,
		Timestamp: oldest.modTime,
	}, true
}

// Close marks the source closed. Pending Next calls return ErrSourceClosed.
func (s *SpoolSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
