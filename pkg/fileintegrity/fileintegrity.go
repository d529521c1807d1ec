// Package fileintegrity periodically compares the content hash, size,
// and modification time of a fixed list of files against a recorded
// baseline. Detection is polling-only: no inotify-style push
// notification is used, by design.
package fileintegrity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/terencesc/hidsd/pkg/alertbus"
)

const hashChunkSize = 4096

const defaultCheckIntervalSeconds = 60

// FileInfo is the recorded baseline for a monitored file.
type FileInfo struct {
	Path         string
	Hash         string
	LastModified time.Time
	Size         int64
}

func (a FileInfo) equal(b FileInfo) bool {
	return a.Hash == b.Hash && a.Size == b.Size && a.LastModified.Equal(b.LastModified)
}

// ChangeHandler is invoked once per detected difference, with the
// baseline and current FileInfo. On deletion, current is the zero
// value.
type ChangeHandler func(path string, baseline, current FileInfo)

// Monitor owns the baseline and the background polling loop.
type Monitor struct {
	bus *alertbus.Bus
	log *logrus.Logger

	mu       sync.Mutex
	baseline map[string]FileInfo
	handler  ChangeHandler
	interval time.Duration

	stop chan struct{}
	done chan struct{}
}

// New creates an empty Monitor with a no-op change handler.
func New(bus *alertbus.Bus, log *logrus.Logger) *Monitor {
	if log == nil {
		log = logrus.New()
	}
	return &Monitor{
		bus:      bus,
		log:      log,
		baseline: make(map[string]FileInfo),
		handler:  func(string, FileInfo, FileInfo) {},
		interval: defaultCheckIntervalSeconds * time.Second,
	}
}

// AddFile verifies path exists and is a regular file, computes its
// baseline FileInfo, and installs it. On failure, an ERROR alert is
// emitted and no entry is inserted.
func (m *Monitor) AddFile(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, err := getFileInfo(path)
	if err != nil {
		m.bus.Trigger("ERROR", fmt.Sprintf("cannot add file for monitoring: %s (%v)", path, err))
		return
	}
	m.baseline[path] = info
	m.bus.Trigger("INFO", fmt.Sprintf("added file for monitoring: %s (hash: %s...)", path, shortHash(info.Hash)))
}

// AddDirectory enumerates regular files under dirPath (optionally
// recursively) and calls AddFile for each.
func (m *Monitor) AddDirectory(dirPath string, recursive bool) {
	entries, err := collectRegularFiles(dirPath, recursive)
	if err != nil {
		m.bus.Trigger("ERROR", fmt.Sprintf("cannot scan directory: %s (%v)", dirPath, err))
		return
	}
	for _, p := range entries {
		m.AddFile(p)
	}
}

func collectRegularFiles(dirPath string, recursive bool) ([]string, error) {
	info, err := os.Stat(dirPath)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", dirPath)
	}

	var out []string
	if recursive {
		err := filepath.Walk(dirPath, func(p string, fi os.FileInfo, err error) error {
			if err != nil {
				return nil
			}
			if fi.Mode().IsRegular() {
				out = append(out, p)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		return out, nil
	}

	dirEntries, err := os.ReadDir(dirPath)
	if err != nil {
		return nil, err
	}
	for _, e := range dirEntries {
		if e.Type().IsRegular() {
			out = append(out, filepath.Join(dirPath, e.Name()))
		}
	}
	return out, nil
}

// RemoveFile drops path from the baseline and emits an INFO alert. A
// no-op if path was never added.
func (m *Monitor) RemoveFile(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.baseline[path]; !ok {
		return
	}
	delete(m.baseline, path)
	m.bus.Trigger("INFO", fmt.Sprintf("file removed from monitoring: %s", path))
}

// Baseline returns a snapshot of every monitored file's recorded
// FileInfo, in no particular order.
func (m *Monitor) Baseline() []FileInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]FileInfo, 0, len(m.baseline))
	for _, info := range m.baseline {
		out = append(out, info)
	}
	return out
}

// FileCount returns the number of files currently monitored.
func (m *Monitor) FileCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.baseline)
}

// SetChangeHandler installs fn to be called on every detected
// difference.
func (m *Monitor) SetChangeHandler(fn ChangeHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if fn == nil {
		fn = func(string, FileInfo, FileInfo) {}
	}
	m.handler = fn
}

// Start launches the background polling loop at intervalSeconds.
// Idempotent.
func (m *Monitor) Start(ctx context.Context, intervalSeconds int) {
	m.mu.Lock()
	if m.stop != nil {
		m.mu.Unlock()
		return
	}
	m.interval = time.Duration(intervalSeconds) * time.Second
	stop, done := make(chan struct{}), make(chan struct{})
	m.stop, m.done = stop, done
	n := len(m.baseline)
	m.mu.Unlock()

	m.bus.Trigger("INFO", fmt.Sprintf("file integrity monitoring started with a %ds interval for %d files", intervalSeconds, n))
	go m.run(ctx, stop, done)
}

// Stop requests termination of the background loop and waits for it
// to exit. Idempotent.
func (m *Monitor) Stop() {
	m.mu.Lock()
	stop, done := m.stop, m.done
	m.stop = nil
	m.done = nil
	m.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
	m.bus.Trigger("INFO", "file integrity monitoring stopped")
}

func (m *Monitor) run(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for {
		m.CheckIntegrity()

		interval := m.currentInterval()
		elapsed := time.Duration(0)
		for elapsed < interval {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
				elapsed += time.Second
			}
		}
	}
}

func (m *Monitor) currentInterval() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.interval
}

// CheckIntegrity runs one synchronous pass over every monitored path.
func (m *Monitor) CheckIntegrity() {
	m.mu.Lock()
	paths := make([]string, 0, len(m.baseline))
	for p := range m.baseline {
		paths = append(paths, p)
	}
	m.mu.Unlock()

	for _, p := range paths {
		m.checkFile(p)
	}
}

// UpdateBaselines recomputes FileInfo for every monitored path. A
// now-missing path emits a WARNING alert but keeps its entry.
func (m *Monitor) UpdateBaselines() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for path := range m.baseline {
		info, err := getFileInfo(path)
		if err != nil {
			m.bus.Trigger("WARNING", fmt.Sprintf("cannot update baseline for file: %s (%v)", path, err))
			continue
		}
		m.baseline[path] = info
		m.bus.Trigger("INFO", fmt.Sprintf("updated baseline for file: %s (hash: %s...)", path, shortHash(info.Hash)))
	}
}

// checkFile compares the current state of path against its baseline
// and emits exactly one alert on any difference, in priority order:
// FILE_DELETED, FILE_MODIFIED, FILE_SIZE_CHANGED, FILE_TIME_CHANGED.
func (m *Monitor) checkFile(path string) {
	m.mu.Lock()
	baseline, ok := m.baseline[path]
	handler := m.handler
	m.mu.Unlock()
	if !ok {
		return
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		m.bus.Trigger("FILE_DELETED", fmt.Sprintf("file deleted: %s", path))
		handler(path, baseline, FileInfo{})
		return
	}

	current, err := getFileInfo(path)
	if err != nil {
		m.bus.Trigger("ERROR", fmt.Sprintf("error checking file integrity: %s (%v)", path, err))
		return
	}

	if baseline.equal(current) {
		return
	}

	switch {
	case baseline.Hash != current.Hash:
		m.bus.Trigger("FILE_MODIFIED", fmt.Sprintf("file content changed: %s", path))
	case baseline.Size != current.Size:
		m.bus.Trigger("FILE_SIZE_CHANGED", fmt.Sprintf("file size changed: %s (was: %d, now: %d)", path, baseline.Size, current.Size))
	default:
		m.bus.Trigger("FILE_TIME_CHANGED", fmt.Sprintf("file modification time changed: %s", path))
	}

	handler(path, baseline, current)
}

func getFileInfo(path string) (FileInfo, error) {
	st, err := os.Stat(path)
	if err != nil {
		return FileInfo{}, fmt.Errorf("does not exist: %s", path)
	}
	if !st.Mode().IsRegular() {
		return FileInfo{}, fmt.Errorf("not a regular file: %s", path)
	}

	hash, err := hashFile(path)
	if err != nil {
		return FileInfo{}, err
	}

	return FileInfo{
		Path:         path,
		Hash:         hash,
		LastModified: st.ModTime(),
		Size:         st.Size(),
	}, nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open for hashing: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, hashChunkSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", fmt.Errorf("hash: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func shortHash(h string) string {
	if len(h) > 10 {
		return h[:10]
	}
	return h
}
