package decisionlog

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aibox/toolperm/internal/permission"
)

// ErrLoggerClosed is returned by Log and Close after the logger is closed.
var ErrLoggerClosed = errors.New("decisionlog: logger closed")

// maxRotated is the number of rotated files kept next to the live log.
const maxRotated = 9

// Config controls the decision logger.
type Config struct {
	Path          string        // log file path
	MaxSizeMB     int           // rotate when the file reaches this size (default 50)
	FlushInterval time.Duration // buffer flush period (default 2s)
	SampleAllow   int           // log 1-in-N allow decisions (0 or 1 logs all)
}

// DefaultPath is ~/.claude/toolperm/decisions.jsonl.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "toolperm", "decisions.jsonl")
	}
	return filepath.Join(home, ".claude", "toolperm", "decisions.jsonl")
}

// DefaultConfig returns a Config with the default settings.
func DefaultConfig() Config {
	return Config{
		Path:          DefaultPath(),
		MaxSizeMB:     50,
		FlushInterval: 2 * time.Second,
		SampleAllow:   1,
	}
}

// Logger writes decision entries as JSON Lines, chaining each line to the
// previous one by hash.
type Logger struct {
	mu       sync.Mutex
	writer   *bufio.Writer
	file     *os.File
	config   Config
	sampler  *sampler
	lastHash string
	closed   bool

	done chan struct{}
	wg   sync.WaitGroup
}

// sampler provides deterministic 1-in-N sampling using a counter.
type sampler struct {
	mu    sync.Mutex
	rate  int
	count int
}

func newSampler(rate int) *sampler {
	return &sampler{rate: rate}
}

// shouldLog reports whether this event is kept. Rates of 0 or 1 keep all.
func (s *sampler) shouldLog() bool {
	if s.rate <= 1 {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count++
	if s.count >= s.rate {
		s.count = 0
		return true
	}
	return false
}

// NewLogger opens (or creates) the log at cfg.Path and resumes its hash
// chain. A background goroutine flushes the buffer periodically.
func NewLogger(cfg Config) (*Logger, error) {
	def := DefaultConfig()
	if cfg.Path == "" {
		cfg.Path = def.Path
	}
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = def.MaxSizeMB
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}

	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating log directory %s: %w", dir, err)
	}

	last, err := lastHash(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("resuming hash chain: %w", err)
	}

	f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening decision log %s: %w", cfg.Path, err)
	}

	l := &Logger{
		writer:   bufio.NewWriterSize(f, 64*1024),
		file:     f,
		config:   cfg,
		sampler:  newSampler(cfg.SampleAllow),
		lastHash: last,
		done:     make(chan struct{}),
	}

	l.wg.Add(1)
	go l.flushLoop()

	slog.Debug("decision logger started", "path", cfg.Path, "flush_interval", cfg.FlushInterval)
	return l, nil
}

// Path returns the live log file.
func (l *Logger) Path() string { return l.config.Path }

// Log appends an entry and returns its ID. Allow decisions may be sampled
// out, in which case the returned ID is empty.
func (l *Logger) Log(e Entry) (string, error) {
	if e.Decision == string(permission.BehaviorAllow) && !l.sampler.shouldLog() {
		return "", nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return "", ErrLoggerClosed
	}

	if err := l.rotateIfNeeded(); err != nil {
		slog.Error("decision log rotation failed", "error", err)
	}

	e.HashPrev = l.lastHash
	data, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("marshaling decision entry: %w", err)
	}

	if _, err := l.writer.Write(data); err != nil {
		return "", fmt.Errorf("writing decision entry: %w", err)
	}
	if err := l.writer.WriteByte('\n'); err != nil {
		return "", fmt.Errorf("writing newline: %w", err)
	}

	l.lastHash = hashLine(data)
	return e.ID, nil
}

// Flush forces a buffer flush to disk.
func (l *Logger) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	return l.writer.Flush()
}

// Close stops the flush goroutine, flushes remaining data and closes the file.
func (l *Logger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrLoggerClosed
	}
	l.closed = true
	l.mu.Unlock()

	close(l.done)
	l.wg.Wait()

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.writer.Flush(); err != nil {
		l.file.Close()
		return fmt.Errorf("flushing on close: %w", err)
	}
	return l.file.Close()
}

// ReadEntry flushes and reads the entry at a 0-based line of the live file.
func (l *Logger) ReadEntry(line int) (*Entry, error) {
	if err := l.Flush(); err != nil {
		return nil, err
	}
	return ReadEntry(l.config.Path, line)
}

// Search flushes and scans the live file.
func (l *Logger) Search(f Filter) ([]Entry, error) {
	if err := l.Flush(); err != nil {
		return nil, err
	}
	return Search(l.config.Path, f)
}

func (l *Logger) flushLoop() {
	defer l.wg.Done()
	ticker := time.NewTicker(l.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.mu.Lock()
			if err := l.writer.Flush(); err != nil {
				slog.Error("periodic flush failed", "error", err)
			}
			l.mu.Unlock()
		case <-l.done:
			return
		}
	}
}

// rotateIfNeeded rotates the live file once it exceeds MaxSizeMB. The hash
// chain continues across files. Caller must hold l.mu.
func (l *Logger) rotateIfNeeded() error {
	info, err := l.file.Stat()
	if err != nil {
		return fmt.Errorf("stat decision log: %w", err)
	}

	maxBytes := int64(l.config.MaxSizeMB) * 1024 * 1024
	if info.Size() < maxBytes {
		return nil
	}

	slog.Info("rotating decision log", "size_bytes", info.Size(), "max_bytes", maxBytes)

	if err := l.writer.Flush(); err != nil {
		return fmt.Errorf("flushing before rotation: %w", err)
	}
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("closing old log: %w", err)
	}

	// .8 -> .9, ..., .1 -> .2, live -> .1
	for i := maxRotated - 1; i >= 1; i-- {
		_ = os.Rename(rotatedPath(l.config.Path, i), rotatedPath(l.config.Path, i+1))
	}
	if err := os.Rename(l.config.Path, rotatedPath(l.config.Path, 1)); err != nil {
		return fmt.Errorf("renaming current log: %w", err)
	}

	f, err := os.OpenFile(l.config.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("opening new log file: %w", err)
	}
	l.file = f
	l.writer = bufio.NewWriterSize(f, 64*1024)
	return nil
}

func rotatedPath(path string, n int) string {
	return fmt.Sprintf("%s.%d", path, n)
}

// chainFiles lists the existing rotated files oldest first, then the live log.
func chainFiles(path string) []string {
	var files []string
	for i := maxRotated; i >= 1; i-- {
		p := rotatedPath(path, i)
		if _, err := os.Stat(p); err == nil {
			files = append(files, p)
		}
	}
	return append(files, path)
}

func rotatedCount(path string) int {
	return len(chainFiles(path)) - 1
}

// ReadEntry reads the entry at a 0-based line of the log at path.
func ReadEntry(path string, line int) (*Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening decision log for read: %w", err)
	}
	defer f.Close()

	scanner := newScanner(f)
	cur := 0
	for scanner.Scan() {
		if cur == line {
			var e Entry
			if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
				return nil, fmt.Errorf("parsing entry at line %d: %w", line, err)
			}
			return &e, nil
		}
		cur++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning decision log: %w", err)
	}
	return nil, fmt.Errorf("line %d not found (file has %d lines)", line, cur)
}

// FindEntry returns the entry with the given ID from the log at path or its
// rotated files.
func FindEntry(path, id string) (*Entry, error) {
	for _, file := range chainFiles(path) {
		found, err := scan(file, func(e Entry) bool { return e.ID == id }, 1)
		if err != nil {
			return nil, err
		}
		if len(found) > 0 {
			return &found[0], nil
		}
	}
	return nil, fmt.Errorf("decision %s not found", id)
}

// Search returns entries of the live log at path matching the filter. A
// Limit of 0 returns all matches.
func Search(path string, filter Filter) ([]Entry, error) {
	return scan(path, filter.matches, filter.Limit)
}

func scan(path string, match func(Entry) bool, limit int) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening decision log for search: %w", err)
	}
	defer f.Close()

	var results []Entry
	scanner := newScanner(f)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue // skip malformed lines
		}
		if !match(e) {
			continue
		}
		results = append(results, e)
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning decision log: %w", err)
	}
	return results, nil
}
