// Package persist provides crash-safe snapshot persistence: atomic
// temp-write-then-rename saves, bounded backup rotation, and an optional
// autosave ticker. It is agnostic to the snapshot payload.
package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/duongnv129/ory-self-hosted-sub002/internal/observability"
)

// FormatVersion is the current persisted file format version.
const FormatVersion = 1

const backupTimeFormat = "20060102T150405.000000000"

// Metadata is stamped into every saved snapshot.
type Metadata struct {
	Version      int       `json:"version"`
	SnapshotID   string    `json:"snapshotId"`
	LastModified time.Time `json:"lastModified"`
	BackupCount  int       `json:"backupCount"`
}

// Snapshot is any payload the manager can save and restore.
type Snapshot interface {
	SetMetadata(Metadata)
	Metadata() Metadata
}

// Config controls where and how snapshots are written.
type Config struct {
	Path             string
	BackupDir        string
	MaxBackups       int
	AutosaveInterval time.Duration
}

// Manager serializes snapshot writes behind a single mutex shared by
// autosave and explicit saves so two writers never race on the temp file.
// A nil Manager is inert: every method is a safe no-op, so callers never
// branch on whether persistence is configured.
type Manager struct {
	cfg        Config
	snapshotFn func() Snapshot
	logger     *slog.Logger
	metrics    *observability.Metrics

	mu       sync.Mutex
	dirty    atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewManager builds a manager, or nil when no path is configured.
func NewManager(cfg Config, snapshotFn func() Snapshot, logger *slog.Logger, metrics *observability.Metrics) *Manager {
	if cfg.Path == "" {
		return nil
	}
	if cfg.MaxBackups < 1 {
		cfg.MaxBackups = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:        cfg,
		snapshotFn: snapshotFn,
		logger:     logger,
		metrics:    metrics,
		stop:       make(chan struct{}),
	}
}

// Start launches the autosave loop when an interval is configured.
func (m *Manager) Start() {
	if m == nil || m.cfg.AutosaveInterval <= 0 {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.cfg.AutosaveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stop:
				return
			case <-ticker.C:
				if !m.dirty.Swap(false) {
					continue
				}
				if err := m.saveSnapshot(); err != nil {
					m.dirty.Store(true)
					m.metrics.IncPersistFailure()
					m.logger.Warn("autosave failed", slog.Any("error", err))
					continue
				}
				m.metrics.IncAutosaveRun()
			}
		}
	}()
}

// Close stops autosave and flushes a pending snapshot.
func (m *Manager) Close(ctx context.Context) error {
	if m == nil {
		return nil
	}
	m.stopOnce.Do(func() { close(m.stop) })
	m.wg.Wait()
	if m.dirty.Swap(false) {
		return m.SaveNow(ctx)
	}
	return nil
}

// SaveAfterMutation records that the catalog changed. With autosave
// enabled the write is deferred to the next tick; otherwise it happens
// immediately. Failures degrade to a log entry and a metric.
func (m *Manager) SaveAfterMutation(ctx context.Context) {
	if m == nil {
		return
	}
	if m.cfg.AutosaveInterval > 0 {
		m.dirty.Store(true)
		return
	}
	if err := m.SaveNow(ctx); err != nil {
		m.metrics.IncPersistFailure()
		m.logger.Warn("snapshot save failed, continuing in catalog-only mode", slog.Any("error", err))
	}
}

// SaveNow synchronously writes the current snapshot.
func (m *Manager) SaveNow(ctx context.Context) error {
	if m == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.saveSnapshot()
}

func (m *Manager) saveSnapshot() error {
	if m.snapshotFn == nil {
		return errors.New("persist: snapshot source not configured")
	}
	snap := m.snapshotFn()
	if snap == nil {
		return errors.New("persist: snapshot source returned nil")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(m.cfg.Path), 0o755); err != nil {
		return fmt.Errorf("persist: create data dir: %w", err)
	}
	if err := m.rotateBackups(); err != nil {
		return err
	}

	backups, err := m.listBackups()
	if err != nil {
		return err
	}
	snap.SetMetadata(Metadata{
		Version:      FormatVersion,
		SnapshotID:   uuid.NewString(),
		LastModified: time.Now().UTC(),
		BackupCount:  len(backups),
	})

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("persist: marshal snapshot: %w", err)
	}

	// Write to a colocated temp file and rename over the destination so
	// the destination is always a complete file, even under a crash
	// mid-write.
	tmp, err := os.CreateTemp(filepath.Dir(m.cfg.Path), filepath.Base(m.cfg.Path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("persist: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("persist: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("persist: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("persist: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, m.cfg.Path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("persist: replace snapshot: %w", err)
	}
	return nil
}

// rotateBackups copies the current file into the backup directory and
// prunes backups beyond the configured maximum, oldest first.
func (m *Manager) rotateBackups() error {
	if _, err := os.Stat(m.cfg.Path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("persist: stat snapshot: %w", err)
	}
	if err := os.MkdirAll(m.cfg.BackupDir, 0o755); err != nil {
		return fmt.Errorf("persist: create backup dir: %w", err)
	}

	name := fmt.Sprintf("%s.%s.bak", filepath.Base(m.cfg.Path), time.Now().UTC().Format(backupTimeFormat))
	if err := copyFile(m.cfg.Path, filepath.Join(m.cfg.BackupDir, name)); err != nil {
		return fmt.Errorf("persist: copy backup: %w", err)
	}

	backups, err := m.listBackups()
	if err != nil {
		return err
	}
	for len(backups) > m.cfg.MaxBackups {
		oldest := backups[0]
		if err := os.Remove(filepath.Join(m.cfg.BackupDir, oldest)); err != nil {
			return fmt.Errorf("persist: prune backup: %w", err)
		}
		backups = backups[1:]
	}
	return nil
}

// listBackups returns backup filenames sorted oldest first. The
// timestamped naming scheme makes lexicographic order chronological.
func (m *Manager) listBackups() ([]string, error) {
	entries, err := os.ReadDir(m.cfg.BackupDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("persist: read backup dir: %w", err)
	}
	prefix := filepath.Base(m.cfg.Path) + "."
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasPrefix(e.Name(), prefix) && strings.HasSuffix(e.Name(), ".bak") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Restore loads the newest valid snapshot into dest. On corruption or
// absence of the main file it falls back to the newest usable backup.
// It reports whether anything was loaded; a fresh start is not an error.
func (m *Manager) Restore(dest Snapshot) (bool, error) {
	if m == nil || dest == nil {
		return false, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if ok := m.tryLoad(m.cfg.Path, dest); ok {
		return true, nil
	}

	backups, err := m.listBackups()
	if err != nil {
		return false, err
	}
	for i := len(backups) - 1; i >= 0; i-- {
		if ok := m.tryLoad(filepath.Join(m.cfg.BackupDir, backups[i]), dest); ok {
			m.logger.Warn("restored snapshot from backup", slog.String("backup", backups[i]))
			return true, nil
		}
	}
	return false, nil
}

func (m *Manager) tryLoad(path string, dest Snapshot) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			m.logger.Warn("read snapshot", slog.String("path", path), slog.Any("error", err))
		}
		return false
	}
	if err := json.Unmarshal(data, dest); err != nil {
		m.logger.Warn("snapshot corrupted, skipping", slog.String("path", path), slog.Any("error", err))
		return false
	}
	return true
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
