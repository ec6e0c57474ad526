// Package persist flushes the in-memory store to JSON files on a fixed
// cycle and keeps timestamped snapshot backups.
//
// The engine is the only component that writes the data files or the backup
// directory. Other components mark datasets dirty through store.Tracker.
package persist

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/matheus3301/wppdash/internal/bus"
	"github.com/matheus3301/wppdash/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// ErrBackupNotFound is returned when restoring a snapshot that does not exist.
var ErrBackupNotFound = errors.New("backup not found")

// BackupLayout names backup directories. It is the UTC ISO-8601 time with
// millisecond precision; backupName swaps the dot for a dash so names are
// filesystem safe and lexical order is chronological.
const BackupLayout = "2006-01-02T15-04-05.000Z"

func backupName(t time.Time) string {
	return strings.Replace(t.UTC().Format(BackupLayout), ".", "-", 1)
}

// Source is the state the engine serializes and reloads.
type Source interface {
	SnapshotContacts() []store.SavedContact
	SnapshotChats() []store.Chat
	SnapshotMessages() map[string][]store.Message
	Counts() (chats, contacts int)
	Load(contacts []store.SavedContact, chats []store.Chat, messages map[string][]store.Message)
}

// Options tunes the flush and backup policy. Zero values take defaults.
type Options struct {
	FlushInterval  time.Duration
	BackupInterval time.Duration
	BackupBurst    int
	Retention      int
	MaxMessages    int
	Version        string
	Registerer     prometheus.Registerer
	Now            func() time.Time
}

func (o *Options) setDefaults() {
	if o.FlushInterval <= 0 {
		o.FlushInterval = 10 * time.Second
	}
	if o.BackupInterval <= 0 {
		o.BackupInterval = 5 * time.Minute
	}
	if o.BackupBurst <= 0 {
		o.BackupBurst = 3
	}
	if o.Retention <= 0 {
		o.Retention = 10
	}
	if o.MaxMessages <= 0 {
		o.MaxMessages = 100
	}
	if o.Version == "" {
		o.Version = "dev"
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Engine tracks dirty datasets and writes them to disk.
type Engine struct {
	dataDir   string
	backupDir string
	src       Source
	bus       *bus.Bus
	logger    *zap.Logger
	metrics   *Metrics
	opts      Options

	mu            sync.Mutex
	dirty         map[store.Dataset]bool
	lastBackup    time.Time
	lastConnected *time.Time

	// io serializes every disk write. lastStamp is the newest snapshot time
	// handed out and is guarded by io.
	io        sync.Mutex
	lastStamp time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an engine writing to dataDir with snapshots under backupDir.
func New(dataDir, backupDir string, src Source, b *bus.Bus, logger *zap.Logger, opts Options) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts.setDefaults()
	for _, dir := range []string{dataDir, backupDir} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	e := &Engine{
		dataDir:   dataDir,
		backupDir: backupDir,
		src:       src,
		bus:       b,
		logger:    logger,
		opts:      opts,
		dirty:     make(map[store.Dataset]bool),
	}
	e.metrics = NewMetrics(opts.Registerer, func() float64 {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.lastBackup.IsZero() {
			return 0
		}
		return float64(e.lastBackup.Unix())
	})
	return e, nil
}

// MarkDirty records that datasets have unflushed changes.
func (e *Engine) MarkDirty(ds ...store.Dataset) {
	e.mu.Lock()
	for _, d := range ds {
		e.dirty[d] = true
	}
	e.mu.Unlock()
}

// Persist flushes datasets right away instead of waiting for the next tick.
func (e *Engine) Persist(ds ...store.Dataset) {
	for _, d := range ds {
		if e.take(d) {
			_ = e.flush(d)
		}
	}
}

// Dirty reports whether the dataset has unflushed changes.
func (e *Engine) Dirty(d store.Dataset) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dirty[d]
}

// SetConnected records the current connection time (nil when
// disconnected) for the app config file.
func (e *Engine) SetConnected(at *time.Time) {
	e.mu.Lock()
	e.lastConnected = at
	e.dirty[store.Config] = true
	e.mu.Unlock()
}

// take clears the flag before the snapshot is taken. A mutation racing the
// flush sets it again, so nothing is lost.
func (e *Engine) take(d store.Dataset) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.dirty[d] {
		return false
	}
	e.dirty[d] = false
	return true
}

func (e *Engine) flush(d store.Dataset) error {
	e.io.Lock()
	err := e.write(d)
	e.io.Unlock()

	if err != nil {
		e.MarkDirty(d)
		e.metrics.FlushErrors.WithLabelValues(d.String()).Inc()
		e.logger.Error("flush failed, will retry", zap.Stringer("dataset", d), zap.Error(err))
		return err
	}
	e.metrics.Flushes.WithLabelValues(d.String()).Inc()
	e.logger.Debug("dataset flushed", zap.Stringer("dataset", d))
	return nil
}

func (e *Engine) write(d store.Dataset) error {
	path := filepath.Join(e.dataDir, fileFor(d))
	switch d {
	case store.Contacts:
		return writeJSON(path, e.src.SnapshotContacts())
	case store.Chats:
		return writeJSON(path, validChats(e.src.SnapshotChats()))
	case store.Messages:
		return writeJSON(path, boundMessages(e.src.SnapshotMessages(), e.opts.MaxMessages))
	default:
		return writeJSON(path, e.appConfig())
	}
}

func (e *Engine) appConfig() AppConfig {
	chats, contacts := e.src.Counts()
	e.mu.Lock()
	connected := e.lastConnected
	e.mu.Unlock()
	return AppConfig{
		LastSaved:     e.opts.Now(),
		LastConnected: connected,
		TotalChats:    chats,
		TotalContacts: contacts,
		Version:       e.opts.Version,
	}
}

// Tick runs one flush cycle and returns how many datasets were written.
// A backup follows when something was written and either the backup
// interval has elapsed or the cycle wrote at least BackupBurst datasets.
func (e *Engine) Tick() int {
	flushed := 0
	for _, d := range store.Datasets {
		if e.take(d) && e.flush(d) == nil {
			flushed++
		}
	}
	if flushed == 0 {
		return 0
	}

	now := e.opts.Now()
	e.mu.Lock()
	due := now.Sub(e.lastBackup) > e.opts.BackupInterval || flushed >= e.opts.BackupBurst
	e.mu.Unlock()

	e.logger.Info("auto-save completed", zap.Int("datasets", flushed), zap.Bool("backup", due))
	if due {
		_, _ = e.CreateBackup()
	}
	return flushed
}

// Start runs Tick every FlushInterval until ctx is cancelled or Stop is called.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})

	go func() {
		defer close(e.done)
		ticker := time.NewTicker(e.opts.FlushInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				e.Tick()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the flush loop and waits for an in-flight tick.
func (e *Engine) Stop() {
	if e.cancel == nil {
		return
	}
	e.cancel()
	<-e.done
}

// ForceSave writes every dataset regardless of dirty state, then creates a
// backup. The first write error is returned; the rest are still attempted.
func (e *Engine) ForceSave() error {
	var firstErr error
	for _, d := range store.Datasets {
		e.take(d)
		if err := e.flush(d); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if _, err := e.CreateBackup(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// CreateBackup copies the current data files into a new snapshot directory
// and prunes snapshots beyond the retention limit. Returns the snapshot name.
func (e *Engine) CreateBackup() (string, error) {
	now := e.opts.Now()

	e.io.Lock()
	name, err := e.snapshot(now)
	e.io.Unlock()
	if err != nil {
		e.metrics.BackupErrors.Inc()
		e.logger.Error("backup failed", zap.String("backup", name), zap.Error(err))
		return "", err
	}

	e.mu.Lock()
	e.lastBackup = now
	e.mu.Unlock()

	e.metrics.Backups.Inc()
	e.logger.Info("backup created", zap.String("backup", name))
	e.prune()
	e.bus.Emit(bus.BackupCreated, name)
	return name, nil
}

// snapshot creates a fresh backup directory and copies the data files into
// it. A taken name is bumped by a millisecond until one is free, so names
// stay unique and keep their order. Callers hold io.
func (e *Engine) snapshot(now time.Time) (string, error) {
	stamp := now.UTC().Truncate(time.Millisecond)
	if !stamp.After(e.lastStamp) {
		stamp = e.lastStamp.Add(time.Millisecond)
	}
	for {
		name := backupName(stamp)
		dir := filepath.Join(e.backupDir, name)
		err := os.Mkdir(dir, 0o700)
		if errors.Is(err, os.ErrExist) {
			stamp = stamp.Add(time.Millisecond)
			continue
		}
		if err != nil {
			return name, fmt.Errorf("create backup dir: %w", err)
		}
		e.lastStamp = stamp
		return name, e.copyFiles(e.dataDir, dir, false)
	}
}

// copyFiles copies each dataset file present in from. With prune set, files
// missing from from are removed in to, so the result mirrors from exactly.
func (e *Engine) copyFiles(from, to string, prune bool) error {
	for _, d := range store.Datasets {
		name := fileFor(d)
		src := filepath.Join(from, name)
		dst := filepath.Join(to, name)
		if _, err := os.Stat(src); errors.Is(err, os.ErrNotExist) {
			if !prune {
				continue
			}
			if err := os.Remove(dst); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("remove %s: %w", name, err)
			}
			continue
		}
		if err := copyFile(src, dst); err != nil {
			return fmt.Errorf("copy %s: %w", name, err)
		}
	}
	return nil
}

func (e *Engine) prune() {
	backups, err := e.ListBackups()
	if err != nil {
		e.logger.Warn("list backups for pruning", zap.Error(err))
		return
	}
	if len(backups) <= e.opts.Retention {
		return
	}
	for _, name := range backups[e.opts.Retention:] {
		if err := os.RemoveAll(filepath.Join(e.backupDir, name)); err != nil {
			e.logger.Warn("remove old backup", zap.String("backup", name), zap.Error(err))
			continue
		}
		e.logger.Info("old backup deleted", zap.String("backup", name))
	}
}

// ListBackups returns snapshot names, newest first.
func (e *Engine) ListBackups() ([]string, error) {
	entries, err := os.ReadDir(e.backupDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("read backup dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	slices.Sort(names)
	slices.Reverse(names)
	return names, nil
}

// RestoreBackup copies a snapshot over the live files and reloads every
// dataset from disk. Live files the snapshot lacks are removed, so the
// restored state is exactly what was on disk when the snapshot was taken.
func (e *Engine) RestoreBackup(name string) error {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return ErrBackupNotFound
	}
	dir := filepath.Join(e.backupDir, name)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return ErrBackupNotFound
	}

	// io stays held until the source is reloaded so no flush can write the
	// pre-restore state over the restored files.
	e.io.Lock()
	err = e.copyFiles(dir, e.dataDir, true)
	if err == nil {
		e.reload()
	}
	e.io.Unlock()
	if err != nil {
		return fmt.Errorf("restore %s: %w", name, err)
	}

	e.logger.Info("backup restored", zap.String("backup", name))
	e.bus.Emit(bus.BackupRestored, name)
	return nil
}

// Load hydrates the source from the data files. Missing or malformed files
// leave the matching dataset empty; they are never fatal.
func (e *Engine) Load() {
	e.io.Lock()
	defer e.io.Unlock()
	e.reload()
}

// reload reads the data files into the source. Callers hold io. The dirty
// flags are reset before the source is replaced, so a mutation landing
// after the reload keeps its flag.
func (e *Engine) reload() {
	contacts := readTolerant[[]store.SavedContact](e, store.Contacts)
	chats := readTolerant[[]store.Chat](e, store.Chats)
	messages := readTolerant[map[string][]store.Message](e, store.Messages)

	e.mu.Lock()
	for _, d := range []store.Dataset{store.Contacts, store.Chats, store.Messages} {
		e.dirty[d] = false
	}
	e.mu.Unlock()

	e.src.Load(contacts, chats, messages)

	e.logger.Info("data loaded",
		zap.Int("contacts", len(contacts)), zap.Int("chats", len(chats)), zap.Int("message_chats", len(messages)))
}

func readTolerant[T any](e *Engine, d store.Dataset) T {
	var v T
	err := readJSON(filepath.Join(e.dataDir, fileFor(d)), &v)
	switch {
	case err == nil:
		return v
	case errors.Is(err, os.ErrNotExist):
		e.logger.Debug("no data file yet", zap.Stringer("dataset", d))
	default:
		e.logger.Warn("ignoring unreadable data file", zap.Stringer("dataset", d), zap.Error(err))
	}
	var zero T
	return zero
}

// LastBackup returns the time of the most recent backup made by this
// process, zero if none.
func (e *Engine) LastBackup() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastBackup
}
