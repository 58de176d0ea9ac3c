// Package state provides durable order stores for the OMS.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	omserrors "github.com/ducminhle1904/crypto-oms/internal/errors"
	"github.com/ducminhle1904/crypto-oms/internal/logger"
	"github.com/ducminhle1904/crypto-oms/internal/oms"
)

const (
	stateVersion     = "1.0.0"
	defaultStatePath = "state/orders.json"
)

// Snapshot is the on-disk layout of the file store
type Snapshot struct {
	Version     string               `json:"version"`
	LastUpdated time.Time            `json:"last_updated"`
	Orders      map[string]oms.Order `json:"orders"`
}

// FileStore keeps every order in memory and rewrites a single JSON file on
// each upsert. The file is replaced atomically via a temp file and rename,
// and the previous version is kept as a backup.
type FileStore struct {
	logger     *logger.Logger
	path       string
	backupPath string
	clock      func() time.Time

	mu       sync.Mutex
	snapshot *Snapshot
	lastSave time.Time
}

// NewFileStore opens (or creates) the state file at path and loads any
// existing state. A corrupt state file falls back to the backup kept next
// to it.
func NewFileStore(path string, log *logger.Logger) (*FileStore, error) {
	if path == "" {
		path = defaultStatePath
	}
	if log == nil {
		log = logger.NewNop()
	}
	ext := filepath.Ext(path)
	fs := &FileStore{
		logger:     log.Component("state"),
		path:       path,
		backupPath: strings.TrimSuffix(path, ext) + "_backup" + ext,
		clock:      time.Now,
		snapshot:   newSnapshot(),
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, omserrors.NewPersistenceError("state", "init", fmt.Errorf("failed to create state directory: %w", err))
	}
	if err := fs.load(); err != nil {
		return nil, err
	}
	return fs, nil
}

func newSnapshot() *Snapshot {
	return &Snapshot{Version: stateVersion, Orders: make(map[string]oms.Order)}
}

// Path returns the state file location
func (fs *FileStore) Path() string {
	return fs.path
}

func (fs *FileStore) load() error {
	snap, err := readSnapshot(fs.Path())
	if err == nil {
		if snap != nil {
			fs.snapshot = snap
			fs.logger.Info("Loaded %d orders from %s", len(snap.Orders), fs.Path())
		} else {
			fs.logger.Info("No existing state file found, starting with clean state")
		}
		return nil
	}

	fs.logger.LogWarning("State Load", "State file unreadable: %v, trying backup", err)
	backup, berr := readSnapshot(fs.backupPath)
	if berr != nil || backup == nil {
		return omserrors.NewPersistenceError("state", "load", err)
	}
	fs.snapshot = backup
	fs.logger.Info("Loaded %d orders from backup %s", len(backup.Orders), fs.backupPath)
	return nil
}

func readSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse state file: %w", err)
	}
	if snap.Orders == nil {
		snap.Orders = make(map[string]oms.Order)
	}
	for id, o := range snap.Orders {
		if o.ID != id {
			return nil, fmt.Errorf("order key %q does not match id %q", id, o.ID)
		}
	}
	return &snap, nil
}

// PersistOrder upserts the order and flushes the file
func (fs *FileStore) PersistOrder(ctx context.Context, order oms.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if order.ID == "" {
		return omserrors.NewValidationError("state", "persist", "missing_order_id", "order id is required")
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	prev, had := fs.snapshot.Orders[order.ID]
	fs.snapshot.Orders[order.ID] = order.Clone()
	if err := fs.saveLocked(); err != nil {
		if had {
			fs.snapshot.Orders[order.ID] = prev
		} else {
			delete(fs.snapshot.Orders, order.ID)
		}
		return err
	}
	return nil
}

// LoadOpenOrders returns non-terminal orders
func (fs *FileStore) LoadOpenOrders(ctx context.Context) ([]oms.Order, error) {
	return fs.loadWhere(ctx, func(o oms.Order) bool { return !o.Status.IsTerminal() })
}

// LoadAllOrders returns every stored order
func (fs *FileStore) LoadAllOrders(ctx context.Context) ([]oms.Order, error) {
	return fs.loadWhere(ctx, func(oms.Order) bool { return true })
}

func (fs *FileStore) loadWhere(ctx context.Context, keep func(oms.Order) bool) ([]oms.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	out := make([]oms.Order, 0, len(fs.snapshot.Orders))
	for _, o := range fs.snapshot.Orders {
		if keep(o) {
			out = append(out, o.Clone())
		}
	}
	sortOrders(out)
	return out, nil
}

// Close is a no-op; every upsert is already on disk
func (fs *FileStore) Close() error {
	return nil
}

func (fs *FileStore) saveLocked() error {
	fs.snapshot.LastUpdated = fs.clock()

	stateFile := fs.Path()
	if _, err := os.Stat(stateFile); err == nil {
		if err := copyFile(stateFile, fs.backupPath); err != nil {
			fs.logger.LogWarning("State Backup", "Failed to create backup: %v", err)
		}
	}

	data, err := json.MarshalIndent(fs.snapshot, "", "  ")
	if err != nil {
		return omserrors.NewPersistenceError("state", "save", fmt.Errorf("failed to marshal state: %w", err))
	}

	tempFile := stateFile + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return omserrors.NewPersistenceError("state", "save", fmt.Errorf("failed to write temp state file: %w", err))
	}
	if err := os.Rename(tempFile, stateFile); err != nil {
		return omserrors.NewPersistenceError("state", "save", fmt.Errorf("failed to move state file: %w", err))
	}

	fs.lastSave = fs.clock()
	fs.logger.Debug("State saved to %s (%d orders)", stateFile, len(fs.snapshot.Orders))
	return nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0644)
}

// sortOrders orders by creation time, then id
func sortOrders(orders []oms.Order) {
	sort.Slice(orders, func(i, j int) bool {
		if !orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].CreatedAt.Before(orders[j].CreatedAt)
		}
		return orders[i].ID < orders[j].ID
	})
}
