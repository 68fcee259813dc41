// Package file persists accountant snapshots as pretty-printed JSON
// files under a base directory.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/dpledger/pkg/errors"
	"github.com/inferloop/dpledger/pkg/interfaces"
	"github.com/inferloop/dpledger/pkg/models"
)

// FileStorageConfig holds configuration for file storage
type FileStorageConfig struct {
	BasePath      string `json:"base_path"`
	CreateDirs    bool   `json:"create_dirs"`
	SyncWrites    bool   `json:"sync_writes"`
	BackupEnabled bool   `json:"backup_enabled"`
	RetentionDays int    `json:"retention_days"`
}

// FileStorage implements SnapshotStore on the local filesystem
type FileStorage struct {
	config    *FileStorageConfig
	logger    *logrus.Logger
	mu        sync.RWMutex
	metrics   *storageMetrics
	cancel    context.CancelFunc
	connected bool
}

type storageMetrics struct {
	readOps    int64
	writeOps   int64
	deleteOps  int64
	errorCount int64
	startTime  time.Time
	mu         sync.RWMutex
}

// NewFileStorage creates a new file storage instance
func NewFileStorage(config *FileStorageConfig, logger *logrus.Logger) (*FileStorage, error) {
	if config == nil {
		return nil, errors.NewStorageError(errors.CodeInvalidConfig, "File storage config cannot be nil")
	}

	if config.BasePath == "" {
		return nil, errors.NewStorageError(errors.CodeInvalidConfig, "File storage base path is required")
	}

	if logger == nil {
		logger = logrus.New()
	}

	return &FileStorage{
		config: config,
		logger: logger,
		metrics: &storageMetrics{
			startTime: time.Now(),
		},
	}, nil
}

// Connect prepares the base directory and verifies it is writable
func (fs *FileStorage) Connect(ctx context.Context) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.connected {
		return nil
	}

	if fs.config.CreateDirs {
		if err := os.MkdirAll(fs.config.BasePath, 0755); err != nil {
			return errors.WrapError(err, errors.ErrorTypeStorage, "DIRECTORY_CREATION_FAILED",
				fmt.Sprintf("Failed to create directory: %s", fs.config.BasePath))
		}
	}

	if _, err := os.Stat(fs.config.BasePath); os.IsNotExist(err) {
		return errors.NewStorageError("PATH_NOT_FOUND", fmt.Sprintf("Base path does not exist: %s", fs.config.BasePath))
	}

	testFile := filepath.Join(fs.config.BasePath, ".write_test")
	if file, err := os.Create(testFile); err != nil {
		return errors.NewStorageError("PERMISSION_DENIED", fmt.Sprintf("Cannot write to directory: %s", fs.config.BasePath))
	} else {
		file.Close()
		os.Remove(testFile)
	}

	if fs.config.RetentionDays > 0 {
		cleanupCtx, cancel := context.WithCancel(context.Background())
		fs.cancel = cancel
		go fs.cleanupRoutine(cleanupCtx)
	}

	fs.connected = true
	fs.logger.WithField("base_path", fs.config.BasePath).Info("File storage connected")
	return nil
}

// Close stops the cleanup routine and marks the storage disconnected
func (fs *FileStorage) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if !fs.connected {
		return nil
	}

	if fs.cancel != nil {
		fs.cancel()
		fs.cancel = nil
	}

	fs.connected = false
	fs.logger.Info("File storage closed")
	return nil
}

// Ping verifies the base directory is still reachable
func (fs *FileStorage) Ping(ctx context.Context) error {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	if !fs.connected {
		return errors.NewStorageError("NOT_CONNECTED", "File storage not connected")
	}

	if _, err := os.Stat(fs.config.BasePath); err != nil {
		fs.incrementErrorCount()
		return errors.WrapError(err, errors.ErrorTypeStorage, "PING_FAILED", "Base path is not accessible")
	}

	return nil
}

// GetInfo returns information about the file storage
func (fs *FileStorage) GetInfo(ctx context.Context) (*interfaces.StorageInfo, error) {
	return &interfaces.StorageInfo{
		Type:        "file",
		Version:     "1.0",
		Name:        "File Storage",
		Description: "Filesystem store for ledger snapshots",
		Features: []string{
			"snapshot persistence",
			"backup copies",
			"pretty-printed json",
			"retention cleanup",
		},
		Configuration: map[string]interface{}{
			"base_path":      fs.config.BasePath,
			"sync_writes":    fs.config.SyncWrites,
			"backup_enabled": fs.config.BackupEnabled,
			"retention_days": fs.config.RetentionDays,
		},
	}, nil
}

// Health returns the health status of the storage
func (fs *FileStorage) Health(ctx context.Context) (*interfaces.HealthStatus, error) {
	start := time.Now()
	status := "healthy"
	var healthErrors []string
	var warnings []string

	if err := fs.Ping(ctx); err != nil {
		status = "unhealthy"
		healthErrors = append(healthErrors, fmt.Sprintf("Base path check failed: %v", err))
	}

	latency := time.Since(start)

	health := &interfaces.HealthStatus{
		Status:    status,
		LastCheck: time.Now(),
		Latency:   latency,
		Errors:    healthErrors,
		Warnings:  warnings,
		Metadata: map[string]interface{}{
			"base_path": fs.config.BasePath,
		},
	}

	if snapshots, err := fs.ListSnapshots(ctx); err == nil {
		health.Metadata["snapshot_count"] = len(snapshots)
	}

	return health, nil
}

// SaveSnapshot writes a snapshot to disk, keeping the previous copy as
// a backup when enabled
func (fs *FileStorage) SaveSnapshot(ctx context.Context, snapshot *models.AccountantSnapshot) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if !fs.connected {
		return errors.NewStorageError("NOT_CONNECTED", "File storage not connected")
	}

	if snapshot == nil {
		return errors.NewValidationError(errors.CodeInvalidInput, "snapshot cannot be nil")
	}

	if err := validateSnapshotName(snapshot.Name); err != nil {
		return err
	}

	path := fs.snapshotPath(snapshot.Name)

	if fs.config.BackupEnabled {
		if _, err := os.Stat(path); err == nil {
			if err := os.Rename(path, path+".bak"); err != nil {
				fs.logger.WithError(err).Warn("Failed to back up previous snapshot")
			}
		}
	}

	file, err := os.Create(path)
	if err != nil {
		fs.incrementErrorCount()
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed,
			fmt.Sprintf("Failed to create snapshot file for '%s'", snapshot.Name))
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(snapshot); err != nil {
		fs.incrementErrorCount()
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to encode snapshot")
	}

	if fs.config.SyncWrites {
		if err := file.Sync(); err != nil {
			fs.incrementErrorCount()
			return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to sync snapshot file")
		}
	}

	fs.incrementWriteOps()
	fs.logger.WithField("snapshot", snapshot.Name).Debug("Snapshot saved")
	return nil
}

// LoadSnapshot reads a snapshot from disk by name
func (fs *FileStorage) LoadSnapshot(ctx context.Context, name string) (*models.AccountantSnapshot, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	if !fs.connected {
		return nil, errors.NewStorageError("NOT_CONNECTED", "File storage not connected")
	}

	if err := validateSnapshotName(name); err != nil {
		return nil, err
	}

	file, err := os.Open(fs.snapshotPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewStorageError(errors.CodeSnapshotNotFound,
				fmt.Sprintf("Snapshot '%s' not found", name))
		}
		fs.incrementErrorCount()
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed,
			fmt.Sprintf("Failed to open snapshot '%s'", name))
	}
	defer file.Close()

	var snapshot models.AccountantSnapshot
	if err := json.NewDecoder(file).Decode(&snapshot); err != nil {
		fs.incrementErrorCount()
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeDeserialization,
			fmt.Sprintf("Failed to decode snapshot '%s'", name))
	}

	fs.incrementReadOps()
	return &snapshot, nil
}

// ListSnapshots lists snapshots in the base directory sorted by name
func (fs *FileStorage) ListSnapshots(ctx context.Context) ([]*models.SnapshotInfo, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	if !fs.connected {
		return nil, errors.NewStorageError("NOT_CONNECTED", "File storage not connected")
	}

	entries, err := os.ReadDir(fs.config.BasePath)
	if err != nil {
		fs.incrementErrorCount()
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "Failed to read base directory")
	}

	// Backups end in .bak, so the suffix filter skips them.
	var snapshots []*models.SnapshotInfo
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			fs.logger.WithError(err).Warn("Failed to stat snapshot during list")
			continue
		}

		snapshots = append(snapshots, &models.SnapshotInfo{
			Name:      strings.TrimSuffix(entry.Name(), ".json"),
			Key:       filepath.Join(fs.config.BasePath, entry.Name()),
			Size:      info.Size(),
			CreatedAt: info.ModTime(),
		})
	}

	fs.incrementReadOps()
	return snapshots, nil
}

// DeleteSnapshot removes a snapshot and its backup by name
func (fs *FileStorage) DeleteSnapshot(ctx context.Context, name string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if !fs.connected {
		return errors.NewStorageError("NOT_CONNECTED", "File storage not connected")
	}

	if err := validateSnapshotName(name); err != nil {
		return err
	}

	path := fs.snapshotPath(name)
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return errors.NewStorageError(errors.CodeSnapshotNotFound,
				fmt.Sprintf("Snapshot '%s' not found", name))
		}
		fs.incrementErrorCount()
		return errors.WrapError(err, errors.ErrorTypeStorage, "DELETE_FAILED",
			fmt.Sprintf("Failed to delete snapshot '%s'", name))
	}

	if err := os.Remove(path + ".bak"); err != nil && !os.IsNotExist(err) {
		fs.logger.WithError(err).Warn("Failed to delete snapshot backup")
	}

	fs.incrementDeleteOps()
	fs.logger.WithField("snapshot", name).Debug("Snapshot deleted")
	return nil
}

// GetMetrics returns storage performance counters
func (fs *FileStorage) GetMetrics(ctx context.Context) (*interfaces.StorageMetrics, error) {
	fs.metrics.mu.RLock()
	defer fs.metrics.mu.RUnlock()

	return &interfaces.StorageMetrics{
		ReadOperations:   fs.metrics.readOps,
		WriteOperations:  fs.metrics.writeOps,
		DeleteOperations: fs.metrics.deleteOps,
		ErrorCount:       fs.metrics.errorCount,
		RecordCount:      fs.metrics.writeOps,
		Uptime:           time.Since(fs.metrics.startTime),
	}, nil
}

func (fs *FileStorage) cleanupRoutine(ctx context.Context) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fs.performCleanup()
		}
	}
}

// performCleanup removes aged backup copies. Live snapshots hold the
// only durable record of an accountant and must survive regardless of
// age.
func (fs *FileStorage) performCleanup() {
	if fs.config.RetentionDays <= 0 {
		return
	}

	cutoff := time.Now().AddDate(0, 0, -fs.config.RetentionDays)

	entries, err := os.ReadDir(fs.config.BasePath)
	if err != nil {
		fs.logger.WithError(err).Warn("Cleanup failed to read base directory")
		return
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".bak") {
			continue
		}

		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}

		if err := os.Remove(filepath.Join(fs.config.BasePath, entry.Name())); err != nil {
			fs.logger.WithError(err).Warn("Cleanup failed to remove backup")
			continue
		}
		removed++
	}

	if removed > 0 {
		fs.logger.WithField("removed", removed).Info("Aged snapshot backups removed")
	}
}

func (fs *FileStorage) snapshotPath(name string) string {
	return filepath.Join(fs.config.BasePath, name+".json")
}

// validateSnapshotName rejects names that would resolve outside the
// base directory.
func validateSnapshotName(name string) error {
	if name == "" {
		return errors.NewValidationError(errors.CodeInvalidInput, "snapshot requires a name")
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return errors.NewValidationError(errors.CodeInvalidInput,
			fmt.Sprintf("snapshot name '%s' is not a valid file name", name))
	}
	return nil
}

// Metrics helpers

func (fs *FileStorage) incrementReadOps() {
	fs.metrics.mu.Lock()
	fs.metrics.readOps++
	fs.metrics.mu.Unlock()
}

func (fs *FileStorage) incrementWriteOps() {
	fs.metrics.mu.Lock()
	fs.metrics.writeOps++
	fs.metrics.mu.Unlock()
}

func (fs *FileStorage) incrementDeleteOps() {
	fs.metrics.mu.Lock()
	fs.metrics.deleteOps++
	fs.metrics.mu.Unlock()
}

func (fs *FileStorage) incrementErrorCount() {
	fs.metrics.mu.Lock()
	fs.metrics.errorCount++
	fs.metrics.mu.Unlock()
}
