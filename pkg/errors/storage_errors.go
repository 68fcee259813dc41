package errors

import (
	"fmt"
	"time"
)

// Storage-specific error definitions
var (
	ErrStorageConnectionLost    = NewStorageError("STORAGE_CONNECTION_LOST", "storage connection lost")
	ErrStorageConnectionTimeout = NewStorageError("STORAGE_CONNECTION_TIMEOUT", "storage connection timeout")
	ErrStorageNotConnected      = NewStorageError("NOT_CONNECTED", "storage is not connected")
	ErrStoragePermissionDenied  = NewStorageError("PERMISSION_DENIED", "storage permission denied")
	ErrStorageRecordNotFound    = NewStorageError("STORAGE_RECORD_NOT_FOUND", "storage record not found")
	ErrStorageDataCorrupted     = NewStorageError("STORAGE_DATA_CORRUPTED", "storage data corrupted")
	ErrStorageQueryFailed       = NewStorageError("STORAGE_QUERY_FAILED", "storage query failed")
	ErrStorageSnapshotFailed    = NewStorageError("STORAGE_SNAPSHOT_FAILED", "storage snapshot failed")
	ErrStorageConfigInvalid     = NewStorageError("STORAGE_CONFIG_INVALID", "storage configuration invalid")
	ErrStorageBucketNotFound    = NewStorageError("STORAGE_BUCKET_NOT_FOUND", "storage bucket not found")
	ErrStorageObjectNotFound    = NewStorageError("STORAGE_OBJECT_NOT_FOUND", "storage object not found")
)

// StorageError represents a storage-specific error with additional context
type StorageError struct {
	*AppError
	Backend   string        `json:"backend,omitempty"`   // "file", "redis", "postgres", "influxdb", "s3"
	Operation string        `json:"operation,omitempty"` // "save", "load", "list", "delete", "write"
	Key       string        `json:"key,omitempty"`       // snapshot name / object key
	Duration  time.Duration `json:"duration,omitempty"`
	Transient bool          `json:"transient"`
}

// WrapStorageError wraps a storage error with backend and operation context
func WrapStorageError(err error, operation, backend string) *StorageError {
	if err == nil {
		return nil
	}
	return &StorageError{
		AppError:  WrapError(err, ErrorTypeStorage, CodeStorageError, fmt.Sprintf("storage %s failed", operation)),
		Backend:   backend,
		Operation: operation,
		Transient: isRetryable(err),
	}
}

// WithKey attaches the affected key to the storage error
func (se *StorageError) WithKey(key string) *StorageError {
	se.Key = key
	return se
}

// WithDuration attaches the operation duration to the storage error
func (se *StorageError) WithDuration(d time.Duration) *StorageError {
	se.Duration = d
	return se
}
