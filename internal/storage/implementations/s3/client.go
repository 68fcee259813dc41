// Package s3 archives accountant snapshots as JSON objects in an S3
// bucket, optionally gzip-compressed.
package s3

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/dpledger/pkg/errors"
	"github.com/inferloop/dpledger/pkg/interfaces"
	"github.com/inferloop/dpledger/pkg/models"
)

// S3Config holds configuration for S3 storage
type S3Config struct {
	Region          string        `json:"region"`
	Bucket          string        `json:"bucket"`
	AccessKeyID     string        `json:"access_key_id"`
	SecretAccessKey string        `json:"secret_access_key,omitempty"`
	SessionToken    string        `json:"session_token,omitempty"`
	Endpoint        string        `json:"endpoint,omitempty"`
	ForcePathStyle  bool          `json:"force_path_style"`
	DisableSSL      bool          `json:"disable_ssl"`
	Prefix          string        `json:"prefix"`
	Timeout         time.Duration `json:"timeout"`
	MaxRetries      int           `json:"max_retries"`
	PartSize        int64         `json:"part_size"`
	UseCompression  bool          `json:"use_compression"`
	StorageClass    string        `json:"storage_class"`
}

// S3Storage implements SnapshotStore on an S3 bucket
type S3Storage struct {
	config     *S3Config
	s3Client   *s3.S3
	uploader   *s3manager.Uploader
	downloader *s3manager.Downloader
	logger     *logrus.Logger
	mu         sync.RWMutex
	metrics    *storageMetrics
	closed     bool
}

type storageMetrics struct {
	readOps      int64
	writeOps     int64
	deleteOps    int64
	errorCount   int64
	bytesRead    int64
	bytesWritten int64
	startTime    time.Time
	mu           sync.RWMutex
}

// archiveObject wraps a snapshot with archival metadata
type archiveObject struct {
	Snapshot   *models.AccountantSnapshot `json:"snapshot"`
	Metadata   map[string]string          `json:"metadata"`
	Version    string                     `json:"version"`
	ArchivedAt time.Time                  `json:"archived_at"`
}

// NewS3Storage creates a new S3 storage instance
func NewS3Storage(config *S3Config, logger *logrus.Logger) (*S3Storage, error) {
	if config == nil {
		return nil, errors.NewStorageError(errors.CodeInvalidConfig, "S3 config cannot be nil")
	}

	if config.Bucket == "" {
		return nil, errors.NewStorageError(errors.CodeInvalidConfig, "S3 bucket is required")
	}

	if config.Region == "" {
		config.Region = "us-east-1"
	}

	if logger == nil {
		logger = logrus.New()
	}

	return &S3Storage{
		config: config,
		logger: logger,
		metrics: &storageMetrics{
			startTime: time.Now(),
		},
	}, nil
}

// Connect establishes connection to S3
func (s *S3Storage) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.s3Client != nil {
		return nil
	}

	awsConfig := &aws.Config{
		Region:     aws.String(s.config.Region),
		MaxRetries: aws.Int(s.config.MaxRetries),
	}

	if s.config.AccessKeyID != "" && s.config.SecretAccessKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(
			s.config.AccessKeyID,
			s.config.SecretAccessKey,
			s.config.SessionToken,
		)
	}

	// Custom endpoint for S3-compatible services
	if s.config.Endpoint != "" {
		awsConfig.Endpoint = aws.String(s.config.Endpoint)
		awsConfig.S3ForcePathStyle = aws.Bool(s.config.ForcePathStyle)
	}

	if s.config.DisableSSL {
		awsConfig.DisableSSL = aws.Bool(true)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, "SESSION_FAILED", "Failed to create AWS session")
	}

	s.s3Client = s3.New(sess)
	s.uploader = s3manager.NewUploader(sess)
	s.downloader = s3manager.NewDownloader(sess)

	if s.config.PartSize > 0 {
		s.uploader.PartSize = s.config.PartSize
	}

	_, err = s.s3Client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.config.Bucket),
	})
	if err != nil {
		s.s3Client = nil
		s.uploader = nil
		s.downloader = nil
		return errors.WrapError(err, errors.ErrorTypeStorage, "BUCKET_ACCESS_FAILED",
			fmt.Sprintf("Failed to access bucket '%s'", s.config.Bucket))
	}

	s.logger.WithFields(logrus.Fields{
		"region": s.config.Region,
		"bucket": s.config.Bucket,
		"prefix": s.config.Prefix,
	}).Info("Connected to S3")

	return nil
}

// Close closes the S3 connection
func (s *S3Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.s3Client = nil
	s.uploader = nil
	s.downloader = nil
	s.closed = true

	s.logger.Info("S3 connection closed")
	return nil
}

// Ping tests the S3 connection
func (s *S3Storage) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed || s.s3Client == nil {
		return errors.NewStorageError("NOT_CONNECTED", "S3 not connected")
	}

	_, err := s.s3Client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.config.Bucket),
	})
	if err != nil {
		s.incrementErrorCount()
		return errors.WrapError(err, errors.ErrorTypeStorage, "PING_FAILED", "S3 ping failed")
	}

	return nil
}

// GetInfo returns information about the S3 storage
func (s *S3Storage) GetInfo(ctx context.Context) (*interfaces.StorageInfo, error) {
	return &interfaces.StorageInfo{
		Type:        "s3",
		Version:     "AWS S3 API",
		Name:        "Amazon S3 Storage",
		Description: "Object store for archived accountant snapshots",
		Features: []string{
			"snapshot archival",
			"gzip compression",
			"storage classes",
			"s3-compatible endpoints",
		},
		Configuration: map[string]interface{}{
			"region":          s.config.Region,
			"bucket":          s.config.Bucket,
			"prefix":          s.config.Prefix,
			"use_compression": s.config.UseCompression,
			"storage_class":   s.config.StorageClass,
		},
	}, nil
}

// Health returns the health status of the storage
func (s *S3Storage) Health(ctx context.Context) (*interfaces.HealthStatus, error) {
	start := time.Now()
	status := "healthy"
	var healthErrors []string
	var warnings []string

	if err := s.Ping(ctx); err != nil {
		status = "unhealthy"
		healthErrors = append(healthErrors, fmt.Sprintf("Connection failed: %v", err))
	}

	latency := time.Since(start)
	if latency > 500*time.Millisecond {
		warnings = append(warnings, "High latency detected")
	}

	return &interfaces.HealthStatus{
		Status:    status,
		LastCheck: time.Now(),
		Latency:   latency,
		Errors:    healthErrors,
		Warnings:  warnings,
		Metadata: map[string]interface{}{
			"bucket_region":  s.config.Region,
			"snapshot_count": s.getSnapshotCount(ctx),
		},
	}, nil
}

// SaveSnapshot uploads a snapshot to the archive
func (s *S3Storage) SaveSnapshot(ctx context.Context, snapshot *models.AccountantSnapshot) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed || s.uploader == nil {
		return errors.NewStorageError("NOT_CONNECTED", "S3 not connected")
	}

	if snapshot == nil {
		return errors.NewValidationError(errors.CodeInvalidInput, "snapshot cannot be nil")
	}

	if err := validateSnapshotName(snapshot.Name); err != nil {
		return err
	}

	start := time.Now()
	defer func() {
		s.incrementWriteOps()
		s.logger.WithField("duration", time.Since(start)).Debug("Snapshot upload completed")
	}()

	archive := &archiveObject{
		Snapshot:   snapshot,
		Version:    "1.0",
		ArchivedAt: time.Now().UTC(),
		Metadata: map[string]string{
			"content-type":  "application/json",
			"snapshot-name": snapshot.Name,
		},
	}

	jsonData, err := json.Marshal(archive)
	if err != nil {
		s.incrementErrorCount()
		return errors.WrapError(err, errors.ErrorTypeStorage, "SERIALIZATION_FAILED", "Failed to serialize snapshot")
	}

	var body io.Reader = bytes.NewReader(jsonData)
	contentEncoding := ""

	if s.config.UseCompression {
		var buf bytes.Buffer
		gzWriter := gzip.NewWriter(&buf)
		if _, err := gzWriter.Write(jsonData); err != nil {
			s.incrementErrorCount()
			return errors.WrapError(err, errors.ErrorTypeStorage, "COMPRESSION_FAILED", "Failed to compress snapshot")
		}
		gzWriter.Close()

		body = bytes.NewReader(buf.Bytes())
		contentEncoding = "gzip"
		s.incrementBytesWritten(int64(buf.Len()))
	} else {
		s.incrementBytesWritten(int64(len(jsonData)))
	}

	uploadInput := &s3manager.UploadInput{
		Bucket:      aws.String(s.config.Bucket),
		Key:         aws.String(s.generateKey(snapshot.Name)),
		Body:        body,
		ContentType: aws.String("application/json"),
		Metadata: map[string]*string{
			"snapshot-name": aws.String(snapshot.Name),
			"event-count":   aws.String(fmt.Sprintf("%d", len(snapshot.Events))),
			"archived-at":   aws.String(archive.ArchivedAt.Format(time.RFC3339)),
		},
	}

	if contentEncoding != "" {
		uploadInput.ContentEncoding = aws.String(contentEncoding)
	}

	if s.config.StorageClass != "" {
		uploadInput.StorageClass = aws.String(s.config.StorageClass)
	}

	if _, err := s.uploader.UploadWithContext(ctx, uploadInput); err != nil {
		s.incrementErrorCount()
		return errors.WrapError(err, errors.ErrorTypeStorage, "UPLOAD_FAILED", "Failed to upload snapshot to S3")
	}

	return nil
}

// LoadSnapshot downloads a snapshot from the archive by name
func (s *S3Storage) LoadSnapshot(ctx context.Context, name string) (*models.AccountantSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed || s.downloader == nil {
		return nil, errors.NewStorageError("NOT_CONNECTED", "S3 not connected")
	}

	if err := validateSnapshotName(name); err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() {
		s.incrementReadOps()
		s.logger.WithField("duration", time.Since(start)).Debug("Snapshot download completed")
	}()

	buf := aws.NewWriteAtBuffer([]byte{})
	_, err := s.downloader.DownloadWithContext(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(s.generateKey(name)),
	})
	if err != nil {
		s.incrementErrorCount()
		if strings.Contains(err.Error(), "NoSuchKey") {
			return nil, errors.NewStorageError(errors.CodeSnapshotNotFound,
				fmt.Sprintf("Snapshot '%s' not found", name))
		}
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, "DOWNLOAD_FAILED", "Failed to download snapshot from S3")
	}

	data := buf.Bytes()
	s.incrementBytesRead(int64(len(data)))

	// Archives written before a compression change must still load, so
	// detect gzip from the magic bytes instead of trusting the config.
	if len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b {
		gzReader, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			s.incrementErrorCount()
			return nil, errors.WrapError(err, errors.ErrorTypeStorage, "DECOMPRESSION_FAILED", "Failed to decompress snapshot")
		}
		defer gzReader.Close()

		decompressed, err := io.ReadAll(gzReader)
		if err != nil {
			s.incrementErrorCount()
			return nil, errors.WrapError(err, errors.ErrorTypeStorage, "DECOMPRESSION_FAILED", "Failed to read decompressed snapshot")
		}
		data = decompressed
	}

	var archive archiveObject
	if err := json.Unmarshal(data, &archive); err != nil {
		s.incrementErrorCount()
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeDeserialization, "Failed to deserialize snapshot")
	}

	if archive.Snapshot == nil {
		s.incrementErrorCount()
		return nil, errors.NewStorageError(errors.CodeDeserialization,
			fmt.Sprintf("Archive for '%s' holds no snapshot", name))
	}

	return archive.Snapshot, nil
}

// ListSnapshots lists archived snapshots from object metadata without
// downloading them
func (s *S3Storage) ListSnapshots(ctx context.Context) ([]*models.SnapshotInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed || s.s3Client == nil {
		return nil, errors.NewStorageError("NOT_CONNECTED", "S3 not connected")
	}

	start := time.Now()
	defer func() {
		s.incrementReadOps()
		s.logger.WithField("duration", time.Since(start)).Debug("Snapshot list completed")
	}()

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.config.Bucket),
		Prefix: aws.String(s.archivePrefix()),
	}

	var snapshots []*models.SnapshotInfo
	err := s.s3Client.ListObjectsV2PagesWithContext(ctx, input,
		func(page *s3.ListObjectsV2Output, lastPage bool) bool {
			for _, obj := range page.Contents {
				name := s.extractNameFromKey(aws.StringValue(obj.Key))
				if name == "" {
					continue
				}

				snapshots = append(snapshots, &models.SnapshotInfo{
					Name:      name,
					Key:       aws.StringValue(obj.Key),
					Size:      aws.Int64Value(obj.Size),
					CreatedAt: aws.TimeValue(obj.LastModified),
				})
			}
			return true
		})
	if err != nil {
		s.incrementErrorCount()
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, "LIST_FAILED", "Failed to list snapshots from S3")
	}

	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].Name < snapshots[j].Name
	})

	return snapshots, nil
}

// DeleteSnapshot removes a snapshot from the archive by name
func (s *S3Storage) DeleteSnapshot(ctx context.Context, name string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed || s.s3Client == nil {
		return errors.NewStorageError("NOT_CONNECTED", "S3 not connected")
	}

	if err := validateSnapshotName(name); err != nil {
		return err
	}

	key := s.generateKey(name)

	// DeleteObject succeeds on missing keys, so probe first to report
	// not-found to the caller.
	_, err := s.s3Client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if strings.Contains(err.Error(), "NotFound") || strings.Contains(err.Error(), "404") {
			return errors.NewStorageError(errors.CodeSnapshotNotFound,
				fmt.Sprintf("Snapshot '%s' not found", name))
		}
		s.incrementErrorCount()
		return errors.WrapError(err, errors.ErrorTypeStorage, "HEAD_FAILED", "Failed to check snapshot in S3")
	}

	_, err = s.s3Client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		s.incrementErrorCount()
		return errors.WrapError(err, errors.ErrorTypeStorage, "DELETE_FAILED", "Failed to delete snapshot from S3")
	}

	s.incrementDeleteOps()
	s.logger.WithField("snapshot", name).Info("Snapshot deleted from archive")
	return nil
}

// GetMetrics returns storage performance counters
func (s *S3Storage) GetMetrics(ctx context.Context) (*interfaces.StorageMetrics, error) {
	s.metrics.mu.RLock()
	defer s.metrics.mu.RUnlock()

	return &interfaces.StorageMetrics{
		ReadOperations:   s.metrics.readOps,
		WriteOperations:  s.metrics.writeOps,
		DeleteOperations: s.metrics.deleteOps,
		ErrorCount:       s.metrics.errorCount,
		RecordCount:      s.metrics.writeOps,
		DataSize:         s.metrics.bytesWritten,
		Uptime:           time.Since(s.metrics.startTime),
	}, nil
}

// Helper methods

func (s *S3Storage) generateKey(name string) string {
	return path.Join(s.config.Prefix, "snapshots", fmt.Sprintf("%s.json", name))
}

func (s *S3Storage) archivePrefix() string {
	prefix := s.config.Prefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix + "snapshots/"
}

func (s *S3Storage) extractNameFromKey(key string) string {
	parts := strings.Split(key, "/")
	if len(parts) == 0 {
		return ""
	}

	filename := parts[len(parts)-1]
	if strings.HasSuffix(filename, ".json") {
		return strings.TrimSuffix(filename, ".json")
	}

	return ""
}

func (s *S3Storage) getSnapshotCount(ctx context.Context) int64 {
	if s.s3Client == nil {
		return 0
	}

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.config.Bucket),
		Prefix: aws.String(s.archivePrefix()),
	}

	var count int64
	err := s.s3Client.ListObjectsV2PagesWithContext(ctx, input,
		func(page *s3.ListObjectsV2Output, lastPage bool) bool {
			count += int64(len(page.Contents))
			return true
		})
	if err != nil {
		return 0
	}

	return count
}

func validateSnapshotName(name string) error {
	if name == "" {
		return errors.NewValidationError(errors.CodeInvalidInput, "snapshot requires a name")
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return errors.NewValidationError(errors.CodeInvalidInput,
			fmt.Sprintf("snapshot name '%s' is not a valid object name", name))
	}
	return nil
}

func (s *S3Storage) incrementReadOps() {
	s.metrics.mu.Lock()
	s.metrics.readOps++
	s.metrics.mu.Unlock()
}

func (s *S3Storage) incrementWriteOps() {
	s.metrics.mu.Lock()
	s.metrics.writeOps++
	s.metrics.mu.Unlock()
}

func (s *S3Storage) incrementDeleteOps() {
	s.metrics.mu.Lock()
	s.metrics.deleteOps++
	s.metrics.mu.Unlock()
}

func (s *S3Storage) incrementErrorCount() {
	s.metrics.mu.Lock()
	s.metrics.errorCount++
	s.metrics.mu.Unlock()
}

func (s *S3Storage) incrementBytesRead(bytes int64) {
	s.metrics.mu.Lock()
	s.metrics.bytesRead += bytes
	s.metrics.mu.Unlock()
}

func (s *S3Storage) incrementBytesWritten(bytes int64) {
	s.metrics.mu.Lock()
	s.metrics.bytesWritten += bytes
	s.metrics.mu.Unlock()
}
