package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"bucketfiller/internal/checksum"
)

// Service defines the object storage capability consumed by upload workers.
// Retries, if any, happen beneath this interface.
type Service interface {
	Put(ctx context.Context, bucket, key string, content []byte, cksum checksum.Options) (PutResult, error)
}

// PutResult contains the response metadata of a successful PUT
type PutResult struct {
	StatusCode int
	RequestID  string
	HostID     string
	VersionID  string
}

// PutError is returned when a PUT fails. StatusCode is zero when the
// service never answered (network error, cancelled context, ...).
type PutError struct {
	StatusCode int
	RequestID  string
	HostID     string
	Err        error
}

func (e *PutError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("put failed: %v", e.Err)
	}
	return fmt.Sprintf("put failed with status %d (request id %q): %v", e.StatusCode, e.RequestID, e.Err)
}

func (e *PutError) Unwrap() error {
	return e.Err
}

// StatusCode extracts the HTTP status carried by err, or zero
func StatusCode(err error) int {
	var putErr *PutError
	if errors.As(err, &putErr) {
		return putErr.StatusCode
	}
	return 0
}

// Backend names
const (
	BackendMinIO = "minio"
	BackendS3    = "s3"
)

// Config contains client configuration
type Config struct {
	Backend   string
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	PathStyle bool
}

// Factory creates one Service per caller; workers each own a handle
type Factory func() (Service, error)

// NewFactory returns a Factory for the configured backend
func NewFactory(cfg Config) (Factory, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", BackendMinIO:
		if _, _, err := cleanEndpoint(cfg.Endpoint); err != nil {
			return nil, fmt.Errorf("invalid endpoint: %w", err)
		}
		return func() (Service, error) { return NewMinIOClient(cfg) }, nil
	case BackendS3:
		return func() (Service, error) { return NewS3Client(context.Background(), cfg) }, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
