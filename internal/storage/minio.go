package storage

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"bucketfiller/internal/checksum"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOClient implements the Service interface using minio-go
type MinIOClient struct {
	client *minio.Client
}

// NewMinIOClient creates a new MinIO client
func NewMinIOClient(cfg Config) (*MinIOClient, error) {
	// Clean and validate endpoint
	endpoint, secure, err := cleanEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}

	lookup := minio.BucketLookupAuto
	if cfg.PathStyle {
		lookup = minio.BucketLookupPath
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:       secure,
		Region:       cfg.Region,
		BucketLookup: lookup,
	})
	if err != nil {
		return nil, err
	}

	return &MinIOClient{client: client}, nil
}

// cleanEndpoint removes protocol and path from endpoint URL to get host:port format.
// secure reports whether the endpoint asked for https.
func cleanEndpoint(endpoint string) (string, bool, error) {
	if endpoint == "" {
		return "", false, fmt.Errorf("endpoint cannot be empty")
	}

	// If endpoint doesn't have protocol, assume plain host:port over https
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		if strings.Contains(endpoint, "/") {
			return "", false, fmt.Errorf("endpoint contains path but no protocol")
		}
		return endpoint, true, nil
	}

	parsedURL, err := url.Parse(endpoint)
	if err != nil {
		return "", false, fmt.Errorf("failed to parse endpoint URL: %w", err)
	}

	if parsedURL.Path != "" && parsedURL.Path != "/" {
		return "", false, fmt.Errorf("endpoint URL cannot have paths, only host:port is allowed (got path: %s)", parsedURL.Path)
	}

	return parsedURL.Host, parsedURL.Scheme == "https", nil
}

// Put uploads content as a single object
func (c *MinIOClient) Put(ctx context.Context, bucket, key string, content []byte, cksum checksum.Options) (PutResult, error) {
	opts := minio.PutObjectOptions{
		ContentType:  "application/octet-stream",
		UserMetadata: map[string]string{},
	}

	switch {
	case !cksum.IsSet():
	case cksum.Algorithm == checksum.MD5:
		// minio-go computes and sends Content-MD5 itself
		opts.SendContentMd5 = true
	default:
		// x-amz-checksum-* keys are sent as is, not as x-amz-meta-*
		opts.UserMetadata["x-amz-checksum-"+cksum.Algorithm.String()] = cksum.Value
	}

	info, err := c.client.PutObject(ctx, bucket, key, bytes.NewReader(content), int64(len(content)), opts)
	if err != nil {
		resp := minio.ToErrorResponse(err)
		return PutResult{}, &PutError{
			StatusCode: resp.StatusCode,
			RequestID:  resp.RequestID,
			HostID:     resp.HostID,
			Err:        err,
		}
	}

	// minio-go does not expose the raw response; a nil error means 200 OK
	return PutResult{
		StatusCode: http.StatusOK,
		VersionID:  info.VersionID,
	}, nil
}
