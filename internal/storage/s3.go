package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"bucketfiller/internal/checksum"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsmiddleware "github.com/aws/aws-sdk-go-v2/aws/middleware"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

const defaultRegion = "us-east-1"

// S3Client implements the Service interface using aws-sdk-go-v2
type S3Client struct {
	client *s3.Client
}

// NewS3Client creates a new S3 client. An empty endpoint uses AWS itself.
func NewS3Client(ctx context.Context, cfg Config) (*S3Client, error) {
	region := cfg.Region
	if region == "" {
		region = defaultRegion
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	if cfg.Endpoint != "" {
		awsCfg.BaseEndpoint = aws.String(cfg.Endpoint)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		// checksums are attached explicitly per request
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
	})

	return &S3Client{client: client}, nil
}

// Put uploads content as a single object
func (c *S3Client) Put(ctx context.Context, bucket, key string, content []byte, cksum checksum.Options) (PutResult, error) {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(content),
		ContentLength: aws.Int64(int64(len(content))),
		ContentType:   aws.String("application/octet-stream"),
	}
	applyChecksum(input, cksum)

	out, err := c.client.PutObject(ctx, input)
	if err != nil {
		return PutResult{}, toPutError(err)
	}

	result := PutResult{
		StatusCode: 200,
		VersionID:  aws.ToString(out.VersionId),
	}
	if resp, ok := awsmiddleware.GetRawResponse(out.ResultMetadata).(*smithyhttp.Response); ok {
		result.StatusCode = resp.StatusCode
	}
	result.RequestID, _ = awsmiddleware.GetRequestIDMetadata(out.ResultMetadata)
	result.HostID, _ = s3.GetHostIDMetadata(out.ResultMetadata)

	return result, nil
}

func applyChecksum(input *s3.PutObjectInput, cksum checksum.Options) {
	if !cksum.IsSet() {
		return
	}

	value := aws.String(cksum.Value)
	switch cksum.Algorithm {
	case checksum.MD5:
		input.ContentMD5 = value
	case checksum.SHA1:
		input.ChecksumAlgorithm = types.ChecksumAlgorithmSha1
		input.ChecksumSHA1 = value
	case checksum.SHA256:
		input.ChecksumAlgorithm = types.ChecksumAlgorithmSha256
		input.ChecksumSHA256 = value
	case checksum.CRC32:
		input.ChecksumAlgorithm = types.ChecksumAlgorithmCrc32
		input.ChecksumCRC32 = value
	case checksum.CRC32C:
		input.ChecksumAlgorithm = types.ChecksumAlgorithmCrc32c
		input.ChecksumCRC32C = value
	}
}

func toPutError(err error) *PutError {
	putErr := &PutError{Err: err}

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		putErr.StatusCode = respErr.HTTPStatusCode()
		putErr.RequestID = respErr.ServiceRequestID()
	} else {
		// s3 wraps the response error together with the host id
		var statusErr interface {
			HTTPStatusCode() int
			ServiceRequestID() string
		}
		if errors.As(err, &statusErr) {
			putErr.StatusCode = statusErr.HTTPStatusCode()
			putErr.RequestID = statusErr.ServiceRequestID()
		}
	}

	var hostErr interface{ ServiceHostID() string }
	if errors.As(err, &hostErr) {
		putErr.HostID = hostErr.ServiceHostID()
	}

	return putErr
}
