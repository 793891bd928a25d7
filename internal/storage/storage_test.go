package storage

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"bucketfiller/internal/checksum"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const accessDeniedXML = `<?xml version="1.0" encoding="UTF-8"?>
<Error><Code>AccessDenied</Code><Message>Access Denied</Message><RequestId>req-denied</RequestId><HostId>host-denied</HostId></Error>`

func newObjectServer(t *testing.T, status int, seen *atomic.Value) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		if r.Method != http.MethodPut {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if seen != nil {
			seen.Store(r.Header.Clone())
		}
		w.Header().Set("x-amz-request-id", "req-1")
		w.Header().Set("x-amz-id-2", "host-1")
		if status != http.StatusOK {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(status)
			_, _ = w.Write([]byte(accessDeniedXML))
			return
		}
		w.Header().Set("ETag", `"etag"`)
		w.Header().Set("x-amz-version-id", "v-1")
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)
	return server
}

func testConfig(backend, endpoint string) Config {
	return Config{
		Backend:   backend,
		Endpoint:  endpoint,
		Region:    "us-east-1",
		AccessKey: "access",
		SecretKey: "secret",
		PathStyle: true,
	}
}

func TestCleanEndpoint(t *testing.T) {
	host, secure, err := cleanEndpoint("https://s3.example.com:9000")
	require.NoError(t, err)
	assert.Equal(t, "s3.example.com:9000", host)
	assert.True(t, secure)

	host, secure, err = cleanEndpoint("http://localhost:9000/")
	require.NoError(t, err)
	assert.Equal(t, "localhost:9000", host)
	assert.False(t, secure)

	host, _, err = cleanEndpoint("localhost:9000")
	require.NoError(t, err)
	assert.Equal(t, "localhost:9000", host)

	_, _, err = cleanEndpoint("")
	assert.Error(t, err)
	_, _, err = cleanEndpoint("http://localhost:9000/bucket")
	assert.Error(t, err)
	_, _, err = cleanEndpoint("localhost:9000/bucket")
	assert.Error(t, err)
}

func TestNewFactory(t *testing.T) {
	_, err := NewFactory(Config{Backend: "ftp", Endpoint: "localhost:21"})
	assert.Error(t, err)

	_, err = NewFactory(Config{Backend: BackendMinIO})
	assert.Error(t, err)

	factory, err := NewFactory(testConfig(BackendMinIO, "http://localhost:9000"))
	require.NoError(t, err)
	svc, err := factory()
	require.NoError(t, err)
	assert.IsType(t, &MinIOClient{}, svc)
}

func TestMinIOClient_Put(t *testing.T) {
	server := newObjectServer(t, http.StatusOK, nil)

	client, err := NewMinIOClient(testConfig(BackendMinIO, server.URL))
	require.NoError(t, err)

	res, err := client.Put(context.Background(), "bucket", "key", []byte("content"), checksum.Options{})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "v-1", res.VersionID)
}

func TestMinIOClient_PutFailure(t *testing.T) {
	server := newObjectServer(t, http.StatusForbidden, nil)

	client, err := NewMinIOClient(testConfig(BackendMinIO, server.URL))
	require.NoError(t, err)

	_, err = client.Put(context.Background(), "bucket", "key", []byte("content"), checksum.Options{})
	require.Error(t, err)

	var putErr *PutError
	require.ErrorAs(t, err, &putErr)
	assert.Equal(t, http.StatusForbidden, putErr.StatusCode)
	assert.Equal(t, http.StatusForbidden, StatusCode(err))
}

func TestMinIOClient_PutChecksum(t *testing.T) {
	content := []byte("content")

	t.Run("sha256 is sent as a raw header", func(t *testing.T) {
		var seen atomic.Value
		server := newObjectServer(t, http.StatusOK, &seen)

		client, err := NewMinIOClient(testConfig(BackendMinIO, server.URL))
		require.NoError(t, err)

		cksum := checksum.For(content, checksum.SHA256)
		_, err = client.Put(context.Background(), "bucket", "key", content, cksum)
		require.NoError(t, err)

		header := seen.Load().(http.Header)
		assert.Equal(t, cksum.Value, header.Get("x-amz-checksum-sha256"))
		assert.Empty(t, header.Get("x-amz-meta-x-amz-checksum-sha256"))
	})

	t.Run("md5 is sent as Content-Md5", func(t *testing.T) {
		var seen atomic.Value
		server := newObjectServer(t, http.StatusOK, &seen)

		client, err := NewMinIOClient(testConfig(BackendMinIO, server.URL))
		require.NoError(t, err)

		_, err = client.Put(context.Background(), "bucket", "key", content, checksum.For(content, checksum.MD5))
		require.NoError(t, err)

		sum := md5.Sum(content)
		header := seen.Load().(http.Header)
		assert.Equal(t, base64.StdEncoding.EncodeToString(sum[:]), header.Get("Content-Md5"))
		assert.Empty(t, header.Get("x-amz-meta-x-amz-checksum-md5"))
	})
}

func TestS3Client_Put(t *testing.T) {
	var seen atomic.Value
	server := newObjectServer(t, http.StatusOK, &seen)

	client, err := NewS3Client(context.Background(), testConfig(BackendS3, server.URL))
	require.NoError(t, err)

	content := []byte("content")
	cksum := checksum.For(content, checksum.SHA256)
	res, err := client.Put(context.Background(), "bucket", "key", content, cksum)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "req-1", res.RequestID)
	assert.Equal(t, "host-1", res.HostID)
	assert.Equal(t, "v-1", res.VersionID)

	header := seen.Load().(http.Header)
	assert.Equal(t, cksum.Value, header.Get("x-amz-checksum-sha256"))
}

func TestS3Client_PutFailure(t *testing.T) {
	server := newObjectServer(t, http.StatusForbidden, nil)

	client, err := NewS3Client(context.Background(), testConfig(BackendS3, server.URL))
	require.NoError(t, err)

	_, err = client.Put(context.Background(), "bucket", "key", []byte("content"), checksum.Options{})
	require.Error(t, err)

	var putErr *PutError
	require.ErrorAs(t, err, &putErr)
	assert.Equal(t, http.StatusForbidden, putErr.StatusCode)
	assert.Equal(t, "req-1", putErr.RequestID)
	assert.Equal(t, "host-1", putErr.HostID)
}

func TestApplyChecksum(t *testing.T) {
	content := []byte("content")

	input := &s3.PutObjectInput{}
	applyChecksum(input, checksum.For(content, checksum.MD5))
	assert.Equal(t, checksum.For(content, checksum.MD5).Value, aws.ToString(input.ContentMD5))
	assert.Empty(t, input.ChecksumAlgorithm)

	input = &s3.PutObjectInput{}
	applyChecksum(input, checksum.For(content, checksum.CRC32C))
	assert.Equal(t, types.ChecksumAlgorithmCrc32c, input.ChecksumAlgorithm)
	assert.NotEmpty(t, aws.ToString(input.ChecksumCRC32C))

	input = &s3.PutObjectInput{}
	applyChecksum(input, checksum.Options{})
	assert.Nil(t, input.ContentMD5)
	assert.Empty(t, input.ChecksumAlgorithm)
}
