package app

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"bucketfiller/internal/checksum"
	"bucketfiller/internal/config"
	"bucketfiller/internal/progress"
	"bucketfiller/internal/results"
	"bucketfiller/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// memStorage is an in-memory storage.Service shared by every worker
type memStorage struct {
	mu    sync.Mutex
	order []string
	seen  map[string]int
	puts  int
	delay time.Duration
	// failNth fails every write to the nth distinct key (1-based)
	failNth int
}

func newMemStorage() *memStorage {
	return &memStorage{seen: map[string]int{}}
}

func (m *memStorage) Put(ctx context.Context, bucket, key string, content []byte, cksum checksum.Options) (storage.PutResult, error) {
	m.mu.Lock()
	idx, ok := m.seen[key]
	if !ok {
		m.order = append(m.order, key)
		idx = len(m.order)
		m.seen[key] = idx
	}
	m.puts++
	m.mu.Unlock()

	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	if m.failNth > 0 && idx == m.failNth {
		return storage.PutResult{}, &storage.PutError{StatusCode: 500, RequestID: "req-fail", Err: errors.New("internal error")}
	}
	return storage.PutResult{StatusCode: 200, RequestID: "req", HostID: "host", VersionID: "v"}, nil
}

func (m *memStorage) Puts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.puts
}

func testConfig(t *testing.T, count, versions int) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Target.Bucket = "test"
	cfg.Target.Endpoint = "http://localhost:9000"
	cfg.Load.ObjectsCount = count
	cfg.Load.Versions = versions
	cfg.Load.ObjectSizeBytes = 10
	cfg.Load.SimpleData = true
	cfg.Load.ChecksumAlgorithm = checksum.None
	cfg.Run.Threads = 4
	cfg.Run.QueueCapacity = 16
	cfg.Run.LogBatchSize = 10
	cfg.Run.ShowProgress = false
	cfg.Run.LogFile = filepath.Join(t.TempDir(), "events.log")
	cfg.Run.ResultsDB = results.MemoryPath
	return cfg
}

func newTestRunner(t *testing.T, cfg *config.Config, fake storage.Service) (*Runner, *bytes.Buffer) {
	t.Helper()
	console := &bytes.Buffer{}
	factory := func() (storage.Service, error) { return fake, nil }
	r, err := newRunner(cfg, zap.NewNop(), factory, console)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r, console
}

func TestRunner_ThreeObjectsOneVersion(t *testing.T) {
	cfg := testConfig(t, 3, 1)
	fake := newMemStorage()
	r, _ := newTestRunner(t, cfg, fake)

	summary, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(3), summary.Status.Completed)
	assert.Equal(t, int64(3), summary.Status.Succeeded)
	assert.Equal(t, int64(0), summary.Status.Failed)
	assert.Equal(t, int64(3), summary.Status.Versions)
	assert.Equal(t, int64(60), summary.Status.Bytes)
	assert.Nil(t, summary.Integrity)
	assert.False(t, summary.HasFailures())
	assert.Equal(t, 6, fake.Puts())
	assert.Equal(t, StateStopped, r.State())

	records, err := r.Results()
	require.NoError(t, err)
	assert.Len(t, records, 3)

	data, err := os.ReadFile(cfg.Run.LogFile)
	require.NoError(t, err)
	assert.Equal(t, 3, bytes.Count(data, []byte("Uploaded")))
}

func TestRunner_FailingObjectIsCounted(t *testing.T) {
	cfg := testConfig(t, 5, 0)
	cfg.Run.Threads = 1
	fake := newMemStorage()
	fake.failNth = 3
	r, _ := newTestRunner(t, cfg, fake)

	summary, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(5), summary.Status.Attempted())
	assert.Equal(t, int64(4), summary.Status.Succeeded)
	assert.Equal(t, int64(1), summary.Status.Failed)
	assert.True(t, summary.HasFailures())

	counts, err := r.results.CountByStatus(r.RunID())
	require.NoError(t, err)
	assert.Equal(t, 1, counts[results.StatusFailed])
	assert.Equal(t, 4, counts[results.StatusSucceeded])

	data, err := os.ReadFile(cfg.Run.LogFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Failed to upload")
}

func TestRunner_ZeroObjects(t *testing.T) {
	cfg := testConfig(t, 0, 3)
	fake := newMemStorage()
	r, _ := newTestRunner(t, cfg, fake)

	done := make(chan struct{})
	var summary Summary
	var err error
	go func() {
		summary, err = r.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run with zero objects did not terminate")
	}
	require.NoError(t, err)
	assert.Equal(t, int64(0), summary.Status.Completed)
	assert.Equal(t, 0, fake.Puts())
}

func TestRunner_Interrupt(t *testing.T) {
	cfg := testConfig(t, 1000, 0)
	cfg.Run.Threads = 2
	fake := newMemStorage()
	fake.delay = 20 * time.Millisecond
	r, _ := newTestRunner(t, cfg, fake)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	summary, err := r.Run(ctx)
	require.ErrorIs(t, err, ErrInterrupted)
	assert.True(t, summary.Interrupted)
	assert.Nil(t, summary.Integrity)
	assert.Less(t, summary.Status.Completed, int64(1000))
	assert.Positive(t, summary.Status.Completed)
	assert.Equal(t, StateStopped, r.State())

	// in-flight uploads finish and are accounted for
	assert.Equal(t, int(summary.Status.Completed), fake.Puts())

	records, err := r.Results()
	require.NoError(t, err)
	assert.Len(t, records, int(summary.Status.Completed))
}

func TestRunner_DrainTimeoutAbandonsUploads(t *testing.T) {
	cfg := testConfig(t, 1000, 0)
	cfg.Run.GeneratorTimeout = time.Second
	cfg.Run.DrainTimeout = 50 * time.Millisecond
	fake := newMemStorage()
	fake.delay = 300 * time.Millisecond

	core, logs := observer.New(zap.WarnLevel)
	factory := func() (storage.Service, error) { return fake, nil }
	r, err := newRunner(cfg, zap.New(core), factory, &bytes.Buffer{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	summary, err := r.Run(ctx)
	require.ErrorIs(t, err, ErrInterrupted)
	assert.True(t, summary.Interrupted)
	require.ErrorIs(t, summary.Integrity, progress.ErrPipelineIntegrity)
	assert.Equal(t, StateStopped, r.State())
	assert.Equal(t, 1, logs.FilterMessage("Workers did not stop in time, abandoning in-flight uploads").Len())

	var buf bytes.Buffer
	summary.Print(&buf)
	assert.Contains(t, buf.String(), "WARNING")
	assert.Contains(t, buf.String(), "not accounted for")

	require.NoError(t, r.Close())

	// the abandoned uploads finish after Close and are dropped quietly
	time.Sleep(2 * fake.delay)
	assert.Zero(t, logs.FilterMessage("Failed to record outcome").Len())
	assert.NoError(t, r.Close())
}

func TestRunner_GeneratorFailure(t *testing.T) {
	cfg := testConfig(t, 5, 0)
	cfg.Run.Threads = 1
	cfg.Load.SimpleData = false
	fake := newMemStorage()
	r, _ := newTestRunner(t, cfg, fake)

	calls := 0
	r.content = func(size int64) ([]byte, error) {
		calls++
		if calls == 3 {
			return nil, errors.New("out of memory")
		}
		return make([]byte, size), nil
	}

	summary, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.False(t, summary.Interrupted)
	require.ErrorIs(t, summary.Integrity, progress.ErrPipelineIntegrity)
	assert.Contains(t, summary.Integrity.Error(), "2 of 5")
	assert.Equal(t, int64(2), summary.Status.Completed)
	assert.Equal(t, 2, fake.Puts())

	var buf bytes.Buffer
	summary.Print(&buf)
	assert.Contains(t, buf.String(), "Objects attempted:  2 of 5")
	assert.Contains(t, buf.String(), "WARNING: pipeline integrity warning")
}

func TestRunner_FactoryError(t *testing.T) {
	cfg := testConfig(t, 3, 0)
	factory := func() (storage.Service, error) { return nil, errors.New("no credentials") }
	r, err := newRunner(cfg, zap.NewNop(), factory, &bytes.Buffer{})
	require.NoError(t, err)
	defer r.Close()

	_, err = r.Run(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInterrupted)
	assert.Contains(t, err.Error(), "no credentials")
	assert.Equal(t, StateStopped, r.State())
}

func TestRunner_RunOnce(t *testing.T) {
	r, _ := newTestRunner(t, testConfig(t, 1, 0), newMemStorage())

	_, err := r.Run(context.Background())
	require.NoError(t, err)

	_, err = r.Run(context.Background())
	assert.Error(t, err)
}

func TestNew_InvalidEndpoint(t *testing.T) {
	cfg := testConfig(t, 1, 0)
	cfg.Target.Endpoint = "ftp://localhost"

	_, err := New(cfg, zap.NewNop())
	assert.Error(t, err)
}

func TestSummary_Print(t *testing.T) {
	var buf bytes.Buffer
	Summary{
		Status: progress.Status{
			Target:    5,
			Completed: 5,
			Succeeded: 4,
			Failed:    1,
			Versions:  8,
			Bytes:     2048,
			Elapsed:   1500 * time.Millisecond,
		},
		Integrity: progress.ErrPipelineIntegrity,
	}.Print(&buf)

	out := buf.String()
	assert.Contains(t, out, "Run summary:")
	assert.Contains(t, out, "5 of 5")
	assert.Contains(t, out, "Objects failed:     1 (see event log)")
	assert.Contains(t, out, "Versions written:   8")
	assert.Contains(t, out, "1.50s")
	assert.Contains(t, out, "WARNING")

	buf.Reset()
	Summary{Interrupted: true}.Print(&buf)
	assert.Contains(t, buf.String(), "partial summary")
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "draining", StateDraining.String())
	assert.Equal(t, "state(9)", State(9).String())
}
