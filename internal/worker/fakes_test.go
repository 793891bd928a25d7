package worker

import (
	"context"
	"sync"
	"time"

	"bucketfiller/internal/checksum"
	"bucketfiller/internal/logsink"
	"bucketfiller/internal/storage"
)

// fakeStorage records every PUT and the per-key concurrency it observed
type fakeStorage struct {
	mu          sync.Mutex
	calls       map[string]int
	inflight    map[string]int
	maxInflight map[string]int
	checksums   []checksum.Options

	delay   time.Duration
	fail    func(key string, call int) error
	panicOn string
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		calls:       map[string]int{},
		inflight:    map[string]int{},
		maxInflight: map[string]int{},
	}
}

func (f *fakeStorage) Put(ctx context.Context, bucket, key string, content []byte, cksum checksum.Options) (storage.PutResult, error) {
	f.mu.Lock()
	f.calls[key]++
	call := f.calls[key]
	f.inflight[key]++
	if f.inflight[key] > f.maxInflight[key] {
		f.maxInflight[key] = f.inflight[key]
	}
	f.checksums = append(f.checksums, cksum)
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inflight[key]--
		f.mu.Unlock()
	}()

	if key == f.panicOn {
		panic("storage exploded")
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.fail != nil {
		if err := f.fail(key, call); err != nil {
			return storage.PutResult{}, err
		}
	}
	return storage.PutResult{StatusCode: 200, RequestID: "req-" + key, VersionID: "v"}, nil
}

func (f *fakeStorage) Calls(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

func (f *fakeStorage) MaxInflight(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxInflight[key]
}

type recordingEvents struct {
	mu   sync.Mutex
	msgs []logsink.Message
}

func (r *recordingEvents) Log(m logsink.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, m)
}

func (r *recordingEvents) Mirrored() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.msgs {
		if m.Mirror {
			n++
		}
	}
	return n
}

func (r *recordingEvents) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}
