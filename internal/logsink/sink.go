// Package logsink buffers per-object event lines and flushes them to the
// durable event log in batches.
package logsink

import (
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DefaultBatchSize is the number of messages buffered before a flush
const DefaultBatchSize = 100

// Message is a single event line
type Message struct {
	Text      string
	Timestamp time.Time
	Level     zapcore.Level
	// Mirror copies the line to the console as soon as it is received
	Mirror bool
}

// Info builds an info message
func Info(format string, args ...any) Message {
	return Message{Text: fmt.Sprintf(format, args...), Timestamp: time.Now(), Level: zapcore.InfoLevel}
}

// Success builds an info message that is mirrored to the console
func Success(format string, args ...any) Message {
	m := Info(format, args...)
	m.Mirror = true
	return m
}

// Failure builds an error message
func Failure(format string, args ...any) Message {
	m := Info(format, args...)
	m.Level = zapcore.ErrorLevel
	return m
}

// Sink consumes messages on its own goroutine
type Sink struct {
	in        chan Message
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	mu        sync.Mutex
	buf       []Message
	batchSize int

	out     *zap.Logger
	console io.Writer
	flushes int
}

// New creates a sink flushing to out. console may be nil to disable mirroring.
func New(out *zap.Logger, console io.Writer, batchSize int) *Sink {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Sink{
		in:        make(chan Message, batchSize*4),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		buf:       make([]Message, 0, batchSize),
		batchSize: batchSize,
		out:       out,
		console:   console,
	}
}

// Start starts the consumer goroutine
func (s *Sink) Start() {
	go s.loop()
}

// Log hands m to the sink. Messages logged after Close are dropped.
func (s *Sink) Log(m Message) {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	select {
	case <-s.quit:
		return
	default:
	}
	select {
	case s.in <- m:
	case <-s.quit:
	}
}

// Close delivers the termination marker and waits until every buffered
// message has been flushed.
func (s *Sink) Close() {
	s.closeOnce.Do(func() { close(s.quit) })
	<-s.done
}

// Flushes returns how many batches were written
func (s *Sink) Flushes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushes
}

func (s *Sink) loop() {
	defer close(s.done)

	for {
		select {
		case m := <-s.in:
			s.receive(m)
		case <-s.quit:
			// drain whatever was queued before the marker
			for {
				select {
				case m := <-s.in:
					s.receive(m)
				default:
					s.flush()
					_ = s.out.Sync()
					return
				}
			}
		}
	}
}

func (s *Sink) receive(m Message) {
	if m.Mirror && s.console != nil {
		fmt.Fprintln(s.console, m.Text)
	}

	s.mu.Lock()
	s.buf = append(s.buf, m)
	full := len(s.buf) >= s.batchSize
	s.mu.Unlock()

	if full {
		s.flush()
	}
}

func (s *Sink) flush() {
	s.mu.Lock()
	batch := s.buf
	s.buf = make([]Message, 0, s.batchSize)
	if len(batch) > 0 {
		s.flushes++
	}
	s.mu.Unlock()

	for _, m := range batch {
		if ce := s.out.Check(m.Level, m.Text); ce != nil {
			ce.Time = m.Timestamp
			ce.Write()
		}
	}
}
