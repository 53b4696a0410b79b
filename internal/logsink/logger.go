package logsink

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// pushTimeout bounds how long one entry may wait on the sink
	pushTimeout = 2 * time.Second

	// bufferSize is the number of entries held while the sink is slow
	bufferSize = 1024
)

type entry struct {
	key string
	msg string
}

// Logger prints to the process log and hands each line to a background
// goroutine that forwards it to a Sink. Callers never wait on the sink: when
// the buffer is full the line is only printed.
type Logger struct {
	sink     Sink
	infoKey  string
	debugKey string
	debug    bool

	entries chan entry
	drained chan struct{}
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

// NewLogger creates a logger whose sink keys are "{host}.{component}.info" and
// "{host}.{component}.debug". A nil sink only prints.
func NewLogger(sink Sink, component string) *Logger {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	l := &Logger{
		sink:     sink,
		infoKey:  fmt.Sprintf("%s.%s.info", host, component),
		debugKey: fmt.Sprintf("%s.%s.debug", host, component),
		debug:    true,
	}
	if sink != nil {
		l.entries = make(chan entry, bufferSize)
		l.drained = make(chan struct{})
		go l.drain()
	}
	return l
}

// WithDebug toggles printing of debug lines. Debug lines are still forwarded.
func (l *Logger) WithDebug(enabled bool) *Logger {
	l.debug = enabled
	return l
}

// Infof logs at info level
func (l *Logger) Infof(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	log.Printf("INFO: %s", msg)
	l.forward(l.infoKey, msg)
}

// Debugf logs at debug level
func (l *Logger) Debugf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if l.debug {
		log.Printf("DEBUG: %s", msg)
	}
	l.forward(l.debugKey, msg)
}

// Dropped returns how many lines were not forwarded because the buffer was full
func (l *Logger) Dropped() uint64 {
	return l.dropped.Load()
}

// Close stops accepting lines and waits until the buffered ones are forwarded
func (l *Logger) Close() {
	if l.sink == nil {
		return
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	close(l.entries)
	l.mu.Unlock()

	<-l.drained
}

func (l *Logger) forward(key, msg string) {
	if l.sink == nil {
		return
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}
	select {
	case l.entries <- entry{key: key, msg: msg}:
	default:
		l.dropped.Add(1)
	}
}

func (l *Logger) drain() {
	defer close(l.drained)
	for e := range l.entries {
		ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
		if err := l.sink.Push(ctx, e.key, e.msg); err != nil {
			log.Printf("Failed to forward log line: %v", err)
		}
		cancel()
	}
}
