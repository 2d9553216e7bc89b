package razorlog

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// AsyncLogger decouples log writes from the slow underlying sink (a rotating
// file on disk) by handing each write to a single background goroutine over
// a bounded channel. A write that would block because the channel is full is
// dropped rather than stalling the caller, with a warning to stderr so the
// drop itself is observable.
type AsyncLogger struct {
	w    io.Writer
	ch   chan []byte
	done chan struct{}
	once sync.Once
}

// NewAsyncLogger starts the background writer goroutine, buffering up to
// bufSize pending writes to w.
func NewAsyncLogger(w io.Writer, bufSize int) *AsyncLogger {
	a := &AsyncLogger{
		w:    w,
		ch:   make(chan []byte, bufSize),
		done: make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *AsyncLogger) run() {
	for b := range a.ch {
		_, _ = a.w.Write(b)
	}
	close(a.done)
}

// Write copies p and enqueues it for the background goroutine. It never
// blocks: if the queue is full, the message is dropped.
func (a *AsyncLogger) Write(p []byte) (int, error) {
	buf := make([]byte, len(p))
	copy(buf, p)
	select {
	case a.ch <- buf:
	default:
		fmt.Fprintln(os.Stderr, "razorlog: log buffer is full, dropping message.")
	}
	return len(p), nil
}

// Close drains the remaining queued writes, then closes w if it implements
// io.Closer.
func (a *AsyncLogger) Close() error {
	var err error
	a.once.Do(func() {
		close(a.ch)
		<-a.done
		if c, ok := a.w.(io.Closer); ok {
			err = c.Close()
		}
	})
	return err
}
