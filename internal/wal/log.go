package wal

import (
	"bufio"
	"encoding/binary"
	"os"
	"sync"
	"time"

	"github.com/ncandio/razorfs/internal/clock"
	"github.com/ncandio/razorfs/internal/errs"
)

// DefaultGroupCommitWindow is how long Commit waits for other in-flight
// commits before issuing a single fsync on their behalf, per the group
// commit policy.
const DefaultGroupCommitWindow = 2 * time.Millisecond

// Log is the append-only write-ahead log file. Every transaction's records
// are appended as they are produced; only Commit (and Checkpoint) forces
// an fsync, and commits arriving within the same group-commit window share
// one fsync call.
type Log struct {
	mu sync.Mutex // GUARDS everything below: append position, lsn, epoch

	f *os.File
	w *bufio.Writer

	lsn      uint64
	nextTxID uint64

	clk         clock.Clock
	groupWindow time.Duration

	cond    *sync.Cond
	pending int
	epoch   uint64
	flushErr error
	closed  bool
}

// Open creates or appends to the WAL segment at path.
func Open(path string, groupWindow time.Duration, clk clock.Clock) (*Log, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errs.Wrap(errs.IOError, "wal.Open", err)
	}
	if info, statErr := f.Stat(); statErr == nil && info.Size() == 0 {
		hdr := make([]byte, 4)
		binary.LittleEndian.PutUint32(hdr, fileMagic)
		if _, err := f.Write(hdr); err != nil {
			f.Close()
			return nil, errs.Wrap(errs.IOError, "wal.Open", err)
		}
	}
	if groupWindow <= 0 {
		groupWindow = DefaultGroupCommitWindow
	}
	if clk == nil {
		clk = clock.Real()
	}
	l := &Log{
		f:           f,
		w:           bufio.NewWriter(f),
		clk:         clk,
		groupWindow: groupWindow,
	}
	l.cond = sync.NewCond(&l.mu)
	go l.flushLoop()
	return l, nil
}

func (l *Log) flushLoop() {
	for {
		time.Sleep(l.groupWindow)
		l.mu.Lock()
		if l.closed {
			l.mu.Unlock()
			return
		}
		if l.pending > 0 {
			err := l.w.Flush()
			if err == nil {
				err = l.f.Sync()
			}
			l.flushErr = err
			l.pending = 0
			l.epoch++
			l.cond.Broadcast()
		}
		l.mu.Unlock()
	}
}

// Close stops the flush loop and closes the underlying file after flushing
// any buffered bytes. It does not wait for a group-commit window.
func (l *Log) Close() error {
	l.mu.Lock()
	l.closed = true
	flushErr := l.w.Flush()
	l.cond.Broadcast()
	l.mu.Unlock()
	closeErr := l.f.Close()
	if flushErr != nil {
		return errs.Wrap(errs.IOError, "wal.Close", flushErr)
	}
	if closeErr != nil {
		return errs.Wrap(errs.IOError, "wal.Close", closeErr)
	}
	return nil
}

// appendLocked writes rec (with an assigned LSN) to the buffered writer.
// LOCKS_REQUIRED(l.mu).
func (l *Log) appendLocked(txID uint64, typ RecordType, payload []byte) (uint64, error) {
	l.lsn++
	rec := Record{LSN: l.lsn, TxID: txID, Type: typ, Payload: payload}
	if _, err := l.w.Write(rec.encode()); err != nil {
		return 0, errs.Wrap(errs.IOError, "wal.append", err)
	}
	return rec.LSN, nil
}

// waitForFlushLocked blocks until the current epoch's group commit
// completes, batching this call in with any other commit that arrives
// before the flush loop wakes. LOCKS_REQUIRED(l.mu) on entry; released
// while waiting, re-acquired on return.
func (l *Log) waitForFlushLocked() error {
	myEpoch := l.epoch
	l.pending++
	for l.epoch == myEpoch && !l.closed {
		l.cond.Wait()
	}
	return l.flushErr
}

// ResumeFrom seeds the LSN and transaction-id counters after reopening a
// WAL file that already has records in it: Open always starts both at 0,
// since it never reads its own file, so whoever replays the log at startup
// (internal/recovery) must call this with the highest LSN and txID it saw
// before any new record is appended. Otherwise a freshly opened Log would
// reuse LSNs already present in the file.
func (l *Log) ResumeFrom(lastLSN, lastTxID uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lastLSN > l.lsn {
		l.lsn = lastLSN
	}
	if lastTxID > l.nextTxID {
		l.nextTxID = lastTxID
	}
}

// Size returns the WAL file's current on-disk size, for the engine's
// configured checkpoint size threshold.
func (l *Log) Size() (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.w.Flush(); err != nil {
		return 0, errs.Wrap(errs.IOError, "wal.Log.Size", err)
	}
	info, err := l.f.Stat()
	if err != nil {
		return 0, errs.Wrap(errs.IOError, "wal.Log.Size", err)
	}
	return info.Size(), nil
}

// Replay opens path for sequential reading and returns every well-formed
// record in order. The first record that is incomplete or fails its
// checksum is treated as a torn tail: the scan ends there without error and
// everything after it is ignored. A frame without the record magic is
// reported as Corruption. Used by internal/recovery.
func Replay(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.Wrap(errs.IOError, "wal.Replay", err)
	}
	if len(data) < 4 {
		return nil, nil
	}
	if binary.LittleEndian.Uint32(data[:4]) != fileMagic {
		return nil, errs.New(errs.Corruption, "wal.Replay", "bad file magic")
	}

	var records []Record
	buf := data[4:]
	for len(buf) > 0 {
		rec, n, err := decodeRecord(buf)
		if err != nil {
			if kind, ok := errs.KindOf(err); ok && kind == errs.IOError {
				break // torn tail: stop, do not error
			}
			return nil, err
		}
		records = append(records, rec)
		buf = buf[n:]
	}
	return records, nil
}
