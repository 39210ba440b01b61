// Package report appends one JSON object per cycle event to a file so a run
// can be audited or tailed.
package report

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	EventStart          = "start"
	EventOpenSubmitted  = "open_submitted"
	EventResolved       = "resolved"
	EventCloseSubmitted = "close_submitted"
	EventFailure        = "failure"
	EventCycleDone      = "cycle_done"
	EventShutdown       = "shutdown"
)

type Event struct {
	TsMs    int64  `json:"ts_ms"`
	Event   string `json:"event"`
	CycleID string `json:"cycle_id,omitempty"`

	Address    string `json:"address,omitempty"`
	Group      string `json:"group,omitempty"`
	TxHash     string `json:"tx_hash,omitempty"`
	PositionID string `json:"position_id,omitempty"`
	Block      uint64 `json:"block,omitempty"`
	Price      string `json:"price,omitempty"`

	Stage string `json:"stage,omitempty"`
	Kind  string `json:"kind,omitempty"`
	Err   string `json:"error,omitempty"`

	Counts     *Counts `json:"counts,omitempty"`
	DurationMs int64   `json:"duration_ms,omitempty"`

	ChainID  string `json:"chain_id,omitempty"`
	Accounts int    `json:"accounts,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

type Counts struct {
	Opened   int `json:"opened"`
	Resolved int `json:"resolved"`
	Closed   int `json:"closed"`
	Failed   int `json:"failed"`
}

// Writer is safe for concurrent use. A nil *Writer discards everything, so
// callers never need to check whether an event log was configured.
type Writer struct {
	mu   sync.Mutex
	path string
	out  io.Writer
	file *os.File
	buf  *bufio.Writer
	now  func() time.Time
}

// New returns a writer appending to path, creating it (and its directory) on
// the first event. A blank path returns nil.
func New(path string) *Writer {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	return &Writer{path: path, now: time.Now}
}

// NewWriter writes events to out instead of a file.
func NewWriter(out io.Writer) *Writer {
	return &Writer{out: out, now: time.Now}
}

func (w *Writer) openLocked() error {
	if w.buf != nil {
		return nil
	}
	if w.out != nil {
		w.buf = bufio.NewWriter(w.out)
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	w.file = f
	w.buf = bufio.NewWriterSize(f, 64*1024)
	return nil
}

// Emit stamps ev (unless it already carries a timestamp) and appends it. Each
// record is flushed so tailers see it immediately.
func (w *Writer) Emit(ev Event) error {
	if w == nil {
		return nil
	}
	if ev.Event == "" {
		return errors.New("report: event name required")
	}
	if ev.TsMs == 0 {
		ev.TsMs = w.now().UnixMilli()
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.openLocked(); err != nil {
		return err
	}
	if _, err := w.buf.Write(append(b, '\n')); err != nil {
		return err
	}
	return w.buf.Flush()
}

func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	var err error
	if w.buf != nil {
		err = w.buf.Flush()
	}
	if w.file != nil {
		if cerr := w.file.Close(); cerr != nil && err == nil && !errors.Is(cerr, os.ErrClosed) {
			err = cerr
		}
	}
	w.buf = nil
	w.file = nil
	return err
}
