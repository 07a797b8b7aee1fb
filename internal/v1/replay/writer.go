// Package replay records raw input and judgement streams into per-user,
// per-chart binary files (.phirarec) while a room is playing, and serves
// them back over the replay HTTP surface.
package replay

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rhyline/rhyline-server/internal/v1/logging"
	"github.com/rhyline/rhyline-server/internal/v1/metrics"
)

// FileExt is the replay file extension.
const FileExt = ".phirarec"

// Magic is the two-byte header magic ("PM", little-endian).
const Magic uint16 = 0x504D

// headerSize is the fixed header: u16 magic, u32 chartId, u32 userId,
// u32 recordId.
const headerSize = 14

// recordIDOffset is where the patchable record id lives.
const recordIDOffset = 10

// Writer appends raw-serialized Touches/Judges command payloads to one
// replay file. The owning session dispatches commands sequentially, so
// appends are already ordered; the mutex only serializes the record-id
// patch against them.
type Writer struct {
	mu     sync.Mutex
	f      *os.File
	closed bool
	path   string
}

// NewWriter creates <baseDir>/<userId>/<chartId>/<timestampMs>.phirarec with
// its 14-byte header, creating directories as needed.
func NewWriter(baseDir string, userID, chartID int32) (*Writer, error) {
	dir := filepath.Join(baseDir, strconv.FormatInt(int64(userID), 10), strconv.FormatInt(int64(chartID), 10))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("replay: create dir: %w", err)
	}
	path := filepath.Join(dir, strconv.FormatInt(time.Now().UnixMilli(), 10)+FileExt)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("replay: create file: %w", err)
	}

	var hdr [headerSize]byte
	binary.LittleEndian.PutUint16(hdr[0:2], Magic)
	binary.LittleEndian.PutUint32(hdr[2:6], uint32(chartID))
	binary.LittleEndian.PutUint32(hdr[6:10], uint32(userID))
	binary.LittleEndian.PutUint32(hdr[10:14], 0)
	if _, err := f.Write(hdr[:]); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("replay: write header: %w", err)
	}
	return &Writer{f: f, path: path}, nil
}

// Append writes one raw command payload (tag byte plus body) in arrival
// order. I/O errors close the writer but never interrupt gameplay.
func (w *Writer) Append(raw []byte) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if _, err := w.f.Write(raw); err != nil {
		logging.Error(context.Background(), "replay append failed, closing writer",
			zap.String("path", w.path), zap.Error(err))
		w.closeLocked()
		return
	}
	metrics.ReplayBytesWritten.Add(float64(len(raw)))
}

// UpdateRecordID patches the header's record id in place and restores the
// append position.
func (w *Writer) UpdateRecordID(recordID int32) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(recordID))
	if _, err := w.f.WriteAt(buf[:], recordIDOffset); err != nil {
		logging.Error(context.Background(), "replay record id patch failed",
			zap.String("path", w.path), zap.Error(err))
		w.closeLocked()
	}
}

// Dispose flushes and closes the file. It is idempotent; appends after
// Dispose are no-ops.
func (w *Writer) Dispose() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closeLocked()
}

// Path returns the file path being written.
func (w *Writer) Path() string {
	return w.path
}

func (w *Writer) closeLocked() {
	if w.closed {
		return
	}
	w.closed = true
	if err := w.f.Sync(); err != nil {
		logging.Warn(context.Background(), "replay sync failed", zap.String("path", w.path), zap.Error(err))
	}
	_ = w.f.Close()
}
