package nvenc

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// BitstreamWriter appends Annex-B data to a raw elementary stream file: one
// header block followed by access units in submission order.
type BitstreamWriter struct {
	mu            sync.Mutex
	path          string
	file          *os.File
	buf           *bufio.Writer
	headerWritten bool
	written       int64
}

// CreateBitstream truncates or creates the file at path.
func CreateBitstream(path string) (*BitstreamWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create bitstream directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("open bitstream %s: %w", path, err)
	}
	return &BitstreamWriter{path: path, file: f, buf: bufio.NewWriterSize(f, 1<<20)}, nil
}

// Path returns the file path.
func (w *BitstreamWriter) Path() string {
	return w.path
}

// HeaderWritten reports whether the header block has been written.
func (w *BitstreamWriter) HeaderWritten() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.headerWritten
}

// WriteHeader writes header once. Later calls are ignored.
func (w *BitstreamWriter) WriteHeader(header []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.headerWritten || len(header) == 0 {
		return nil
	}
	if err := w.writeLocked(header); err != nil {
		return err
	}
	w.headerWritten = true
	return nil
}

// WritePacket appends one access unit.
func (w *BitstreamWriter) WritePacket(data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writeLocked(data)
}

func (w *BitstreamWriter) writeLocked(data []byte) error {
	if w.buf == nil {
		return fmt.Errorf("bitstream %s is closed", w.path)
	}
	n, err := w.buf.Write(data)
	w.written += int64(n)
	if err != nil {
		return fmt.Errorf("write bitstream: %w", err)
	}
	return nil
}

// BytesWritten returns the number of bytes accepted so far.
func (w *BitstreamWriter) BytesWritten() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}

// Flush pushes buffered bytes to the file.
func (w *BitstreamWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf == nil {
		return nil
	}
	return w.buf.Flush()
}

// Close flushes and closes the file. Safe to call twice.
func (w *BitstreamWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	flushErr := w.buf.Flush()
	closeErr := w.file.Close()
	w.buf = nil
	w.file = nil
	if flushErr != nil {
		return fmt.Errorf("flush bitstream: %w", flushErr)
	}
	return closeErr
}
