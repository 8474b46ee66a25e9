// Package imagewriter writes captured frames as numbered image files on a
// bounded number of background goroutines.
package imagewriter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/smazurov/omnicapture/internal/frame"
	"github.com/smazurov/omnicapture/internal/logging"
	"github.com/smazurov/omnicapture/internal/settings"
)

// ErrStopped is returned by Enqueue after Flush or before Initialize.
var ErrStopped = errors.New("image writer is not accepting frames")

// Stats counts finished write tasks.
type Stats struct {
	Written  int64 `json:"written"`
	Failed   int64 `json:"failed"`
	InFlight int   `json:"inFlight"`
}

// Writer writes one file per frame plus one per auxiliary layer.
type Writer struct {
	logger *slog.Logger

	dir         string
	base        string
	format      settings.ImageFormat
	ext         string
	deep        bool
	jpegQuality int

	slots   chan struct{}
	wg      sync.WaitGroup
	running atomic.Bool

	mu     sync.Mutex
	frames []frame.Metadata
	layers map[string]struct{}

	written atomic.Int64
	failed  atomic.Int64
	warned  sync.Once
}

// New returns an uninitialized writer.
func New() *Writer {
	return &Writer{logger: logging.GetLogger("imagewriter")}
}

// Initialize prepares the output directory and accepts frames until Flush.
// EXR is written as 16-bit PNG.
func (w *Writer) Initialize(s settings.Settings, dir string) error {
	if dir == "" {
		dir = settings.DefaultOutputDirectory
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create image directory: %w", err)
	}

	w.dir = dir
	w.base = s.OutputFileName
	if w.base == "" {
		w.base = settings.DefaultBaseName
	}
	w.format = s.ImageFormat
	w.deep = s.ImageFormat == settings.ImagePNG && s.PNGBitDepth == 16
	w.jpegQuality = s.JPEGQuality
	if w.jpegQuality <= 0 {
		w.jpegQuality = 95
	}
	if s.ImageFormat == settings.ImageEXR {
		w.warned.Do(func() {
			w.logger.Warn("EXR output is not available; writing 16-bit PNG frames instead")
		})
		w.format = settings.ImagePNG
		w.deep = true
	}
	w.ext = extension(w.format)
	w.slots = make(chan struct{}, max(1, s.MaxPendingImageTasks))

	w.mu.Lock()
	w.frames = nil
	w.layers = make(map[string]struct{})
	w.mu.Unlock()

	w.running.Store(true)
	return nil
}

func extension(f settings.ImageFormat) string {
	s := settings.Settings{ImageFormat: f}
	return s.ImageFileExtension()
}

// Extension returns the extension, with dot, of the files actually written.
func (w *Writer) Extension() string { return w.ext }

// Directory returns the output directory.
func (w *Writer) Directory() string { return w.dir }

// FileName returns the file name of frame index.
func (w *Writer) FileName(index uint32) string {
	return fmt.Sprintf("%s_%06d%s", w.base, index, w.ext)
}

// Pattern returns the printf-style path of the sequence for ffmpeg.
func (w *Writer) Pattern() string {
	return filepath.Join(w.dir, w.base+"_%06d"+w.ext)
}

// LayerPath returns the path of an auxiliary layer for frame index.
func (w *Writer) LayerPath(layer string, index uint32) string {
	name := fmt.Sprintf("%s_%s_%06d%s", w.base, layer, index, w.ext)
	return filepath.Join(w.dir, "Aux_"+layer, name)
}

// Enqueue schedules f for writing. It blocks while the maximum number of
// writes is in flight. The frame's pixel buffers must not be modified
// afterwards.
func (w *Writer) Enqueue(ctx context.Context, f *frame.CapturedFrame) error {
	if !w.running.Load() {
		return ErrStopped
	}
	if f == nil || f.Pixels == nil {
		return errors.New("frame has no CPU pixels")
	}

	select {
	case w.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	if !w.running.Load() {
		<-w.slots
		return ErrStopped
	}

	w.mu.Lock()
	w.frames = append(w.frames, f.Metadata)
	for name := range f.AuxiliaryLayers {
		w.layers[name] = struct{}{}
	}
	w.mu.Unlock()

	task := writeTask{
		path:   filepath.Join(w.dir, w.FileName(f.Metadata.FrameIndex)),
		index:  f.Metadata.FrameIndex,
		pixels: f.Pixels,
		linear: f.Linear,
		layers: f.AuxiliaryLayers,
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() { <-w.slots }()
		if err := w.write(task); err != nil {
			w.failed.Add(1)
			w.logger.Warn("OmniCapture image write task failed", "frame", task.index, "error", err)
			return
		}
		w.written.Add(1)
	}()
	return nil
}

type writeTask struct {
	path   string
	index  uint32
	pixels *frame.PixelData
	linear bool
	layers map[string]*frame.PixelData
}

func (w *Writer) write(t writeTask) error {
	img, err := toImage(t.pixels, t.linear, w.deep)
	if err != nil {
		return err
	}
	if err := encodeFile(t.path, img, w.format, w.jpegQuality); err != nil {
		return err
	}

	var errs []error
	for name, layer := range t.layers {
		if layer == nil {
			continue
		}
		path := w.LayerPath(name, t.index)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			errs = append(errs, err)
			continue
		}
		img, err := toImage(layer, layer.Precision != frame.Precision8, w.deep)
		if err != nil {
			errs = append(errs, fmt.Errorf("layer %s: %w", name, err))
			continue
		}
		if err := encodeFile(path, img, w.format, w.jpegQuality); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Flush stops accepting frames and waits for every scheduled write.
func (w *Writer) Flush() {
	w.running.Store(false)
	w.wg.Wait()
}

// Frames returns and clears the metadata of every accepted frame.
func (w *Writer) Frames() []frame.Metadata {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := w.frames
	w.frames = nil
	return out
}

// Layers returns the sorted names of the auxiliary layers seen so far.
func (w *Writer) Layers() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return slices.Sorted(maps.Keys(w.layers))
}

// Stats returns the task counters.
func (w *Writer) Stats() Stats {
	return Stats{
		Written:  w.written.Load(),
		Failed:   w.failed.Load(),
		InFlight: len(w.slots),
	}
}
