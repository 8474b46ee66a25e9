// Package segment decides when a capture rolls over into a new output segment
// and keeps the records of segments that have been closed.
package segment

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/smazurov/omnicapture/internal/frame"
)

const sizeCheckInterval = time.Second

// Thresholds are OR-combined; a zero value disables that check.
type Thresholds struct {
	Duration       time.Duration
	FrameCount     int
	SizeLimitBytes int64
}

// ThresholdsFromLimits converts the user-facing limits into Thresholds.
func ThresholdsFromLimits(durationSeconds float64, frameCount, sizeLimitMB int) Thresholds {
	return Thresholds{
		Duration:       time.Duration(durationSeconds * float64(time.Second)),
		FrameCount:     frameCount,
		SizeLimitBytes: int64(sizeLimitMB) * 1024 * 1024,
	}
}

// Record describes one closed segment. It is not modified after creation.
type Record struct {
	Index            int              `json:"index"`
	Directory        string           `json:"directory"`
	BaseName         string           `json:"baseName"`
	AudioPath        string           `json:"audioPath,omitempty"`
	VideoPath        string           `json:"videoPath,omitempty"`
	Frames           []frame.Metadata `json:"frames"`
	DroppedFrames    int              `json:"droppedFrames"`
	HasImageSequence bool             `json:"hasImageSequence"`
}

// Manager tracks the active segment.
type Manager struct {
	mu sync.Mutex

	thresholds Thresholds

	baseDir          string
	baseName         string
	createSubfolders bool

	index     int
	directory string
	name      string

	startedAt     time.Time
	lastSizeCheck time.Time

	previousDropped int
	records         []Record
}

// NewManager returns a manager at segment index 0.
func NewManager(thresholds Thresholds) *Manager {
	return &Manager{thresholds: thresholds}
}

// SetThresholds replaces the rotation thresholds.
func (m *Manager) SetThresholds(t Thresholds) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.thresholds = t
}

// Configure computes the active directory and base name for the current
// index, creates the directory and restarts the segment clock.
func (m *Manager) Configure(baseDir, baseName string, createSubfolders bool, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.baseDir = baseDir
	m.baseName = baseName
	m.createSubfolders = createSubfolders

	m.name = baseName
	if m.index > 0 {
		m.name = fmt.Sprintf("%s_seg%02d", baseName, m.index)
	}
	m.directory = baseDir
	if createSubfolders {
		m.directory = filepath.Join(baseDir, fmt.Sprintf("Segment_%02d", m.index))
	}

	m.startedAt = now
	m.lastSizeCheck = now

	if err := os.MkdirAll(m.directory, 0o755); err != nil {
		return fmt.Errorf("create segment directory: %w", err)
	}
	return nil
}

// Reconfigure applies Configure again with the last base directory and name.
func (m *Manager) Reconfigure(now time.Time) error {
	m.mu.Lock()
	baseDir, baseName, sub := m.baseDir, m.baseName, m.createSubfolders
	m.mu.Unlock()
	return m.Configure(baseDir, baseName, sub, now)
}

// Index returns the active segment index.
func (m *Manager) Index() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.index
}

// Directory returns the active segment directory.
func (m *Manager) Directory() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.directory
}

// BaseName returns the active segment file base name.
func (m *Manager) BaseName() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.name
}

// StartedAt returns when the active segment was configured.
func (m *Manager) StartedAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startedAt
}

// ShouldRotate evaluates the thresholds. bytesOnDisk is only called when a
// size limit is set and at least a second has passed since the last check.
// An empty segment never rotates.
func (m *Manager) ShouldRotate(now time.Time, framesInSegment int, bytesOnDisk func() int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	rotate := false
	if m.thresholds.Duration > 0 && now.Sub(m.startedAt) >= m.thresholds.Duration {
		rotate = true
	}
	if !rotate && m.thresholds.FrameCount > 0 && framesInSegment >= m.thresholds.FrameCount {
		rotate = true
	}
	if !rotate && m.thresholds.SizeLimitBytes > 0 && bytesOnDisk != nil {
		if now.Sub(m.lastSizeCheck) >= sizeCheckInterval {
			m.lastSizeCheck = now
			if bytesOnDisk() >= m.thresholds.SizeLimitBytes {
				rotate = true
			}
		}
	}

	return rotate && framesInSegment > 0
}

// Complete closes the active segment. The dropped count stored on the record
// is the change in totalDropped since the previous record. Segments without
// frames produce no record.
func (m *Manager) Complete(frames []frame.Metadata, totalDropped int, audioPath, videoPath string, hasImageSequence bool) (Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(frames) == 0 {
		return Record{}, false
	}

	rec := Record{
		Index:            m.index,
		Directory:        m.directory,
		BaseName:         m.name,
		AudioPath:        audioPath,
		VideoPath:        videoPath,
		Frames:           append([]frame.Metadata(nil), frames...),
		DroppedFrames:    max(0, totalDropped-m.previousDropped),
		HasImageSequence: hasImageSequence,
	}
	m.previousDropped = totalDropped
	m.records = append(m.records, rec)
	return rec, true
}

// Advance moves to the next segment index.
func (m *Manager) Advance() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.index++
}

// Records returns the closed segments in order.
func (m *Manager) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.records...)
}

// Reset returns the manager to segment 0 with no records.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.index = 0
	m.previousDropped = 0
	m.records = nil
	m.directory = ""
	m.name = ""
}

// SegmentBytes sums the on-disk size of a segment. With a bitstream path only
// that file counts; otherwise every file in dir starting with baseName does.
// The audio file is added in both cases.
func SegmentBytes(dir, baseName, bitstreamPath, audioPath string) int64 {
	var total int64
	if bitstreamPath != "" {
		total += fileSize(bitstreamPath)
	} else if entries, err := os.ReadDir(dir); err == nil {
		for _, e := range entries {
			if e.IsDir() || (baseName != "" && !strings.HasPrefix(e.Name(), baseName)) {
				continue
			}
			if filepath.Join(dir, e.Name()) == filepath.Clean(audioPath) {
				continue
			}
			if info, err := e.Info(); err == nil {
				total += info.Size()
			}
		}
	}
	if audioPath != "" && audioPath != bitstreamPath {
		total += fileSize(audioPath)
	}
	return total
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil || info.Size() < 0 {
		return 0
	}
	return info.Size()
}
