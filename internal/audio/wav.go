package audio

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

const wavHeaderSize = 44

// WAVWriter streams 16-bit PCM into a RIFF/WAVE file. The chunk sizes are
// patched on Close.
type WAVWriter struct {
	path       string
	file       *os.File
	buf        *bufio.Writer
	sampleRate int
	channels   int
	dataBytes  int64
}

// CreateWAV creates path and writes a placeholder header. The format is
// fixed by the first call to WriteSamples.
func CreateWAV(path string) (*WAVWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audio directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	w := &WAVWriter{path: path, file: f, buf: bufio.NewWriter(f)}
	if _, err := w.buf.Write(make([]byte, wavHeaderSize)); err != nil {
		f.Close()
		return nil, fmt.Errorf("write wav header: %w", err)
	}
	return w, nil
}

// Path returns the file path.
func (w *WAVWriter) Path() string { return w.path }

// DataBytes returns the number of PCM bytes written.
func (w *WAVWriter) DataBytes() int64 { return w.dataBytes }

// WriteSamples appends interleaved samples. Packets whose rate or channel
// count differ from the first packet are rejected.
func (w *WAVWriter) WriteSamples(sampleRate, channels int, pcm []int16) error {
	if w.buf == nil {
		return errors.New("wav writer is closed")
	}
	if sampleRate <= 0 || channels <= 0 {
		return fmt.Errorf("invalid audio format %d Hz x %d", sampleRate, channels)
	}
	if w.sampleRate == 0 {
		w.sampleRate, w.channels = sampleRate, channels
	} else if w.sampleRate != sampleRate || w.channels != channels {
		return fmt.Errorf("audio format changed from %d Hz x %d to %d Hz x %d",
			w.sampleRate, w.channels, sampleRate, channels)
	}
	if err := binary.Write(w.buf, binary.LittleEndian, pcm); err != nil {
		return fmt.Errorf("write samples: %w", err)
	}
	w.dataBytes += int64(len(pcm)) * 2
	return nil
}

// Close finalizes the header and closes the file. Safe to call twice.
func (w *WAVWriter) Close() error {
	if w.file == nil {
		return nil
	}
	defer func() {
		w.file = nil
		w.buf = nil
	}()

	if err := w.buf.Flush(); err != nil {
		w.file.Close()
		return fmt.Errorf("flush wav: %w", err)
	}
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		w.file.Close()
		return fmt.Errorf("rewind wav: %w", err)
	}
	if err := writeWAVHeader(w.file, w.sampleRate, w.channels, w.dataBytes); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

type wavHeader struct {
	RIFF          [4]byte
	ChunkSize     uint32
	WAVE          [4]byte
	Fmt           [4]byte
	FmtSize       uint32
	AudioFormat   uint16
	Channels      uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Data          [4]byte
	DataSize      uint32
}

// writeWAVHeader writes a canonical PCM header. A file that never received
// samples is described as 48 kHz stereo.
func writeWAVHeader(w io.Writer, sampleRate, channels int, dataBytes int64) error {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	if channels <= 0 {
		channels = 2
	}
	h := wavHeader{
		RIFF:          [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     uint32(36 + dataBytes),
		WAVE:          [4]byte{'W', 'A', 'V', 'E'},
		Fmt:           [4]byte{'f', 'm', 't', ' '},
		FmtSize:       16,
		AudioFormat:   1,
		Channels:      uint16(channels),
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * channels * 2),
		BlockAlign:    uint16(channels * 2),
		BitsPerSample: 16,
		Data:          [4]byte{'d', 'a', 't', 'a'},
		DataSize:      uint32(dataBytes),
	}
	if err := binary.Write(w, binary.LittleEndian, &h); err != nil {
		return fmt.Errorf("write wav header: %w", err)
	}
	return nil
}
