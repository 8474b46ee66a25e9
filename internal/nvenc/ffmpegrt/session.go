package ffmpegrt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/smazurov/omnicapture/internal/ffmpeg"
	"github.com/smazurov/omnicapture/internal/frame"
	"github.com/smazurov/omnicapture/internal/nvenc"
	"github.com/smazurov/omnicapture/internal/process"
)

const readChunk = 256 * 1024

type session struct {
	rt    *Runtime
	codec nvenc.Codec
	gpu   int

	params    nvenc.Parameters
	encode    ffmpeg.EncodeParams
	frameSize int

	mu        sync.Mutex
	proc      *process.Process
	stdin     io.WriteCloser
	resources map[nvenc.ResourceHandle]*frame.Texture
	mapped    map[nvenc.InputHandle]nvenc.ResourceHandle
	nextRes   nvenc.ResourceHandle
	nextIn    nvenc.InputHandle
	pictures  []nvenc.Picture
	ready     [][]byte
	header    []byte
	readErr   error
	readDone  chan struct{}
	cancel    context.CancelFunc

	// streamFrames counts frames written to the current child process.
	streamFrames int
	restarts     int
}

func newSession(rt *Runtime, codec nvenc.Codec, gpu int) *session {
	return &session{
		rt:        rt,
		codec:     codec,
		gpu:       gpu,
		resources: make(map[nvenc.ResourceHandle]*frame.Texture),
		mapped:    make(map[nvenc.InputHandle]nvenc.ResourceHandle),
	}
}

// PresetSupported checks the encoder was listed by StaticCaps.
func (s *session) PresetSupported(codec nvenc.Codec) error {
	if codec != s.codec {
		return fmt.Errorf("session opened for %s, preset requested for %s", s.codec, codec)
	}
	return nil
}

func pixelFormatName(f frame.PixelFormat) string {
	switch f {
	case frame.FormatP010:
		return "p010le"
	case frame.FormatBGRA:
		return "bgra"
	default:
		return "nv12"
	}
}

// FrameSize returns the byte size of one raw frame.
func FrameSize(f frame.PixelFormat, width, height int) int {
	switch f {
	case frame.FormatP010:
		return width * height * 3
	case frame.FormatBGRA:
		return width * height * 4
	default:
		return width * height * 3 / 2
	}
}

func encodeParams(p nvenc.Parameters, gpu int) ffmpeg.EncodeParams {
	ep := ffmpeg.EncodeParams{
		HEVC:        p.Codec == nvenc.CodecHEVC,
		PixelFormat: pixelFormatName(p.Format),
		Width:       p.Width,
		Height:      p.Height,
		FrameRate:   p.FrameRate,
		Bitrate:     p.TargetBitrate,
		MaxBitrate:  p.MaxBitrate,
		GOP:         p.GOPLength,
		QPMin:       p.QPMin,
		QPMax:       p.QPMax,
		SpatialAQ:   p.AdaptiveQuantization,
		Lookahead:   p.Lookahead,
		LowLatency:  p.LowLatency,
		ForceIDRs:   true,
		GPU:         gpu,
	}
	switch p.RateControl {
	case nvenc.RateControlVBR:
		ep.RateControl = "vbr"
	case nvenc.RateControlConstQP:
		ep.RateControl = "constqp"
		ep.Lossless = p.QPMax == 0
	default:
		ep.RateControl = "cbr"
	}
	switch p.Multipass {
	case nvenc.MultipassQuarter:
		ep.Multipass = "qres"
	case nvenc.MultipassFull:
		ep.Multipass = "fullres"
	default:
		ep.Multipass = "disabled"
	}
	return ep
}

// Initialize validates the configuration with a one frame encode, then
// starts the streaming encoder. B-frames are disabled so access units come
// back in submission order.
func (s *session) Initialize(ctx context.Context, p nvenc.Parameters) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.proc != nil {
		return errors.New("encoder process already running")
	}

	ep := encodeParams(p, s.gpu)
	if !s.rt.supportsFormat(p.Codec, ep.PixelFormat) {
		return fmt.Errorf("%s does not accept %s input", ffmpeg.EncoderName(ep.HEVC), ep.PixelFormat)
	}

	check := s.rt.newProcess("nvenc-validate", ffmpeg.ValidateArgs(ep))
	if _, err := check.Run(ctx); err != nil {
		return fmt.Errorf("encoder rejected %dx%d %s: %w", p.Width, p.Height, ep.PixelFormat, err)
	}

	ep.BFrames = 0
	s.params = p
	s.encode = ep
	s.frameSize = FrameSize(p.Format, p.Width, p.Height)
	return s.startStreamLocked(ctx)
}

// startStreamLocked starts a streaming encoder child. Its first picture is
// always an IDR with parameter sets.
func (s *session) startStreamLocked(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	proc := s.rt.newProcess("nvenc-encode", ffmpeg.EncodeArgs(s.encode))
	proc.PipeStdin()
	proc.PipeStdout()
	if err := proc.Start(runCtx); err != nil {
		cancel()
		return err
	}

	s.proc = proc
	s.stdin = proc.Stdin()
	s.cancel = cancel
	s.readDone = make(chan struct{})
	s.streamFrames = 0
	go s.readLoop(proc.Stdout(), s.readDone)
	return nil
}

// needsRestartLocked reports whether a forced keyframe falls between the
// child's own GOP boundaries. ffmpeg takes no keyframe requests on a running
// pipe, so such frames start a new child instead.
func (s *session) needsRestartLocked() bool {
	if s.streamFrames == 0 {
		return false
	}
	gop := s.params.GOPLength
	return gop <= 0 || s.streamFrames%gop != 0
}

// restartStream drains the running child and starts a new one. Access
// units of the old child stay queued ahead of the new child's output.
func (s *session) restartStream(ctx context.Context) error {
	s.mu.Lock()
	proc, stdin, done, cancel := s.proc, s.stdin, s.readDone, s.cancel
	s.stdin = nil
	s.mu.Unlock()

	if stdin != nil {
		stdin.Close()
	}
	select {
	case <-done:
	case <-ctx.Done():
		proc.Stop()
		cancel()
		return ctx.Err()
	}
	_, waitErr := proc.Wait()
	cancel()
	if waitErr != nil {
		return fmt.Errorf("encoder exited before keyframe restart: %w", waitErr)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return s.readErr
	}
	if err := s.startStreamLocked(ctx); err != nil {
		return fmt.Errorf("restart encoder for keyframe: %w", err)
	}
	s.restarts++
	s.rt.logger.Debug("Encoder stream restarted for keyframe", "restarts", s.restarts)
	return nil
}

// readLoop splits stdout into access units on delimiter NAL units.
func (s *session) readLoop(r io.ReadCloser, done chan struct{}) {
	defer close(done)
	defer r.Close()

	var buf []byte
	chunk := make([]byte, readChunk)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			buf = s.emitComplete(buf)
		}
		if err != nil {
			if len(buf) > 0 {
				s.push(buf)
			}
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				s.mu.Lock()
				s.readErr = err
				s.mu.Unlock()
			}
			return
		}
	}
}

// emitComplete pushes every access unit that is followed by another
// delimiter and returns the unfinished tail.
func (s *session) emitComplete(buf []byte) []byte {
	var starts []int
	for _, n := range nvenc.SplitNALUnits(buf) {
		if n.IsAccessUnitDelimiter(s.codec) {
			starts = append(starts, n.Offset)
		}
	}
	if len(starts) < 2 {
		return buf
	}
	for i := 0; i+1 < len(starts); i++ {
		s.push(buf[starts[i]:starts[i+1]])
	}
	last := starts[len(starts)-1]
	return append([]byte(nil), buf[last:]...)
}

func (s *session) push(au []byte) {
	data := append([]byte(nil), au...)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.header == nil {
		s.header = nvenc.ParameterSets(data, s.codec)
	}
	s.ready = append(s.ready, data)
}

// SequenceParams returns the parameter sets of the first access unit, or
// nil until one has been produced.
func (s *session) SequenceParams() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == nil {
		return nil, errors.New("encoder not initialised")
	}
	return s.header, nil
}

func (s *session) Register(tex *frame.Texture) (nvenc.ResourceHandle, error) {
	if tex == nil {
		return 0, errors.New("nil texture")
	}
	if tex.Data == nil {
		return 0, errors.New("texture has no CPU-visible data")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextRes++
	s.resources[s.nextRes] = tex
	return s.nextRes, nil
}

func (s *session) Map(res nvenc.ResourceHandle) (nvenc.InputHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.resources[res]; !ok {
		return 0, fmt.Errorf("resource %d is not registered", res)
	}
	s.nextIn++
	s.mapped[s.nextIn] = res
	return s.nextIn, nil
}

// Submit writes the planes of one frame to the encoder stdin. A forced
// keyframe off the GOP cadence restarts the child first.
func (s *session) Submit(ctx context.Context, inputs []nvenc.InputHandle, pic nvenc.Picture) error {
	s.mu.Lock()
	if s.stdin == nil {
		s.mu.Unlock()
		return errors.New("encoder not initialised")
	}
	if pic.ForceKeyframe && s.needsRestartLocked() {
		s.mu.Unlock()
		if err := s.restartStream(ctx); err != nil {
			return err
		}
		s.mu.Lock()
	}
	planes := make([][]byte, 0, len(inputs))
	total := 0
	for _, in := range inputs {
		res, ok := s.mapped[in]
		if !ok {
			s.mu.Unlock()
			return fmt.Errorf("input %d is not mapped", in)
		}
		data := s.resources[res].Data
		planes = append(planes, data)
		total += len(data)
	}
	stdin := s.stdin
	s.pictures = append(s.pictures, pic)
	s.mu.Unlock()

	if total != s.frameSize {
		s.dropLastPicture()
		return fmt.Errorf("frame %d carries %d bytes, want %d", pic.FrameIndex, total, s.frameSize)
	}
	if err := ctx.Err(); err != nil {
		s.dropLastPicture()
		return err
	}
	for _, p := range planes {
		if _, err := stdin.Write(p); err != nil {
			s.dropLastPicture()
			return fmt.Errorf("write frame %d: %w", pic.FrameIndex, err)
		}
	}
	s.mu.Lock()
	s.streamFrames++
	s.mu.Unlock()
	return nil
}

func (s *session) dropLastPicture() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.pictures); n > 0 {
		s.pictures = s.pictures[:n-1]
	}
}

// Lock returns the access units completed so far without waiting.
func (s *session) Lock(context.Context) ([]nvenc.Bitstream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return nil, s.readErr
	}
	return s.takeLocked(), nil
}

// takeLocked pairs ready access units with submitted pictures in order.
func (s *session) takeLocked() []nvenc.Bitstream {
	out := make([]nvenc.Bitstream, 0, len(s.ready))
	for _, au := range s.ready {
		b := nvenc.Bitstream{Data: au, PictureType: nvenc.ClassifyAccessUnit(au, s.codec)}
		if len(s.pictures) > 0 {
			b.FrameIndex = s.pictures[0].FrameIndex
			b.Timestamp = s.pictures[0].Timestamp
			s.pictures = s.pictures[1:]
		}
		out = append(out, b)
	}
	s.ready = nil
	return out
}

func (s *session) Unlock() error { return nil }

func (s *session) Unmap(in nvenc.InputHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.mapped, in)
	return nil
}

func (s *session) Unregister(res nvenc.ResourceHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.resources, res)
	return nil
}

// EndOfStream closes stdin, waits for ffmpeg to drain and returns the
// remaining access units.
func (s *session) EndOfStream(ctx context.Context) ([]nvenc.Bitstream, error) {
	s.mu.Lock()
	proc, stdin, done := s.proc, s.stdin, s.readDone
	s.stdin = nil
	s.mu.Unlock()

	if proc == nil {
		return nil, nil
	}
	if stdin != nil {
		stdin.Close()
	}

	select {
	case <-done:
	case <-ctx.Done():
		proc.Stop()
		return nil, ctx.Err()
	}

	_, waitErr := proc.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.takeLocked()
	if waitErr != nil {
		return out, fmt.Errorf("encoder exited: %w", waitErr)
	}
	return out, s.readErr
}

func (s *session) Close() error {
	s.mu.Lock()
	proc, stdin, cancel := s.proc, s.stdin, s.cancel
	s.proc, s.stdin, s.cancel = nil, nil, nil
	s.mu.Unlock()

	if stdin != nil {
		stdin.Close()
	}
	if proc != nil {
		proc.Stop()
		if tail := proc.Tail(); len(tail) > 0 {
			s.rt.logger.Debug("Encoder process output", "tail", strings.Join(tail, " | "))
		}
	}
	if cancel != nil {
		cancel()
	}
	return nil
}
