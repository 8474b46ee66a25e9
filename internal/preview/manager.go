// Package preview serves the packets of the hardware encoder to WebRTC
// viewers. Viewers receive the same access units that are written to disk;
// a picture loss report from any viewer asks the encoder for a key frame.
package preview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AlexxIT/go2rtc/pkg/core"
	"github.com/pion/rtcp"
	pion "github.com/pion/webrtc/v4"

	"github.com/smazurov/omnicapture/internal/nvenc"
)

// DefaultQueueSize bounds the packets waiting for the RTP writer.
const DefaultQueueSize = 256

const gatherTimeout = 5 * time.Second

// ErrGatherTimeout is returned when ICE gathering does not complete.
var ErrGatherTimeout = errors.New("ICE candidate gathering timed out")

// Source is the encoder side of the preview.
type Source interface {
	AddPacketSink(fn nvenc.PacketSink) func()
	RequestKeyframe()
	SequenceHeader() []byte
}

// Config holds configuration for preview connections.
type Config struct {
	// ICEServers for STUN/TURN (empty for LAN-only)
	ICEServers []pion.ICEServer
	// QueueSize bounds packets waiting to be sent; zero means DefaultQueueSize.
	QueueSize int
	// Codec is offered to viewers before the encoder produced a packet.
	Codec nvenc.Codec
}

type job struct {
	codec  nvenc.Codec
	packet nvenc.Packet
}

type peer struct {
	id    string
	pc    *pion.PeerConnection
	codec nvenc.Codec
}

// Manager manages preview peer connections.
type Manager struct {
	src    Source
	config Config
	api    *pion.API
	logger *slog.Logger

	tracks  map[nvenc.Codec]*pion.TrackLocalStaticRTP
	streams map[nvenc.Codec]*stream

	queue     chan job
	peerCount atomic.Int32

	mu         sync.RWMutex
	peers      map[string]*peer
	codec      nvenc.Codec
	removeSink func()
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// NewManager creates a preview manager for src.
func NewManager(src Source, config Config, logger *slog.Logger) (*Manager, error) {
	api, err := newAPI()
	if err != nil {
		return nil, fmt.Errorf("create WebRTC API: %w", err)
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultQueueSize
	}

	m := &Manager{
		src:     src,
		config:  config,
		api:     api,
		logger:  logger,
		tracks:  make(map[nvenc.Codec]*pion.TrackLocalStaticRTP),
		streams: make(map[nvenc.Codec]*stream),
		queue:   make(chan job, config.QueueSize),
		peers:   make(map[string]*peer),
		codec:   config.Codec,
	}
	for _, codec := range []nvenc.Codec{nvenc.CodecH264, nvenc.CodecHEVC} {
		track, err := pion.NewTrackLocalStaticRTP(trackCapability(codec), "video", "omnicapture")
		if err != nil {
			return nil, fmt.Errorf("create %s track: %w", codec, err)
		}
		m.tracks[codec] = track
		m.streams[codec] = newStream(codec, rand.Uint32())
	}
	return m, nil
}

// Start attaches to the encoder and starts the RTP writer.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.removeSink = m.src.AddPacketSink(m.enqueue)

	m.wg.Add(1)
	go m.run(ctx)
	m.logger.Info("Preview started")
}

// Stop detaches from the encoder and closes every viewer.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.removeSink != nil {
		m.removeSink()
		m.removeSink = nil
	}
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	peers := make([]*peer, 0, len(m.peers))
	for id, p := range m.peers {
		peers = append(peers, p)
		delete(m.peers, id)
	}
	m.peerCount.Store(0)
	m.mu.Unlock()

	for _, p := range peers {
		_ = p.pc.Close()
	}
	setActivePeers(0)
	m.wg.Wait()
}

// PeerCount returns the number of connected viewers.
func (m *Manager) PeerCount() int {
	return int(m.peerCount.Load())
}

// Codec returns the codec offered to new viewers.
func (m *Manager) Codec() nvenc.Codec {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.codec
}

// enqueue runs inside the encoder and must not block or call back into it.
func (m *Manager) enqueue(codec nvenc.Codec, p nvenc.Packet) {
	if m.peerCount.Load() == 0 {
		return
	}
	p.Data = append([]byte(nil), p.Data...)
	select {
	case m.queue <- job{codec: codec, packet: p}:
	default:
		previewDropped.Inc()
	}
}

func (m *Manager) run(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-m.queue:
			m.write(j)
		}
	}
}

func (m *Manager) write(j job) {
	m.switchCodec(j.codec)

	s := m.streams[j.codec]
	if j.packet.KeyFrame && s.header == nil {
		s.setHeader(m.src.SequenceHeader())
	}
	track := m.tracks[j.codec]
	for _, pkt := range s.packetize(j.packet) {
		if err := track.WriteRTP(pkt); err != nil {
			m.logger.Debug("Preview RTP write failed", "error", err)
			return
		}
		incrementPacketsSent(len(pkt.Payload))
	}
}

// switchCodec closes viewers that negotiated a different codec. They
// reconnect and get the new one.
func (m *Manager) switchCodec(codec nvenc.Codec) {
	m.mu.Lock()
	if codec == m.codec {
		m.mu.Unlock()
		return
	}
	m.logger.Info("Preview codec changed, closing viewers", "from", m.codec, "to", codec)
	m.codec = codec
	m.streams[codec].header = nil
	var stale []*peer
	for _, p := range m.peers {
		if p.codec != codec {
			stale = append(stale, p)
		}
	}
	m.mu.Unlock()

	for _, p := range stale {
		_ = p.pc.Close()
	}
}

// HandleOffer creates a viewer for the SDP offer and returns the answer.
func (m *Manager) HandleOffer(ctx context.Context, offer string) (string, error) {
	codec := m.Codec()

	pc, err := m.api.NewPeerConnection(pion.Configuration{ICEServers: m.config.ICEServers})
	if err != nil {
		return "", err
	}

	sender, err := pc.AddTrack(m.tracks[codec])
	if err != nil {
		_ = pc.Close()
		return "", err
	}

	id := core.RandString(8, 10)
	pc.OnConnectionStateChange(func(state pion.PeerConnectionState) {
		switch state {
		case pion.PeerConnectionStateConnected:
			m.logger.Debug("Preview viewer connected", "peer_id", id)
			m.src.RequestKeyframe()
		case pion.PeerConnectionStateDisconnected,
			pion.PeerConnectionStateFailed,
			pion.PeerConnectionStateClosed:
			m.removePeer(id, state)
		}
	})

	if err := pc.SetRemoteDescription(pion.SessionDescription{Type: pion.SDPTypeOffer, SDP: offer}); err != nil {
		_ = pc.Close()
		return "", err
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		_ = pc.Close()
		return "", err
	}
	gathered := pion.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		_ = pc.Close()
		return "", err
	}

	select {
	case <-gathered:
	case <-ctx.Done():
		_ = pc.Close()
		return "", ctx.Err()
	case <-time.After(gatherTimeout):
		_ = pc.Close()
		return "", ErrGatherTimeout
	}

	m.mu.Lock()
	m.peers[id] = &peer{id: id, pc: pc, codec: codec}
	count := len(m.peers)
	m.peerCount.Store(int32(count))
	m.mu.Unlock()
	setActivePeers(count)

	go m.readRTCP(sender)

	m.logger.Debug("Preview viewer created", "peer_id", id, "codec", codec, "total_peers", count)
	return pc.LocalDescription().SDP, nil
}

func (m *Manager) removePeer(id string, state pion.PeerConnectionState) {
	m.mu.Lock()
	p, ok := m.peers[id]
	delete(m.peers, id)
	count := len(m.peers)
	m.peerCount.Store(int32(count))
	m.mu.Unlock()
	if !ok {
		return
	}

	_ = p.pc.Close()
	setActivePeers(count)
	m.logger.Debug("Preview viewer disconnected", "peer_id", id, "state", state.String(), "remaining_peers", count)
}

// readRTCP drains the sender's RTCP. Interceptors only see NACKs while
// somebody reads.
func (m *Manager) readRTCP(sender *pion.RTPSender) {
	for {
		packets, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}
		for _, pkt := range packets {
			switch p := pkt.(type) {
			case *rtcp.PictureLossIndication:
				incrementKeyframeRequests("pli")
				m.src.RequestKeyframe()
			case *rtcp.FullIntraRequest:
				incrementKeyframeRequests("fir")
				m.src.RequestKeyframe()
			case *rtcp.TransportLayerNack:
				count := 0
				for _, nack := range p.Nacks {
					count += len(nack.PacketList())
				}
				incrementNACKs(count)
			}
		}
	}
}
