package broker

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/mochi-mqtt/server/v2/packets"
)

// ErrNotRunning is returned when publishing before Start or after Stop.
var ErrNotRunning = errors.New("broker not running")

// ServerOptions configures the embedded broker.
type ServerOptions struct {
	// Address of the TCP listener, e.g. ":1883". Empty runs the broker for
	// in-process clients only.
	Address string
	Logger  *slog.Logger
}

// Server wraps an embedded MQTT broker with an inline client.
type Server struct {
	opts   ServerOptions
	logger *slog.Logger

	mu      sync.RWMutex
	mqtt    *mqtt.Server
	running bool
}

// NewServer creates a broker. Nothing listens until Start.
func NewServer(opts ServerOptions) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		opts:   opts,
		logger: logger.With("component", "mqtt-broker"),
	}
}

// Start opens the listener and starts serving clients.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	srv := mqtt.New(&mqtt.Options{
		Logger:       s.logger,
		InlineClient: true,
	})
	if err := srv.AddHook(new(auth.AllowHook), nil); err != nil {
		return fmt.Errorf("failed to add auth hook: %w", err)
	}
	if s.opts.Address != "" {
		tcp := listeners.NewTCP(listeners.Config{ID: "tcp", Address: s.opts.Address})
		if err := srv.AddListener(tcp); err != nil {
			return fmt.Errorf("failed to listen on %s: %w", s.opts.Address, err)
		}
	}
	if err := srv.Serve(); err != nil {
		_ = srv.Close()
		return fmt.Errorf("failed to start MQTT broker: %w", err)
	}

	s.mqtt = srv
	s.running = true
	s.logger.Info("MQTT broker started", "address", s.opts.Address)
	return nil
}

// Stop disconnects all clients and closes the listener.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.logger.Info("Stopping MQTT broker")
	if err := s.mqtt.Close(); err != nil {
		s.logger.Warn("MQTT broker close failed", "error", err)
	}
	s.running = false
	s.mqtt = nil
}

// IsRunning reports whether the broker is serving.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Publish sends payload to every subscriber of topic.
func (s *Server) Publish(topic string, payload []byte, retain bool) error {
	srv := s.broker()
	if srv == nil {
		return ErrNotRunning
	}
	return srv.Publish(topic, payload, retain, 0)
}

// Subscribe registers an in-process handler for filter. id must be unique
// per filter and is needed to unsubscribe.
func (s *Server) Subscribe(filter string, id int, handler func(topic string, payload []byte)) error {
	srv := s.broker()
	if srv == nil {
		return ErrNotRunning
	}
	return srv.Subscribe(filter, id, func(_ *mqtt.Client, _ packets.Subscription, pk packets.Packet) {
		handler(pk.TopicName, pk.Payload)
	})
}

// Unsubscribe removes a handler added with Subscribe.
func (s *Server) Unsubscribe(filter string, id int) {
	if srv := s.broker(); srv != nil {
		_ = srv.Unsubscribe(filter, id)
	}
}

// broker returns the running broker. Inline handlers may publish, so the
// lock is never held across a broker call.
func (s *Server) broker() *mqtt.Server {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running {
		return nil
	}
	return s.mqtt
}
