package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/smazurov/omnicapture/internal/capture"
	"github.com/smazurov/omnicapture/internal/events"
	"github.com/smazurov/omnicapture/internal/settings"
)

const (
	commandSubscriptionID = 1
	commandQueueSize      = 16
	commandTimeout        = 2 * time.Minute
)

// Capture is the part of the capture controller driven over MQTT.
type Capture interface {
	Begin(ctx context.Context, s settings.Settings) error
	End(ctx context.Context, finalize bool) error
	Pause() error
	Resume() error
	Status() capture.Status
}

type command struct {
	action string
	msg    CommandMessage
}

// Bridge publishes capture events to the broker and runs commands received
// from it.
type Bridge struct {
	server   *Server
	bus      *events.Bus
	capture  Capture
	settings func() settings.Settings
	logger   *slog.Logger

	mu       sync.Mutex
	unsubs   []func()
	commands chan command
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewBridge creates a bridge. capture may be nil to publish events only.
func NewBridge(server *Server, bus *events.Bus, c Capture, current func() settings.Settings, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	if current == nil {
		current = settings.Default
	}
	return &Bridge{
		server:   server,
		bus:      bus,
		capture:  c,
		settings: current,
		logger:   logger.With("component", "mqtt-bridge"),
	}
}

// Start subscribes to the event bus and to the command topics. The broker
// must be running.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		return nil
	}

	if b.capture != nil {
		b.commands = make(chan command, commandQueueSize)
		if err := b.server.Subscribe(TopicCommandPrefix+"/+", commandSubscriptionID, b.handleCommand); err != nil {
			return fmt.Errorf("subscribe to commands: %w", err)
		}
	}

	b.unsubs = []func(){
		b.bus.Subscribe(func(e events.CaptureStateChangedEvent) { b.publish(TopicState, e, true) }),
		b.bus.Subscribe(func(e events.CaptureStatsEvent) { b.publish(TopicStats, e, false) }),
		b.bus.Subscribe(func(e events.CaptureWarningEvent) { b.publish(TopicWarnings, e, false) }),
		b.bus.Subscribe(func(e events.SegmentCompletedEvent) { b.publish(TopicSegments, e, false) }),
		b.bus.Subscribe(func(e events.CaptureCompletedEvent) { b.publish(TopicAttempts, e, false) }),
		b.bus.Subscribe(func(e events.CaptureFailedEvent) { b.publish(TopicAttempts, e, false) }),
		b.bus.Subscribe(func(e events.CapabilitiesProbedEvent) { b.publish(TopicCapabilities, e, true) }),
	}

	runCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	if b.capture != nil {
		b.wg.Add(1)
		go b.run(runCtx, b.commands)
	}

	b.logger.Info("MQTT bridge started")
	return nil
}

// Stop unsubscribes everything and waits for a running command.
func (b *Bridge) Stop() {
	b.mu.Lock()
	if b.cancel == nil {
		b.mu.Unlock()
		return
	}
	for _, unsub := range b.unsubs {
		unsub()
	}
	b.unsubs = nil
	if b.capture != nil {
		b.server.Unsubscribe(TopicCommandPrefix+"/+", commandSubscriptionID)
	}
	b.cancel()
	b.cancel = nil
	b.mu.Unlock()

	b.wg.Wait()
	b.logger.Info("MQTT bridge stopped")
}

func (b *Bridge) publish(topic string, v any, retain bool) {
	data, err := json.Marshal(v)
	if err != nil {
		b.logger.Warn("Failed to marshal event", "topic", topic, "error", err)
		return
	}
	if err := b.server.Publish(topic, data, retain); err != nil {
		b.logger.Debug("Failed to publish event", "topic", topic, "error", err)
	}
}

// handleCommand runs on the broker goroutine and only queues.
func (b *Bridge) handleCommand(topic string, payload []byte) {
	action, ok := actionFromTopic(topic)
	if !ok {
		return
	}
	msg, err := UnmarshalCommand(payload)
	if err != nil {
		b.logger.Warn("Invalid command payload", "topic", topic, "error", err)
		b.publishResult(action, fmt.Errorf("invalid payload: %w", err))
		return
	}

	select {
	case b.commands <- command{action: action, msg: msg}:
	default:
		b.logger.Warn("Command queue full, dropping command", "action", action)
		b.publishResult(action, fmt.Errorf("command queue full"))
	}
}

func (b *Bridge) run(ctx context.Context, commands <-chan command) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-commands:
			b.publishResult(cmd.action, b.execute(ctx, cmd))
		}
	}
}

func (b *Bridge) execute(ctx context.Context, cmd command) error {
	b.logger.Info("Running remote command", "action", cmd.action)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commandTimeout)
	defer cancel()

	switch cmd.action {
	case ActionStart:
		s := b.settings()
		if cmd.msg.OutputDirectory != "" {
			s.OutputDirectory = cmd.msg.OutputDirectory
		}
		if cmd.msg.OutputFileName != "" {
			s.OutputFileName = cmd.msg.OutputFileName
		}
		return b.capture.Begin(ctx, s)
	case ActionStop:
		finalize := true
		if cmd.msg.Finalize != nil {
			finalize = *cmd.msg.Finalize
		}
		return b.capture.End(ctx, finalize)
	case ActionPause:
		return b.capture.Pause()
	case ActionResume:
		return b.capture.Resume()
	default:
		return fmt.Errorf("unknown action %q", cmd.action)
	}
}

func (b *Bridge) publishResult(action string, err error) {
	result := CommandResult{
		Action:    action,
		OK:        err == nil,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if err != nil {
		result.Error = err.Error()
	}
	if b.capture != nil {
		st := b.capture.Status()
		result.State = string(st.State)
		result.Attempt = st.Attempt
	}
	b.publish(TopicResult(action), result, false)
}
