package relay

import (
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

// StreamManager manages the JetStream streams the relay persists onto,
// when the embedded server runs with JetStream enabled.
type StreamManager struct {
	js nats.JetStreamContext
}

// NewStreamManager builds a StreamManager from a raw NATS connection.
func NewStreamManager(nc *nats.Conn) (*StreamManager, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, err
	}
	return &StreamManager{js: js}, nil
}

// SetupStreams creates or updates every stream the bridge depends on.
func (sm *StreamManager) SetupStreams() error {
	streams := []nats.StreamConfig{
		{
			Name:        "COS_EVENTS",
			Description: "Bus events mirrored onto the relay",
			Subjects:    []string{"cos.events.>"},
			Storage:     nats.MemoryStorage,
			MaxAge:      24 * time.Hour,
			Retention:   nats.LimitsPolicy,
		},
		{
			Name:        "COS_AGENTS",
			Description: "Agent spawn, heartbeat, output, and completion traffic",
			Subjects:    []string{"cos.agent.>"},
			Storage:     nats.FileStorage,
			MaxAge:      6 * time.Hour,
			Retention:   nats.LimitsPolicy,
		},
	}

	for _, cfg := range streams {
		if err := sm.createOrUpdateStream(cfg); err != nil {
			return err
		}
	}
	log.Println("[relay] streams configured")
	return nil
}

func (sm *StreamManager) createOrUpdateStream(cfg nats.StreamConfig) error {
	info, err := sm.js.StreamInfo(cfg.Name)
	if err != nil {
		if err == nats.ErrStreamNotFound {
			log.Printf("[relay] creating stream %s", cfg.Name)
			_, err := sm.js.AddStream(&cfg)
			return err
		}
		return err
	}

	log.Printf("[relay] stream %s exists (messages: %d), updating", cfg.Name, info.State.Msgs)
	_, err = sm.js.UpdateStream(&cfg)
	return err
}

// DeleteStream removes a stream by name.
func (sm *StreamManager) DeleteStream(name string) error {
	return sm.js.DeleteStream(name)
}
