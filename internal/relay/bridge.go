// Package relay carries task:ready admissions and agent lifecycle reports
// across the process boundary to wherever agents actually run: an embedded
// or external NATS broker, one subject per concern (cos.agent.spawn,
// cos.agent.<id>.heartbeat/output/completed), plus a mirror of every bus
// event onto cos.events.<type> for anything that can't reach statusapi's
// websocket directly.
package relay

import (
	"encoding/json"
	"fmt"
	"log"

	nc "github.com/nats-io/nats.go"

	"github.com/CLIAIMONITOR/cos/internal/events"
)

// CompletionReceiver is the subset of *orchestrator.Orchestrator the
// bridge needs to close the loop when an agent finishes.
type CompletionReceiver interface {
	CompleteAgent(agentID string, success bool, durationMs int64, errMsg, errCategory string)
}

// Bridge mirrors the in-process event bus onto the relay transport in both
// directions: outbound, every bus event is republished on cos.events.<type>
// and every task:ready admission becomes a SpawnRequest; inbound, agent
// heartbeat/output/completion reports arriving over the transport are
// turned back into bus events, and completions are additionally delivered
// straight to the orchestrator.
type Bridge struct {
	client *Client
	bus    *events.Bus
	orch   CompletionReceiver

	subs []*nc.Subscription
}

// NewBridge wires a Bridge over an already-connected Client.
func NewBridge(client *Client, bus *events.Bus, orch CompletionReceiver) *Bridge {
	return &Bridge{client: client, bus: bus, orch: orch}
}

// Start subscribes to the bus and to every inbound relay subject, and
// begins republishing in both directions. Stop removes the relay
// subscriptions; the outbound goroutine ends when its bus channel closes.
func (b *Bridge) Start(target string) error {
	if err := b.subscribeInbound(); err != nil {
		return err
	}
	go b.relayOutbound(target)
	return nil
}

// Stop unsubscribes every relay subscription. The outbound goroutine exits
// on its own once the bus channel it reads from is unsubscribed/closed by
// the caller stopping the bus side.
func (b *Bridge) Stop() {
	for _, sub := range b.subs {
		sub.Unsubscribe()
	}
	b.subs = nil
}

func (b *Bridge) addSub(sub *nc.Subscription, err error) error {
	if err != nil {
		return err
	}
	b.subs = append(b.subs, sub)
	return nil
}

func (b *Bridge) subscribeInbound() error {
	heartbeats, err := b.client.Subscribe(SubjectAllHeartbeats, b.handleHeartbeat)
	if err := b.addSub(heartbeats, err); err != nil {
		return fmt.Errorf("subscribing to agent heartbeats: %w", err)
	}

	output, err := b.client.Subscribe(SubjectAllOutput, b.handleOutput)
	if err := b.addSub(output, err); err != nil {
		return fmt.Errorf("subscribing to agent output: %w", err)
	}

	completions, err := b.client.QueueSubscribe(SubjectAllCompleted, "orchestrator", b.handleCompletion)
	if err := b.addSub(completions, err); err != nil {
		return fmt.Errorf("subscribing to agent completions: %w", err)
	}

	return nil
}

// relayOutbound subscribes to the bus under target and republishes every
// event, turning task:ready admissions into a SpawnRequest along the way.
func (b *Bridge) relayOutbound(target string) {
	ch := b.bus.Subscribe(target, nil)
	defer b.bus.Unsubscribe(target, ch)

	for event := range ch {
		subject := fmt.Sprintf(SubjectEventPattern, event.Type)
		if err := b.client.PublishJSON(subject, event); err != nil {
			log.Printf("[relay] publishing %s: %v", subject, err)
		}

		if event.Type == events.EventTaskReady {
			b.publishSpawnRequest(event)
		}
	}
}

func (b *Bridge) publishSpawnRequest(event events.Event) {
	taskID, _ := event.Payload["taskId"].(string)
	agentID, _ := event.Payload["agentId"].(string)
	description, _ := event.Payload["description"].(string)
	app, _ := event.Payload["app"].(string)

	metadata := map[string]string{}
	if raw, ok := event.Payload["metadata"].(map[string]string); ok {
		metadata = raw
	}

	req := SpawnRequest{
		TaskID:      taskID,
		AgentID:     agentID,
		App:         app,
		Description: description,
		Metadata:    metadata,
		IssuedAt:    event.CreatedAt,
	}
	if err := b.client.PublishJSON(SubjectSpawnRequest, req); err != nil {
		log.Printf("[relay] publishing spawn request for task %s: %v", taskID, err)
	}
}

func (b *Bridge) handleHeartbeat(msg *Message) {
	var hb HeartbeatReport
	if err := json.Unmarshal(msg.Data, &hb); err != nil {
		log.Printf("[relay] invalid heartbeat: %v", err)
		return
	}
	b.bus.Publish(events.NewEvent(events.EventAgentUpdated, "relay", "all", events.PriorityLow,
		map[string]interface{}{
			"agentId":     hb.AgentID,
			"status":      hb.Status,
			"currentTask": hb.CurrentTask,
		}))
}

func (b *Bridge) handleOutput(msg *Message) {
	var out OutputReport
	if err := json.Unmarshal(msg.Data, &out); err != nil {
		log.Printf("[relay] invalid output report: %v", err)
		return
	}
	b.bus.Publish(events.NewEvent(events.EventAgentOutput, "relay", "all", events.PriorityLow,
		map[string]interface{}{
			"agentId": out.AgentID,
			"line":    out.Line,
		}))
}

func (b *Bridge) handleCompletion(msg *Message) {
	var rep CompletionReport
	if err := json.Unmarshal(msg.Data, &rep); err != nil {
		log.Printf("[relay] invalid completion report: %v", err)
		return
	}
	b.orch.CompleteAgent(rep.AgentID, rep.Success, rep.DurationMs, rep.Error, rep.ErrorCategory)
}
