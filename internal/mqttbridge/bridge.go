package mqttbridge

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/lumina-control/backend/internal/access"
	"github.com/lumina-control/backend/internal/registry"
	"github.com/lumina-control/backend/internal/storage/models"
)

// Setter switches a lamp on behalf of an actor.
type Setter interface {
	SetState(ctx context.Context, actor access.Actor, lampID string, on bool) (models.Lamp, error)
}

// Bridge publishes retained lamp state and availability, and forwards
// "<prefix>/lamp/<id>/set" commands to the dispatcher. Registry events are
// queued and published from the bridge's own goroutine, so a slow or
// unreachable broker never holds up the writer that produced the event.
type Bridge struct {
	registry *registry.Registry
	setter   Setter
	actor    access.Actor

	mu  sync.RWMutex
	mgr Manager

	queueMu sync.Mutex
	queue   map[string]update
	order   []string
	wake    chan struct{}

	// published is owned by the run goroutine.
	published map[string]uint64

	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once

	wg sync.WaitGroup
}

// update is the latest state waiting to be published for one lamp.
type update struct {
	lamp    models.Lamp
	deleted bool
	// force republishes even if this version was already published.
	force bool
}

// deletedVersion marks a lamp whose topics were cleared; later events for it are ignored.
const deletedVersion = ^uint64(0)

// NewBridge creates a bridge and starts its publisher. Commands arriving over
// MQTT run as actor. Call Close to stop it.
func NewBridge(reg *registry.Registry, setter Setter, actor access.Actor) *Bridge {
	b := &Bridge{
		registry:  reg,
		setter:    setter,
		actor:     actor,
		queue:     make(map[string]update),
		wake:      make(chan struct{}, 1),
		published: make(map[string]uint64),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	go b.run()
	return b
}

// Attach binds the bridge to a connected manager, subscribes to commands and
// republishes every lamp. It is safe to call again after a reconnect.
func (b *Bridge) Attach(mgr Manager) error {
	b.mu.Lock()
	b.mgr = mgr
	b.mu.Unlock()

	topic := fmt.Sprintf("%s/lamp/+/set", mgr.TopicPrefix())
	if err := mgr.Subscribe(topic, 1, b.handleCommand); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}

	for _, l := range b.registry.Lamps() {
		b.enqueue(update{lamp: l, force: true})
	}
	log.Printf("MQTT bridge attached, listening on %s", topic)
	return nil
}

// Wait blocks until in-flight MQTT commands finish.
func (b *Bridge) Wait() {
	b.wg.Wait()
}

// Close stops the publisher. Queued updates that were not yet sent are dropped;
// the next Attach republishes everything.
func (b *Bridge) Close() {
	b.closeOnce.Do(func() { close(b.done) })
	<-b.stopped
}

// ControllerChanged implements registry.Listener. Lamp events already carry
// the availability that follows from a controller change.
func (b *Bridge) ControllerChanged(registry.ControllerEvent) {}

// LampChanged implements registry.Listener. It never blocks.
func (b *Bridge) LampChanged(ev registry.LampEvent) {
	if ev.Deleted || ev.StatusChanged() || ev.OnlineChanged() {
		b.enqueue(update{lamp: ev.Lamp, deleted: ev.Deleted})
	}
}

func (b *Bridge) manager() Manager {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.mgr
}

// enqueue keeps only the newest pending update per lamp.
func (b *Bridge) enqueue(u update) {
	id := u.lamp.ID
	b.queueMu.Lock()
	if cur, ok := b.queue[id]; ok {
		if cur.deleted || (!u.deleted && u.lamp.Version < cur.lamp.Version) {
			cur.force = cur.force || u.force
			b.queue[id] = cur
		} else {
			u.force = u.force || cur.force
			b.queue[id] = u
		}
	} else {
		b.queue[id] = u
		b.order = append(b.order, id)
	}
	b.queueMu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *Bridge) run() {
	defer close(b.stopped)
	for {
		select {
		case <-b.done:
			return
		case <-b.wake:
		}

		b.queueMu.Lock()
		batch := make([]update, 0, len(b.order))
		for _, id := range b.order {
			batch = append(batch, b.queue[id])
		}
		b.queue = make(map[string]update)
		b.order = nil
		b.queueMu.Unlock()

		for _, u := range batch {
			select {
			case <-b.done:
				return
			default:
			}
			b.publish(u)
		}
	}
}

// publish sends one update unless a newer version of the lamp is already out.
func (b *Bridge) publish(u update) {
	mgr := b.manager()
	if mgr == nil || !mgr.IsConnected() {
		return
	}
	id := u.lamp.ID
	last := b.published[id]
	if last == deletedVersion {
		return
	}

	if u.deleted {
		// empty retained payloads clear the topics
		mgr.Publish(stateTopic(mgr, id), 1, true, "")
		mgr.Publish(availabilityTopic(mgr, id), 1, true, "")
		b.published[id] = deletedVersion
		return
	}
	if u.lamp.Version < last || (u.lamp.Version == last && !u.force) {
		return
	}
	if b.publishLamp(mgr, u.lamp) {
		b.published[id] = u.lamp.Version
	}
}

func (b *Bridge) publishLamp(mgr Manager, l models.Lamp) bool {
	ok := true
	if err := mgr.Publish(stateTopic(mgr, l.ID), 1, true, stateString(l.Status)); err != nil {
		log.Printf("Failed to publish state for lamp %s: %v", l.ID, err)
		ok = false
	}
	avail := "offline"
	if l.IsOnline {
		avail = "online"
	}
	if err := mgr.Publish(availabilityTopic(mgr, l.ID), 1, true, avail); err != nil {
		log.Printf("Failed to publish availability for lamp %s: %v", l.ID, err)
		ok = false
	}
	return ok
}

func (b *Bridge) handleCommand(_ mqtt.Client, msg mqtt.Message) {
	if msg.Retained() {
		return
	}
	lampID, ok := lampIDFromTopic(msg.Topic())
	if !ok {
		log.Printf("Ignoring MQTT command on %s", msg.Topic())
		return
	}
	on, ok := parseCommand(string(msg.Payload()))
	if !ok {
		log.Printf("Ignoring MQTT command %q for lamp %s", msg.Payload(), lampID)
		return
	}

	// the dispatcher blocks on the device, so keep paho's router free
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		if _, err := b.setter.SetState(context.Background(), b.actor, lampID, on); err != nil {
			log.Printf("MQTT command for lamp %s failed: %v", lampID, err)
			// republish so subscribers see the real state again
			if l, ok := b.registry.Lamp(lampID); ok {
				b.enqueue(update{lamp: l, force: true})
			}
		}
	}()
}

func stateTopic(mgr Manager, lampID string) string {
	return fmt.Sprintf("%s/lamp/%s/state", mgr.TopicPrefix(), lampID)
}

func availabilityTopic(mgr Manager, lampID string) string {
	return fmt.Sprintf("%s/lamp/%s/availability", mgr.TopicPrefix(), lampID)
}

func lampIDFromTopic(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) < 4 || parts[len(parts)-1] != "set" || parts[len(parts)-3] != "lamp" {
		return "", false
	}
	id := parts[len(parts)-2]
	return id, id != ""
}

func parseCommand(payload string) (bool, bool) {
	switch strings.ToUpper(strings.TrimSpace(payload)) {
	case "ON", "1", "TRUE":
		return true, true
	case "OFF", "0", "FALSE":
		return false, true
	}
	return false, false
}

func stateString(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}
