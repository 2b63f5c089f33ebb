package mqttbridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumina-control/backend/internal/access"
	"github.com/lumina-control/backend/internal/registry"
	"github.com/lumina-control/backend/internal/storage/models"
)

type fakeManager struct {
	mu        sync.Mutex
	published map[string]string
	handlers  map[string]mqtt.MessageHandler
}

func newFakeManager() *fakeManager {
	return &fakeManager{published: map[string]string{}, handlers: map[string]mqtt.MessageHandler{}}
}

func (f *fakeManager) Publish(topic string, _ byte, _ bool, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published[topic] = payload.(string)
	return nil
}

func (f *fakeManager) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = handler
	return nil
}

func (f *fakeManager) IsConnected() bool         { return true }
func (f *fakeManager) TopicPrefix() string       { return "lumina" }
func (f *fakeManager) AvailabilityTopic() string { return "lumina/status" }

func (f *fakeManager) get(topic string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.published[topic]
}

type fakeMessage struct {
	topic    string
	payload  string
	retained bool
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return m.retained }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return []byte(m.payload) }
func (m fakeMessage) Ack()              {}

type fakeSetter struct {
	mu    sync.Mutex
	err   error
	calls []string
}

func (f *fakeSetter) SetState(_ context.Context, actor access.Actor, lampID string, on bool) (models.Lamp, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, lampID+":"+models.StateString(on)+":"+actor.ID)
	return models.Lamp{}, f.err
}

func setup(t *testing.T) (*Bridge, *registry.Registry, *fakeManager, *fakeSetter, models.Lamp) {
	t.Helper()
	reg := registry.New(nil)
	ctx := context.Background()
	ctrl, err := reg.AddController(ctx, models.Controller{Name: "Hall"})
	require.NoError(t, err)
	lamp, err := reg.AddLamp(ctx, models.Lamp{ID: "porch", Name: "Porch", Pin: 2, ControllerID: ctrl.ID})
	require.NoError(t, err)

	setter := &fakeSetter{}
	b := NewBridge(reg, setter, access.Actor{ID: "mqtt", Role: access.RoleSuperAdmin})
	t.Cleanup(b.Close)
	mgr := newFakeManager()
	require.NoError(t, b.Attach(mgr))
	reg.Subscribe(b)
	waitFor(t, mgr, "lumina/lamp/porch/state", "OFF")
	return b, reg, mgr, setter, lamp
}

func waitFor(t *testing.T, mgr *fakeManager, topic, want string) {
	t.Helper()
	require.Eventually(t, func() bool { return mgr.get(topic) == want },
		time.Second, 5*time.Millisecond, "%s never became %q", topic, want)
}

func TestAttachPublishesRetainedState(t *testing.T) {
	_, _, mgr, _, _ := setup(t)
	waitFor(t, mgr, "lumina/lamp/porch/availability", "offline")
	assert.Contains(t, mgr.handlers, "lumina/lamp/+/set")
}

func TestLampChangesArePublished(t *testing.T) {
	_, reg, mgr, _, lamp := setup(t)
	_, err := reg.Transact(context.Background(), lamp.ID, nil,
		func(l *models.Lamp, _ time.Time) { l.Status = true },
		func(context.Context, models.Lamp, models.Controller) error { return nil })
	require.NoError(t, err)
	waitFor(t, mgr, "lumina/lamp/porch/state", "ON")

	require.NoError(t, reg.DeleteLamp(context.Background(), lamp.ID))
	waitFor(t, mgr, "lumina/lamp/porch/state", "")
}

func TestOlderEventsDoNotOverwriteNewerState(t *testing.T) {
	b, _, mgr, _, lamp := setup(t)

	newer := lamp.Clone()
	newer.Status = true
	newer.Version = lamp.Version + 2
	b.LampChanged(registry.LampEvent{Lamp: newer, Previous: &lamp, Cause: registry.CauseCommand})
	waitFor(t, mgr, "lumina/lamp/porch/state", "ON")

	older := lamp.Clone()
	older.Version = lamp.Version + 1
	b.LampChanged(registry.LampEvent{Lamp: older, Previous: &newer, Cause: registry.CauseProbe})

	// a later event on another lamp shows the queue has moved past the older one
	other := models.Lamp{ID: "garage", Version: 1}
	b.LampChanged(registry.LampEvent{Lamp: other, Cause: registry.CauseAdmin})
	waitFor(t, mgr, "lumina/lamp/garage/state", "OFF")

	assert.Equal(t, "ON", mgr.get("lumina/lamp/porch/state"))
}

type stalledManager struct {
	*fakeManager
	release chan struct{}
}

func (m *stalledManager) Publish(topic string, qos byte, retained bool, payload any) error {
	<-m.release
	return m.fakeManager.Publish(topic, qos, retained, payload)
}

func TestStalledBrokerDoesNotBlockRegistryWrites(t *testing.T) {
	reg := registry.New(nil)
	ctx := context.Background()
	ctrl, err := reg.AddController(ctx, models.Controller{Name: "Hall", Address: "10.0.0.5"})
	require.NoError(t, err)
	_, err = reg.AddLamp(ctx, models.Lamp{ID: "porch", Name: "Porch", Pin: 2, ControllerID: ctrl.ID})
	require.NoError(t, err)

	b := NewBridge(reg, &fakeSetter{}, access.Actor{ID: "mqtt", Role: access.RoleSuperAdmin})
	t.Cleanup(b.Close)
	mgr := &stalledManager{fakeManager: newFakeManager(), release: make(chan struct{})}
	t.Cleanup(func() { close(mgr.release) })
	require.NoError(t, b.Attach(mgr))
	reg.Subscribe(b)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 3; i++ {
			_, _, err := reg.ApplyObservation(ctx, ctrl.ID, registry.Observation{Mark: reg.StatusMark()})
			assert.NoError(t, err)
			_, _, err = reg.ApplyObservation(ctx, ctrl.ID, registry.Observation{Err: errors.New("timeout")})
			assert.NoError(t, err)
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("registry writes blocked behind the broker")
	}
}

func TestCommandsAreForwarded(t *testing.T) {
	b, _, mgr, setter, _ := setup(t)
	handler := mgr.handlers["lumina/lamp/+/set"]

	handler(nil, fakeMessage{topic: "lumina/lamp/porch/set", payload: "on"})
	handler(nil, fakeMessage{topic: "lumina/lamp/porch/set", payload: "ON", retained: true})
	handler(nil, fakeMessage{topic: "lumina/lamp/porch/set", payload: "toggle"})
	handler(nil, fakeMessage{topic: "lumina/other/porch/set", payload: "OFF"})
	b.Wait()

	assert.Equal(t, []string{"porch:on:mqtt"}, setter.calls)
}

func TestFailedCommandRepublishesState(t *testing.T) {
	b, _, mgr, setter, _ := setup(t)
	setter.err = errors.New("connection to controller failed")
	mgr.Publish("lumina/lamp/porch/state", 1, true, "ON")

	mgr.handlers["lumina/lamp/+/set"](nil, fakeMessage{topic: "lumina/lamp/porch/set", payload: "ON"})
	b.Wait()

	waitFor(t, mgr, "lumina/lamp/porch/state", "OFF")
}

func TestLampIDFromTopic(t *testing.T) {
	id, ok := lampIDFromTopic("home/lumina/lamp/abc-123/set")
	assert.True(t, ok)
	assert.Equal(t, "abc-123", id)

	_, ok = lampIDFromTopic("lumina/lamp/abc/state")
	assert.False(t, ok)
}
