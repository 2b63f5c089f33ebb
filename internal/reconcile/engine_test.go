package reconcile

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumina-control/backend/internal/device"
	"github.com/lumina-control/backend/internal/registry"
	"github.com/lumina-control/backend/internal/storage/models"
)

type fakeProber struct {
	mu      sync.Mutex
	results map[string]func(ctx context.Context) (*device.StatusReport, error)
	calls   map[string]int
}

func newFakeProber() *fakeProber {
	return &fakeProber{
		results: map[string]func(ctx context.Context) (*device.StatusReport, error){},
		calls:   map[string]int{},
	}
}

func (f *fakeProber) set(id string, fn func(ctx context.Context) (*device.StatusReport, error)) {
	f.mu.Lock()
	f.results[id] = fn
	f.mu.Unlock()
}

func (f *fakeProber) Status(ctx context.Context, ctrl models.Controller) (*device.StatusReport, error) {
	f.mu.Lock()
	fn := f.results[ctrl.ID]
	f.calls[ctrl.ID]++
	f.mu.Unlock()
	return fn(ctx)
}

func report(pins map[int]bool) func(context.Context) (*device.StatusReport, error) {
	return func(context.Context) (*device.StatusReport, error) {
		return &device.StatusReport{Pins: pins}, nil
	}
}

type fakeActivity struct {
	mu      sync.Mutex
	actions []string
}

func (f *fakeActivity) Record(_ context.Context, e models.ActivityEntry) {
	f.mu.Lock()
	f.actions = append(f.actions, e.Action)
	f.mu.Unlock()
}

func addController(t *testing.T, reg *registry.Registry, name, addr string, pins ...int) (models.Controller, []models.Lamp) {
	t.Helper()
	ctx := context.Background()
	ctrl, err := reg.AddController(ctx, models.Controller{Name: name, Address: addr, SharedSecret: "k"})
	require.NoError(t, err)
	var lamps []models.Lamp
	for _, pin := range pins {
		l, err := reg.AddLamp(ctx, models.Lamp{Name: name + "-lamp", Pin: pin, ControllerID: ctrl.ID})
		require.NoError(t, err)
		lamps = append(lamps, l)
	}
	return ctrl, lamps
}

func TestReachableControllerUpdatesLamps(t *testing.T) {
	reg := registry.New(nil)
	ctrl, lamps := addController(t, reg, "hall", "10.0.0.5", 2, 3)
	prober := newFakeProber()
	prober.set(ctrl.ID, report(map[int]bool{2: true}))

	e := New(reg, prober, nil, Config{})
	e.RunOnce(context.Background())

	got, _ := reg.Lamp(lamps[0].ID)
	assert.True(t, got.Status)
	assert.True(t, got.IsOnline)

	unreported, _ := reg.Lamp(lamps[1].ID)
	assert.False(t, unreported.Status)
	assert.True(t, unreported.IsOnline)

	c, _ := reg.Controller(ctrl.ID)
	assert.True(t, c.IsOnline)
	assert.Empty(t, c.LastError)
	assert.NotNil(t, c.LastSeen)
}

func TestTimeoutMarksOfflineKeepsStatus(t *testing.T) {
	reg := registry.New(nil)
	ctrl, lamps := addController(t, reg, "hall", "10.0.0.5", 2)
	prober := newFakeProber()
	prober.set(ctrl.ID, report(map[int]bool{2: true}))
	act := &fakeActivity{}

	e := New(reg, prober, act, Config{Timeout: 20 * time.Millisecond})
	e.RunOnce(context.Background())

	prober.set(ctrl.ID, func(ctx context.Context) (*device.StatusReport, error) {
		<-ctx.Done()
		return nil, device.ErrProbeTimeout
	})
	e.RunOnce(context.Background())

	got, _ := reg.Lamp(lamps[0].ID)
	assert.True(t, got.Status)
	assert.False(t, got.IsOnline)

	c, _ := reg.Controller(ctrl.ID)
	assert.False(t, c.IsOnline)
	assert.Equal(t, "timeout", c.LastError)
	assert.Equal(t, []string{"controller_online", "controller_offline"}, act.actions)
}

func TestMapPayloadTurnsLampOff(t *testing.T) {
	reg := registry.New(nil)
	ctrl, lamps := addController(t, reg, "hall", "10.0.0.5", 4)
	_, err := reg.Transact(context.Background(), lamps[0].ID, nil,
		func(l *models.Lamp, _ time.Time) { l.Status = true },
		func(context.Context, models.Lamp, models.Controller) error { return nil })
	require.NoError(t, err)

	report, err := device.DecodeStatus([]byte(`{"pins":{"4":"off"}}`))
	require.NoError(t, err)
	prober := newFakeProber()
	prober.set(ctrl.ID, func(context.Context) (*device.StatusReport, error) { return report, nil })

	New(reg, prober, nil, Config{}).RunOnce(context.Background())

	got, _ := reg.Lamp(lamps[0].ID)
	assert.False(t, got.Status)
}

func TestRunOnceIsIdempotent(t *testing.T) {
	reg := registry.New(nil)
	ctrl, lamps := addController(t, reg, "hall", "10.0.0.5", 2)
	prober := newFakeProber()
	prober.set(ctrl.ID, report(map[int]bool{2: true}))
	e := New(reg, prober, nil, Config{})

	e.RunOnce(context.Background())
	first, _ := reg.Lamp(lamps[0].ID)
	firstCtrl, _ := reg.Controller(ctrl.ID)

	e.RunOnce(context.Background())
	second, _ := reg.Lamp(lamps[0].ID)
	secondCtrl, _ := reg.Controller(ctrl.ID)

	assert.Equal(t, first.Version, second.Version)
	assert.Equal(t, first.UpdatedAt, second.UpdatedAt)
	assert.Equal(t, firstCtrl.Version, secondCtrl.Version)
}

func TestMalformedPayloadIsDistinguished(t *testing.T) {
	reg := registry.New(nil)
	ctrl, lamps := addController(t, reg, "hall", "10.0.0.5", 2)
	prober := newFakeProber()
	prober.set(ctrl.ID, func(context.Context) (*device.StatusReport, error) {
		return device.DecodeStatus([]byte(`{"relays":"yes"}`))
	})
	act := &fakeActivity{}

	New(reg, prober, act, Config{}).RunOnce(context.Background())

	c, _ := reg.Controller(ctrl.ID)
	assert.False(t, c.IsOnline)
	assert.True(t, strings.HasPrefix(c.LastError, "malformed status payload"))
	got, _ := reg.Lamp(lamps[0].ID)
	assert.False(t, got.IsOnline)
	assert.Equal(t, []string{"controller_error"}, act.actions)
}

func TestPlaceholderControllersAreSkipped(t *testing.T) {
	reg := registry.New(nil)
	ctrl, _ := addController(t, reg, "new", "0.0.0.0", 2)
	prober := newFakeProber()

	New(reg, prober, nil, Config{}).RunOnce(context.Background())
	assert.Zero(t, prober.calls[ctrl.ID])
}

func TestSlowControllerDoesNotBlockOthers(t *testing.T) {
	reg := registry.New(nil)
	slow, _ := addController(t, reg, "slow", "10.0.0.6", 2)
	fast, fastLamps := addController(t, reg, "fast", "10.0.0.7", 2)

	prober := newFakeProber()
	prober.set(slow.ID, func(ctx context.Context) (*device.StatusReport, error) {
		<-ctx.Done()
		return nil, device.ErrProbeTimeout
	})
	prober.set(fast.ID, report(map[int]bool{2: true}))

	e := New(reg, prober, nil, Config{Timeout: 200 * time.Millisecond, MaxConcurrent: 4})

	done := make(chan struct{})
	go func() {
		e.RunOnce(context.Background())
		close(done)
	}()

	require.Eventually(t, func() bool {
		l, _ := reg.Lamp(fastLamps[0].ID)
		return l.IsOnline && l.Status
	}, 150*time.Millisecond, 5*time.Millisecond, "fast controller reconciled while slow one hangs")

	<-done
	c, _ := reg.Controller(slow.ID)
	assert.False(t, c.IsOnline)
}

func TestProbeNow(t *testing.T) {
	reg := registry.New(nil)
	ctrl, _ := addController(t, reg, "hall", "10.0.0.5", 2)
	rssi := -48
	prober := newFakeProber()
	prober.set(ctrl.ID, func(context.Context) (*device.StatusReport, error) {
		return &device.StatusReport{Pins: map[int]bool{}, SignalStrength: &rssi}, nil
	})
	e := New(reg, prober, nil, Config{})

	got, err := e.ProbeNow(context.Background(), ctrl.ID)
	require.NoError(t, err)
	assert.True(t, got.IsOnline)
	require.NotNil(t, got.SignalStrength)
	assert.Equal(t, -48, *got.SignalStrength)

	_, err = e.ProbeNow(context.Background(), "missing")
	assert.ErrorIs(t, err, registry.ErrControllerNotFound)
}

func TestResultForOldAddressIsDropped(t *testing.T) {
	reg := registry.New(nil)
	ctrl, lamps := addController(t, reg, "hall", "10.0.0.5", 2)
	started := make(chan struct{})
	release := make(chan struct{})
	prober := newFakeProber()
	prober.set(ctrl.ID, func(context.Context) (*device.StatusReport, error) {
		close(started)
		<-release
		return &device.StatusReport{Pins: map[int]bool{2: true}}, nil
	})
	e := New(reg, prober, nil, Config{Timeout: 2 * time.Second})

	type result struct {
		ctrl models.Controller
		err  error
	}
	done := make(chan result, 1)
	go func() {
		got, err := e.ProbeNow(context.Background(), ctrl.ID)
		done <- result{got, err}
	}()
	<-started

	addr := "10.0.0.99"
	_, err := reg.UpdateController(context.Background(), ctrl.ID, registry.ControllerEdit{Address: &addr})
	require.NoError(t, err)
	close(release)

	res := <-done
	require.NoError(t, res.err)
	assert.False(t, res.ctrl.IsOnline)
	assert.Equal(t, "10.0.0.99", res.ctrl.Address)

	stored, _ := reg.Controller(ctrl.ID)
	assert.False(t, stored.IsOnline)
	lamp, _ := reg.Lamp(lamps[0].ID)
	assert.False(t, lamp.Status)
	assert.False(t, lamp.IsOnline)
}

func TestEngineAgainstHTTPController(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") != "k" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"status":"ok","relays":[{"pin":2,"state":true}]}`))
	}))
	defer srv.Close()

	reg := registry.New(nil)
	ctrl, lamps := addController(t, reg, "hall", strings.TrimPrefix(srv.URL, "http://"), 2)

	New(reg, device.NewClient(), nil, Config{}).RunOnce(context.Background())

	got, _ := reg.Lamp(lamps[0].ID)
	assert.True(t, got.Status)
	assert.True(t, got.IsOnline)

	secret := "wrong"
	_, err := reg.UpdateController(context.Background(), ctrl.ID, registry.ControllerEdit{SharedSecret: &secret})
	require.NoError(t, err)
	New(reg, device.NewClient(), nil, Config{}).RunOnce(context.Background())

	c, _ := reg.Controller(ctrl.ID)
	assert.False(t, c.IsOnline)
	assert.Contains(t, c.LastError, "HTTP 401")
	got, _ = reg.Lamp(lamps[0].ID)
	assert.True(t, got.Status, "status survives a failed probe")
}

func TestStartStop(t *testing.T) {
	reg := registry.New(nil)
	ctrl, lamps := addController(t, reg, "hall", "10.0.0.5", 2)
	prober := newFakeProber()
	prober.set(ctrl.ID, report(map[int]bool{2: true}))

	e := New(reg, prober, nil, Config{Interval: time.Second})
	require.NoError(t, e.Start())
	defer e.Stop()

	require.Eventually(t, func() bool {
		l, _ := reg.Lamp(lamps[0].ID)
		return l.Status
	}, 2*time.Second, 10*time.Millisecond)
}
