package schedule

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumina-control/backend/internal/access"
	"github.com/lumina-control/backend/internal/dispatch"
	"github.com/lumina-control/backend/internal/registry"
	"github.com/lumina-control/backend/internal/storage/models"
	"github.com/lumina-control/backend/internal/usage"
)

type countingCommander struct {
	mu    sync.Mutex
	calls []bool
}

func (c *countingCommander) Toggle(_ context.Context, _ models.Controller, _ int, on bool) error {
	c.mu.Lock()
	c.calls = append(c.calls, on)
	c.mu.Unlock()
	return nil
}

func (c *countingCommander) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func at(hhmm string) time.Time {
	t, _ := time.ParseInLocation("2006-01-02 15:04", "2026-06-01 "+hhmm, time.UTC)
	return t
}

type fixture struct {
	reg   *registry.Registry
	disp  *dispatch.Dispatcher
	cmd   *countingCommander
	sched *Scheduler
	ctrl  models.Controller
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := registry.New(nil)
	ctrl, err := reg.AddController(context.Background(), models.Controller{Name: "Hall", Address: "10.0.0.5"})
	require.NoError(t, err)
	cmd := &countingCommander{}
	disp := dispatch.New(reg, cmd, nil, time.Second)
	return &fixture{
		reg:   reg,
		disp:  disp,
		cmd:   cmd,
		sched: New(reg, disp, usage.New(reg), time.UTC),
		ctrl:  ctrl,
	}
}

func (f *fixture) lamp(t *testing.T, pin int, schedules ...models.Schedule) models.Lamp {
	t.Helper()
	l, err := f.reg.AddLamp(context.Background(), models.Lamp{Name: "Lamp", Pin: pin, ControllerID: f.ctrl.ID, Schedules: schedules})
	require.NoError(t, err)
	return l
}

func TestMorningScheduleFiresOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lamp := f.lamp(t, 2, models.Schedule{ID: "s1", Time: "08:00", Action: "on", Enabled: true})

	res := f.sched.Tick(ctx, at("08:00"))
	assert.Equal(t, []string{"s1"}, res.Fired)
	got, _ := f.reg.Lamp(lamp.ID)
	assert.True(t, got.Status)
	require.NotNil(t, got.LastTurnedOn)
	f.disp.Wait()
	assert.Equal(t, 1, f.cmd.count())

	res = f.sched.Tick(ctx, at("08:00"))
	assert.Empty(t, res.Fired)
	f.disp.Wait()
	assert.Equal(t, 1, f.cmd.count(), "second tick in the same minute is a no-op")
}

func TestLockedLampIsIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lamp := f.lamp(t, 2, models.Schedule{ID: "s1", Time: "08:00", Action: "on", Enabled: true})
	_, err := f.reg.SetLocked(ctx, lamp.ID, true)
	require.NoError(t, err)

	res := f.sched.Tick(ctx, at("08:00"))
	assert.Empty(t, res.Fired)
	got, _ := f.reg.Lamp(lamp.ID)
	assert.False(t, got.Status)
	f.disp.Wait()
	assert.Zero(t, f.cmd.count())
}

func TestNonMatchingAndDisabledSchedules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lamp := f.lamp(t, 2,
		models.Schedule{ID: "s1", Time: "08:00", Action: "on", Enabled: false},
		models.Schedule{ID: "s2", Time: "09:00", Action: "on", Enabled: true},
	)

	res := f.sched.Tick(ctx, at("08:00"))
	assert.Empty(t, res.Fired)
	got, _ := f.reg.Lamp(lamp.ID)
	assert.False(t, got.Status)
}

func TestFirstStateChangingScheduleWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lamp := f.lamp(t, 2,
		models.Schedule{ID: "already-off", Time: "22:00", Action: "off", Enabled: true},
		models.Schedule{ID: "on", Time: "22:00", Action: "on", Enabled: true},
		models.Schedule{ID: "off-again", Time: "22:00", Action: "off", Enabled: true},
	)

	res := f.sched.Tick(ctx, at("22:00"))
	assert.Equal(t, []string{"on"}, res.Fired)
	got, _ := f.reg.Lamp(lamp.ID)
	assert.True(t, got.Status)
	f.disp.Wait()
	assert.Equal(t, []bool{true}, f.cmd.calls)
}

func TestUsageCreditedBeforeSchedules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lamp := f.lamp(t, 2, models.Schedule{ID: "off", Time: "23:00", Action: "off", Enabled: true})
	_, err := f.disp.SetState(ctx, access.System, lamp.ID, true)
	require.NoError(t, err)

	res := f.sched.Tick(ctx, at("23:00"))
	assert.Equal(t, 1, res.Credited)
	got, _ := f.reg.Lamp(lamp.ID)
	assert.False(t, got.Status)
	assert.InDelta(t, usage.HoursPerTick, got.TotalOnHours, 1e-9, "the minute before switching off still counts")

	// and a lamp switched on by a schedule is not credited in that same tick
	on := f.lamp(t, 3, models.Schedule{ID: "on", Time: "06:00", Action: "on", Enabled: true})
	f.sched.Tick(ctx, at("06:00"))
	got, _ = f.reg.Lamp(on.ID)
	assert.True(t, got.Status)
	assert.Zero(t, got.TotalOnHours)
	f.disp.Wait()
}

type orphanStore struct{}

func (orphanStore) LoadControllers(context.Context) ([]models.Controller, error) { return nil, nil }
func (orphanStore) SaveControllers(context.Context, []models.Controller) error   { return nil }
func (orphanStore) LoadLamps(context.Context) ([]models.Lamp, error) {
	return []models.Lamp{{
		ID: "orphan", Name: "Orphan", Pin: 2, ControllerID: "gone",
		Schedules: []models.Schedule{{ID: "s1", Time: "08:00", Action: "on", Enabled: true}},
	}}, nil
}
func (orphanStore) SaveLamps(context.Context, []models.Lamp) error { return nil }

func TestOrphanLampsAreSkipped(t *testing.T) {
	reg := registry.New(orphanStore{})
	require.NoError(t, reg.Load(context.Background()))
	cmd := &countingCommander{}
	disp := dispatch.New(reg, cmd, nil, time.Second)

	res := New(reg, disp, nil, time.UTC).Tick(context.Background(), at("08:00"))
	assert.Empty(t, res.Fired)
	got, _ := reg.Lamp("orphan")
	assert.False(t, got.Status)
	disp.Wait()
	assert.Zero(t, cmd.count())
}

func TestTickUsesConfiguredLocation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	loc := time.FixedZone("UTC+2", 2*60*60)
	f.sched = New(f.reg, f.disp, nil, loc)
	lamp := f.lamp(t, 2, models.Schedule{ID: "s1", Time: "10:00", Action: "on", Enabled: true})

	f.sched.Tick(ctx, at("08:00"))
	got, _ := f.reg.Lamp(lamp.ID)
	assert.True(t, got.Status, "08:00 UTC is 10:00 in UTC+2")
	f.disp.Wait()
}
