package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeStatus(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantPins map[int]bool
		wantAll  *bool
	}{
		{
			name:     "relays array with booleans",
			body:     `{"relays":[{"pin":2,"state":true},{"pin":4,"state":false}]}`,
			wantPins: map[int]bool{2: true, 4: false},
		},
		{
			name:     "relays array with on/off strings",
			body:     `{"relays":[{"pin":5,"state":"ON"}]}`,
			wantPins: map[int]bool{5: true},
		},
		{
			name:     "pins map",
			body:     `{"status":"ok","rssi":-70,"pins":{"4":"off","12":"on"}}`,
			wantPins: map[int]bool{4: false, 12: true},
		},
		{
			name:     "relays wins over pins",
			body:     `{"relays":[{"pin":2,"state":false}],"pins":{"2":"on"}}`,
			wantPins: map[int]bool{2: false},
		},
		{
			name:     "legacy single relay",
			body:     `{"status":"on"}`,
			wantPins: map[int]bool{},
			wantAll:  boolPtr(true),
		},
		{
			name:     "no pin information",
			body:     `{"status":"ok","uptime":120}`,
			wantPins: map[int]bool{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report, err := DecodeStatus([]byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.wantPins, report.Pins)
			assert.Equal(t, tt.wantAll, report.All)
		})
	}
}

func TestDecodeStatusDiagnostics(t *testing.T) {
	report, err := DecodeStatus([]byte(`{"status":"ok","rssi":-58,"uptime":86400,"pins":{}}`))
	require.NoError(t, err)
	require.NotNil(t, report.SignalStrength)
	assert.Equal(t, -58, *report.SignalStrength)
	require.NotNil(t, report.Uptime)
	assert.Equal(t, int64(86400), *report.Uptime)
}

func TestDecodeStatusMalformed(t *testing.T) {
	bodies := []string{
		`not json`,
		`[1,2,3]`,
		`{"relays":{"pin":2}}`,
		`{"relays":[{"pin":"two","state":true}]}`,
		`{"relays":[{"pin":2,"state":"maybe"}]}`,
		`{"pins":["on"]}`,
		`{"pins":{"x":"on"}}`,
		`{"pins":{"2":1}}`,
	}
	for _, body := range bodies {
		_, err := DecodeStatus([]byte(body))
		assert.ErrorIs(t, err, ErrProbeMalformed, body)
	}
}

func TestStatusReportReported(t *testing.T) {
	report := &StatusReport{Pins: map[int]bool{2: true}}
	on, ok := report.Reported(2)
	assert.True(t, ok)
	assert.True(t, on)
	_, ok = report.Reported(3)
	assert.False(t, ok)

	legacy := &StatusReport{Pins: map[int]bool{}, All: boolPtr(false)}
	on, ok = legacy.Reported(7)
	assert.True(t, ok)
	assert.False(t, on)
}

func boolPtr(b bool) *bool { return &b }
