package device

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// StatusReport is the decoded answer of a controller status probe.
type StatusReport struct {
	// Pins holds the state of every pin the controller reported.
	Pins map[int]bool
	// All is set by legacy single-relay firmware that reports one state for the board.
	All *bool
	// SignalStrength is the Wi-Fi RSSI in dBm, when reported.
	SignalStrength *int
	// Uptime is the board uptime in seconds, when reported.
	Uptime *int64
}

// Reported returns the state for pin and whether the report covers it.
func (r *StatusReport) Reported(pin int) (bool, bool) {
	if on, ok := r.Pins[pin]; ok {
		return on, true
	}
	if r.All != nil {
		return *r.All, true
	}
	return false, false
}

type statusPayload struct {
	Status json.RawMessage `json:"status"`
	RSSI   *float64        `json:"rssi"`
	Uptime *float64        `json:"uptime"`
	Relays json.RawMessage `json:"relays"`
	Pins   json.RawMessage `json:"pins"`
}

type relayEntry struct {
	Pin   json.RawMessage `json:"pin"`
	State json.RawMessage `json:"state"`
}

// DecodeStatus parses a status body. The array form (relays) is tried first,
// then the map form (pins), then the legacy single "status":"on|off" form.
// A body that is valid JSON but carries no pin information yields an empty report.
func DecodeStatus(body []byte) (*StatusReport, error) {
	var p statusPayload
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProbeMalformed, err)
	}

	report := &StatusReport{Pins: map[int]bool{}}
	if p.RSSI != nil {
		v := int(*p.RSSI)
		report.SignalStrength = &v
	}
	if p.Uptime != nil {
		v := int64(*p.Uptime)
		report.Uptime = &v
	}

	switch {
	case present(p.Relays):
		var entries []relayEntry
		if err := json.Unmarshal(p.Relays, &entries); err != nil {
			return nil, fmt.Errorf("%w: relays is not a list: %v", ErrProbeMalformed, err)
		}
		for i, e := range entries {
			pin, err := parsePin(e.Pin)
			if err != nil {
				return nil, fmt.Errorf("%w: relays[%d]: %v", ErrProbeMalformed, i, err)
			}
			on, err := parseState(e.State)
			if err != nil {
				return nil, fmt.Errorf("%w: relays[%d]: %v", ErrProbeMalformed, i, err)
			}
			report.Pins[pin] = on
		}
	case present(p.Pins):
		var states map[string]json.RawMessage
		if err := json.Unmarshal(p.Pins, &states); err != nil {
			return nil, fmt.Errorf("%w: pins is not an object: %v", ErrProbeMalformed, err)
		}
		for key, raw := range states {
			pin, err := strconv.Atoi(strings.TrimSpace(key))
			if err != nil {
				return nil, fmt.Errorf("%w: pin key %q is not a number", ErrProbeMalformed, key)
			}
			on, err := parseState(raw)
			if err != nil {
				return nil, fmt.Errorf("%w: pins[%q]: %v", ErrProbeMalformed, key, err)
			}
			report.Pins[pin] = on
		}
	case present(p.Status):
		var s string
		if err := json.Unmarshal(p.Status, &s); err == nil {
			switch strings.ToLower(s) {
			case "on":
				on := true
				report.All = &on
			case "off":
				off := false
				report.All = &off
			}
		}
	}

	return report, nil
}

func present(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}

func parsePin(raw json.RawMessage) (int, error) {
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, fmt.Errorf("pin %s is not a number", string(raw))
	}
	pin, err := strconv.Atoi(n.String())
	if err != nil {
		return 0, fmt.Errorf("pin %s is not an integer", n)
	}
	return pin, nil
}

// parseState accepts a JSON boolean or the strings "on"/"off".
func parseState(raw json.RawMessage) (bool, error) {
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return false, fmt.Errorf("state %s is neither boolean nor string", string(raw))
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on":
		return true, nil
	case "off":
		return false, nil
	}
	return false, fmt.Errorf("unknown state %q", s)
}
