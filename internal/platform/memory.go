package platform

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed fixtures/demo.yaml
var demoFixture []byte

// fixture is the on-disk shape of a Memory platform. Times are relative to
// load time so a demo never looks stale.
type fixture struct {
	Devices []struct {
		Device       `yaml:",inline"`
		LastSeenAgo  time.Duration       `yaml:"last_seen_ago"`
		Interval     time.Duration       `yaml:"interval"`
		Telemetry    map[string][]string `yaml:"telemetry"`
		Unresponsive bool                `yaml:"unresponsive"`
	} `yaml:"devices"`
	Alarms []struct {
		Alarm `yaml:",inline"`
		Age   time.Duration `yaml:"age"`
	} `yaml:"alarms"`
}

// Command is an RPC call recorded by Memory.
type Command struct {
	DeviceID string
	Method   string
	Params   any
	SentAt   time.Time
}

// Memory is an in-process platform loaded from a YAML fixture. It backs
// demo mode and tests.
type Memory struct {
	mu           sync.Mutex
	devices      []Device
	telemetry    map[string]map[string][]Point
	alarms       []Alarm
	commands     []Command
	unresponsive map[string]bool
	failWith     error
	now          func() time.Time
}

// NewMemory returns an empty in-memory platform.
func NewMemory() *Memory {
	return &Memory{
		telemetry:    make(map[string]map[string][]Point),
		unresponsive: make(map[string]bool),
		now:          time.Now,
	}
}

// LoadDemo returns a Memory populated with the built-in demo building.
func LoadDemo() (*Memory, error) {
	return LoadFixture(demoFixture, time.Now())
}

// LoadFixtureFile reads a fixture from path.
func LoadFixtureFile(path string) (*Memory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading fixture: %w", err)
	}
	return LoadFixture(data, time.Now())
}

// LoadFixture parses a YAML fixture. Relative times are resolved against now.
func LoadFixture(data []byte, now time.Time) (*Memory, error) {
	var fx fixture
	if err := yaml.Unmarshal(data, &fx); err != nil {
		return nil, fmt.Errorf("parsing fixture: %w", err)
	}

	m := NewMemory()
	names := make(map[string]string)
	for _, fd := range fx.Devices {
		d := fd.Device
		if d.ID == "" {
			return nil, fmt.Errorf("fixture device %q has no id", d.Name)
		}
		d.LastActivity = now.Add(-fd.LastSeenAgo)
		m.devices = append(m.devices, d)
		names[d.ID] = d.Name

		interval := fd.Interval
		if interval <= 0 {
			interval = 5 * time.Minute
		}
		series := make(map[string][]Point, len(fd.Telemetry))
		for key, vals := range fd.Telemetry {
			pts := make([]Point, len(vals))
			for i, v := range vals {
				pts[i] = Point{Timestamp: d.LastActivity.Add(-time.Duration(i) * interval), Value: v}
			}
			series[key] = pts
		}
		m.telemetry[d.ID] = series
		if fd.Unresponsive {
			m.unresponsive[d.ID] = true
		}
	}
	for _, fa := range fx.Alarms {
		a := fa.Alarm
		a.CreatedAt = now.Add(-fa.Age)
		a.Originator = names[a.OriginatorID]
		if a.Status == "" {
			a.Status = "ACTIVE_UNACK"
		}
		m.alarms = append(m.alarms, a)
	}
	sort.SliceStable(m.alarms, func(i, j int) bool { return m.alarms[i].CreatedAt.After(m.alarms[j].CreatedAt) })
	return m, nil
}

// AddDevice adds d with the given telemetry, newest point first.
func (m *Memory) AddDevice(d Device, telemetry map[string][]Point) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices = append(m.devices, d)
	if telemetry == nil {
		telemetry = map[string][]Point{}
	}
	m.telemetry[d.ID] = telemetry
}

// AddAlarm adds an alarm.
func (m *Memory) AddAlarm(a Alarm) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alarms = append(m.alarms, a)
}

// FailWith makes every call return err until it is called with nil.
func (m *Memory) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith = err
}

// Commands returns the RPC calls sent so far.
func (m *Memory) Commands() []Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Command(nil), m.commands...)
}

// ListDevices returns matching devices in fixture order.
func (m *Memory) ListDevices(ctx context.Context, f DeviceFilter) ([]Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	var out []Device
	for _, d := range m.devices {
		if f.Matches(d) {
			out = append(out, d)
		}
	}
	return out, nil
}

// GetDevice returns the device with id.
func (m *Memory) GetDevice(ctx context.Context, id string) (Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return Device{}, m.failWith
	}
	for _, d := range m.devices {
		if d.ID == id {
			return d, nil
		}
	}
	return Device{}, ErrDeviceNotFound
}

// GetTelemetry returns the requested series inside w, newest first.
func (m *Memory) GetTelemetry(ctx context.Context, deviceID string, keys []string, w Window) (map[string][]Point, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	series, ok := m.telemetry[deviceID]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	out := make(map[string][]Point)
	for _, k := range keys {
		pts, ok := series[k]
		if !ok {
			continue
		}
		var kept []Point
		for _, p := range pts {
			if !w.Start.IsZero() && p.Timestamp.Before(w.Start) {
				continue
			}
			if !w.End.IsZero() && p.Timestamp.After(w.End) {
				continue
			}
			kept = append(kept, p)
			if w.Limit > 0 && len(kept) == w.Limit {
				break
			}
		}
		out[k] = kept
	}
	return out, nil
}

// TelemetryKeys returns the device's series names, sorted.
func (m *Memory) TelemetryKeys(ctx context.Context, deviceID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	series, ok := m.telemetry[deviceID]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	keys := make([]string, 0, len(series))
	for k := range series {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// GetAlarms returns matching alarms, newest first.
func (m *Memory) GetAlarms(ctx context.Context, f AlarmFilter) ([]Alarm, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	var out []Alarm
	for _, a := range m.alarms {
		if !f.Matches(a) {
			continue
		}
		out = append(out, a)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

// AcknowledgeAlarm marks an alarm acknowledged.
func (m *Memory) AcknowledgeAlarm(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	for i := range m.alarms {
		if m.alarms[i].ID == id {
			m.alarms[i].Acknowledged = true
			if m.alarms[i].Cleared {
				m.alarms[i].Status = "CLEARED_ACK"
			} else {
				m.alarms[i].Status = "ACTIVE_ACK"
			}
			return nil
		}
	}
	return ErrAlarmNotFound
}

// SendCommand records the call. Devices marked unresponsive time out.
func (m *Memory) SendCommand(ctx context.Context, deviceID, method string, params any) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	found := false
	for _, d := range m.devices {
		if d.ID == deviceID {
			found = true
			break
		}
	}
	if !found {
		return nil, ErrDeviceNotFound
	}
	if m.unresponsive[deviceID] {
		return nil, &StatusError{Method: "POST", Path: "/plugins/rpc/twoway/" + deviceID, Code: 408, Body: "device did not respond"}
	}
	m.commands = append(m.commands, Command{DeviceID: deviceID, Method: method, Params: params, SentAt: m.now()})
	return json.RawMessage(`{"status":"ok","seq":` + strconv.Itoa(len(m.commands)) + `}`), nil
}
