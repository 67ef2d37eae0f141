// Package platform talks to the building-management platform: the device
// directory, telemetry, alarms and device commands.
package platform

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

var (
	// ErrDeviceNotFound is returned when a token or ID maps to no device.
	ErrDeviceNotFound = errors.New("device not found")
	// ErrAlarmNotFound is returned when an alarm ID is unknown.
	ErrAlarmNotFound = errors.New("alarm not found")
)

// Device statuses.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Device is a device summary from the directory.
type Device struct {
	ID           string    `json:"id" yaml:"id"`
	Name         string    `json:"name" yaml:"name"`
	Type         string    `json:"type" yaml:"type"`
	Label        string    `json:"label,omitempty" yaml:"label"`
	Active       bool      `json:"active" yaml:"active"`
	LastActivity time.Time `json:"last_activity,omitempty" yaml:"-"`
}

// Status returns "online" or "offline".
func (d Device) Status() string {
	if d.Active {
		return StatusOnline
	}
	return StatusOffline
}

// Alarm is an alarm raised against a device.
type Alarm struct {
	ID           string    `json:"id" yaml:"id"`
	Type         string    `json:"type" yaml:"type"`
	Severity     string    `json:"severity" yaml:"severity"`
	Status       string    `json:"status" yaml:"status"`
	Originator   string    `json:"originator" yaml:"-"`
	OriginatorID string    `json:"originator_id" yaml:"originator_id"`
	CreatedAt    time.Time `json:"created_at" yaml:"-"`
	Acknowledged bool      `json:"acknowledged" yaml:"acknowledged"`
	Cleared      bool      `json:"cleared" yaml:"cleared"`
}

// Active reports whether the alarm has not been cleared.
func (a Alarm) Active() bool { return !a.Cleared }

// Point is one telemetry sample. The platform reports values as strings.
type Point struct {
	Timestamp time.Time `json:"ts"`
	Value     string    `json:"value"`
}

// Window bounds a telemetry query. Zero times mean unbounded.
type Window struct {
	Start time.Time
	End   time.Time
	Limit int
}

// LastHours returns a window covering the hours before now.
func LastHours(now time.Time, hours int) Window {
	return Window{Start: now.Add(-time.Duration(hours) * time.Hour), End: now}
}

// DeviceFilter narrows ListDevices. Empty fields match everything.
type DeviceFilter struct {
	// NameGlob is a case-insensitive doublestar pattern, e.g. "*thermostat*".
	NameGlob string
	Type     string
}

// Matches reports whether d passes the filter.
func (f DeviceFilter) Matches(d Device) bool {
	if f.Type != "" && !strings.EqualFold(f.Type, d.Type) {
		return false
	}
	if f.NameGlob != "" {
		ok, err := doublestar.Match(strings.ToLower(f.NameGlob), strings.ToLower(d.Name))
		if err != nil || !ok {
			return false
		}
	}
	return true
}

// AlarmFilter narrows GetAlarms. Empty fields match everything.
type AlarmFilter struct {
	OriginatorID string
	Severity     string
	// ActiveOnly drops cleared alarms.
	ActiveOnly bool
	Since      time.Time
	Limit      int
}

// Matches reports whether a passes the filter.
func (f AlarmFilter) Matches(a Alarm) bool {
	if f.OriginatorID != "" && a.OriginatorID != f.OriginatorID {
		return false
	}
	if f.Severity != "" && !strings.EqualFold(f.Severity, a.Severity) {
		return false
	}
	if f.ActiveOnly && !a.Active() {
		return false
	}
	if !f.Since.IsZero() && a.CreatedAt.Before(f.Since) {
		return false
	}
	return true
}

// Directory lists and fetches devices.
type Directory interface {
	ListDevices(ctx context.Context, f DeviceFilter) ([]Device, error)
	GetDevice(ctx context.Context, id string) (Device, error)
}

// Telemetry reads time series. Series are returned newest first.
type Telemetry interface {
	GetTelemetry(ctx context.Context, deviceID string, keys []string, w Window) (map[string][]Point, error)
	TelemetryKeys(ctx context.Context, deviceID string) ([]string, error)
}

// Alarms reads and acknowledges alarms.
type Alarms interface {
	GetAlarms(ctx context.Context, f AlarmFilter) ([]Alarm, error)
	AcknowledgeAlarm(ctx context.Context, id string) error
}

// Controller sends RPC commands to devices.
type Controller interface {
	SendCommand(ctx context.Context, deviceID, method string, params any) (json.RawMessage, error)
}

// Client is the full platform surface.
type Client interface {
	Directory
	Telemetry
	Alarms
	Controller
}
