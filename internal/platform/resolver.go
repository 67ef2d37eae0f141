package platform

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/ziadkadry99/bms-assistant/internal/entity"
)

// Resolver maps a raw device token, as typed by a user, to a device.
type Resolver struct {
	dir Directory
}

// NewResolver creates a resolver over dir.
func NewResolver(dir Directory) *Resolver {
	return &Resolver{dir: dir}
}

var roomNumberRe = regexp.MustCompile(`(?i)room\s*(?:no\.?)?\s*(\d+)`)

// Resolve returns the device token refers to. Canonical IDs are fetched
// directly. Anything else is matched against the directory in stages:
// exact ID or name, normalized name, substring in either direction, then
// room number. The first stage with a match wins and ties go to the
// alphabetically first name. ErrDeviceNotFound is returned when nothing
// matches.
func (r *Resolver) Resolve(ctx context.Context, token string) (Device, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Device{}, ErrDeviceNotFound
	}

	if entity.IsCanonicalID(token) {
		d, err := r.dir.GetDevice(ctx, token)
		if err != nil {
			if errors.Is(err, ErrDeviceNotFound) {
				return Device{}, ErrDeviceNotFound
			}
			return Device{}, fmt.Errorf("fetching device %s: %w", token, err)
		}
		return d, nil
	}

	devices, err := r.dir.ListDevices(ctx, DeviceFilter{})
	if err != nil {
		return Device{}, fmt.Errorf("listing devices: %w", err)
	}
	if d, ok := Match(token, devices); ok {
		return d, nil
	}
	return Device{}, ErrDeviceNotFound
}

// Match runs the name-matching stages of Resolve over devices.
func Match(token string, devices []Device) (Device, bool) {
	lower := strings.ToLower(strings.TrimSpace(token))
	if lower == "" {
		return Device{}, false
	}
	norm := entity.NormalizeLocation(token)

	stages := []func(Device) bool{
		func(d Device) bool {
			return strings.ToLower(d.ID) == lower || strings.ToLower(d.Name) == lower
		},
		func(d Device) bool {
			return norm != "" && entity.NormalizeLocation(d.Name) == norm
		},
		func(d Device) bool {
			name := strings.ToLower(d.Name)
			return strings.Contains(name, lower) || strings.Contains(lower, name)
		},
		func(d Device) bool {
			if norm == "" {
				return false
			}
			dn := entity.NormalizeLocation(d.Name)
			return dn != "" && (strings.Contains(dn, norm) || strings.Contains(norm, dn))
		},
	}
	if m := roomNumberRe.FindStringSubmatch(token); m != nil {
		numRe := regexp.MustCompile(`\b` + m[1] + `\b`)
		stages = append(stages, func(d Device) bool {
			return numRe.MatchString(d.Name)
		})
	}

	for _, stage := range stages {
		var hits []Device
		for _, d := range devices {
			if d.Name != "" && stage(d) {
				hits = append(hits, d)
			}
		}
		if len(hits) > 0 {
			sort.SliceStable(hits, func(i, j int) bool { return hits[i].Name < hits[j].Name })
			return hits[0], true
		}
	}
	return Device{}, false
}
