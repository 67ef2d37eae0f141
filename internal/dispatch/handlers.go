package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ziadkadry99/bms-assistant/internal/entity"
	"github.com/ziadkadry99/bms-assistant/internal/intent"
	"github.com/ziadkadry99/bms-assistant/internal/knowledge"
	"github.com/ziadkadry99/bms-assistant/internal/llm"
	"github.com/ziadkadry99/bms-assistant/internal/platform"
)

// maxConcurrentFetches bounds per-device fan-out against the platform.
const maxConcurrentFetches = 8

// Deps are the collaborators handlers call.
type Deps struct {
	Platform platform.Client
	// LLM is optional. Without it the fallback replies with canned help
	// and alarm summaries are built deterministically.
	LLM llm.Provider
	// Knowledge is optional. Without it root-cause questions are declined.
	Knowledge *knowledge.Base
	Extractor *entity.Extractor
	Logger    *zap.Logger
	Now       func() time.Time
}

// Handlers implements one method per intent.
type Handlers struct {
	platform  platform.Client
	resolver  *platform.Resolver
	llm       llm.Provider
	knowledge *knowledge.Base
	extractor *entity.Extractor
	logger    *zap.Logger
	now       func() time.Time
}

// NewHandlers creates the handler set. Platform is required.
func NewHandlers(d Deps) *Handlers {
	h := &Handlers{
		platform:  d.Platform,
		resolver:  platform.NewResolver(d.Platform),
		llm:       d.LLM,
		knowledge: d.Knowledge,
		extractor: d.Extractor,
		logger:    d.Logger,
		now:       d.Now,
	}
	if h.extractor == nil {
		h.extractor = entity.NewExtractor()
	}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h
}

// deviceReference picks the device a turn is about: the explicit request
// device, then the text, then the last device the session touched.
func deviceReference(st State) string {
	if st.Device != "" {
		return st.Device
	}
	if ref := st.Entities.DeviceReference(); ref != "" {
		return ref
	}
	return st.Session.LastDevice
}

// resolve maps the turn's device reference to a device. The returned
// message is set when resolution failed and is ready to show the user.
func (h *Handlers) resolve(ctx context.Context, st State) (platform.Device, string) {
	ref := deviceReference(st)
	if ref == "" {
		return platform.Device{}, h.pickDeviceMessage(ctx)
	}
	d, err := h.resolver.Resolve(ctx, ref)
	switch {
	case err == nil:
		return d, ""
	case errors.Is(err, platform.ErrDeviceNotFound):
		return platform.Device{}, fmt.Sprintf("Device '%s' not found. Please check the device name or pick one from the device list.", ref)
	default:
		h.logger.Warn("resolving device", zap.String("ref", ref), zap.Error(err))
		return platform.Device{}, fmt.Sprintf("Sorry, I couldn't look up device '%s' right now: %v", ref, err)
	}
}

// pickDeviceMessage asks the user to name a device, with a few examples
// when the directory is reachable.
func (h *Handlers) pickDeviceMessage(ctx context.Context) string {
	const msg = "Please specify a device."
	devices, err := h.platform.ListDevices(ctx, platform.DeviceFilter{})
	if err != nil || len(devices) == 0 {
		return msg
	}
	names := make([]string, 0, 3)
	for _, d := range devices[:min(3, len(devices))] {
		names = append(names, d.Name)
	}
	return fmt.Sprintf("%s Example devices: %s.", msg, strings.Join(names, ", "))
}

// failure turns a collaborator error into an apologetic result. The
// engine logs Err.
func (h *Handlers) failure(st State, what string, err error) State {
	st.Result = fmt.Sprintf("Sorry, I couldn't %s right now: %v. Please try again shortly.", what, err)
	st.Failed = true
	st.Err = err
	return st
}

func withDevice(st State, d platform.Device) State {
	st.Resolved = &d
	return st
}

// latest returns the newest value of key, or "" when the series is empty.
func latest(series map[string][]platform.Point, key string) string {
	pts := series[key]
	if len(pts) == 0 {
		return ""
	}
	return pts[0].Value
}

func parseFloat(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return v, err == nil
}

func humanize(in intent.Intent) string {
	return strings.ReplaceAll(in.String(), "_", " ")
}

func ago(d time.Duration) string {
	switch {
	case d >= 24*time.Hour:
		return fmt.Sprintf("%dd %dh", int(d.Hours())/24, int(d.Hours())%24)
	case d >= time.Hour:
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	default:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
}
