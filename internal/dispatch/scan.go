package dispatch

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/ziadkadry99/bms-assistant/internal/diagnose"
	"github.com/ziadkadry99/bms-assistant/internal/platform"
)

// DeviceReport is the health verdict for one device in a fleet scan.
type DeviceReport struct {
	Device    platform.Device    `json:"device"`
	Insights  diagnose.Insights  `json:"insights"`
	Diagnosis diagnose.Diagnosis `json:"diagnosis"`
	// Err is set when the device's telemetry could not be fetched.
	Err error `json:"-"`
}

// Healthy reports whether the scan found nothing to act on.
func (r DeviceReport) Healthy() bool {
	return r.Err == nil && r.Insights.Status == "healthy" && len(r.Diagnosis.Issues) == 0
}

// Scan runs the health rules over devices concurrently. onDone, if set,
// is called once per device as its report completes and may be called
// from several goroutines. Reports keep the order of devices. A fetch
// failure lands in that device's report; only cancellation aborts the scan.
func (h *Handlers) Scan(ctx context.Context, devices []platform.Device, onDone func(DeviceReport)) ([]DeviceReport, error) {
	reports := make([]DeviceReport, len(devices))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentFetches)
	for i, d := range devices {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r := DeviceReport{Device: d}
			snap, window, err := h.snapshot(gctx, d, healthReadings)
			if err != nil {
				r.Err = err
			} else {
				r.Insights = diagnose.AnalyzeHealth(snap, h.now())
				r.Diagnosis = diagnose.Diagnose(snap, window)
			}
			reports[i] = r
			if onDone != nil {
				onDone(r)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, ctx.Err()
}
