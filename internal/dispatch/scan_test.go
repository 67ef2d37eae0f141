package dispatch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ziadkadry99/bms-assistant/internal/platform"
)

func TestScan(t *testing.T) {
	m := demo(t)
	h := newHandlers(t, m)
	ctx := context.Background()

	devices, err := m.ListDevices(ctx, platform.DeviceFilter{})
	require.NoError(t, err)

	var done atomic.Int32
	reports, err := h.Scan(ctx, devices, func(DeviceReport) { done.Add(1) })
	require.NoError(t, err)
	require.Len(t, reports, len(devices))
	assert.EqualValues(t, len(devices), done.Load())

	byID := make(map[string]DeviceReport)
	for i, r := range reports {
		assert.Equal(t, devices[i].ID, r.Device.ID, "reports keep device order")
		byID[r.Device.ID] = r
	}

	pump := byID[pumpID]
	assert.False(t, pump.Healthy())
	assert.Equal(t, "warning", pump.Insights.Status)
	assert.Len(t, pump.Diagnosis.Issues, 2)
	assert.True(t, pump.Diagnosis.RequiresHumanIntervention)

	pir := byID[pirID]
	assert.Equal(t, "warning", pir.Insights.Status)
	assert.Contains(t, pir.Insights.Warnings, "Battery level is low (2.81V)")
}

func TestScanRecordsFetchFailures(t *testing.T) {
	m := demo(t)
	h := newHandlers(t, m)
	ctx := context.Background()

	devices, err := m.ListDevices(ctx, platform.DeviceFilter{Type: "Chiller"})
	require.NoError(t, err)
	require.Len(t, devices, 1)

	boom := errors.New("platform down")
	m.FailWith(boom)
	reports, err := h.Scan(ctx, devices, nil)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.ErrorIs(t, reports[0].Err, boom)
	assert.False(t, reports[0].Healthy())
}

func TestScanCancelled(t *testing.T) {
	m := demo(t)
	h := newHandlers(t, m)
	devices, err := m.ListDevices(context.Background(), platform.DeviceFilter{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = h.Scan(ctx, devices, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
