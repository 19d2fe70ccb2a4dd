package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/communalgrid/communalgrid/pkg/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestUpdateJobMetrics(t *testing.T) {
	before := testutil.ToFloat64(ScheduledJobFailuresTotal.WithLabelValues("test_job"))

	UpdateJobMetrics("test_job", time.Now(), nil)
	assert.Equal(t, before, testutil.ToFloat64(ScheduledJobFailuresTotal.WithLabelValues("test_job")))
	assert.Greater(t, testutil.ToFloat64(ScheduledJobLastRun.WithLabelValues("test_job")), 0.0)

	UpdateJobMetrics("test_job", time.Now(), errors.New("failed"))
	assert.Equal(t, before+1, testutil.ToFloat64(ScheduledJobFailuresTotal.WithLabelValues("test_job")))
}

func TestSetCurrentPrice(t *testing.T) {
	SetCurrentPrice(types.Price{Tier: types.TierPeak, DollarsPerKWH: 0.45})
	assert.Equal(t, 0.45, testutil.ToFloat64(CurrentPrice.WithLabelValues(types.TierPeak)))

	SetCurrentPrice(types.Price{Tier: types.TierOffPeak, DollarsPerKWH: 0.12})
	assert.Equal(t, 1, testutil.CollectAndCount(CurrentPrice), "previous tier is cleared")
	assert.Equal(t, 0.12, testutil.ToFloat64(CurrentPrice.WithLabelValues(types.TierOffPeak)))
}

func TestSetDeviceSummary(t *testing.T) {
	SetDeviceSummary(types.DeviceSummary{Counts: map[types.DeviceCategory]int{
		types.CategorySmartPlug:  2,
		types.CategoryThermostat: 1,
	}})
	assert.Equal(t, 2.0, testutil.ToFloat64(Devices.WithLabelValues(string(types.CategorySmartPlug))))
	assert.Equal(t, 1.0, testutil.ToFloat64(Devices.WithLabelValues(string(types.CategoryThermostat))))
}
