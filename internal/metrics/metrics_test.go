// Geotimeline - Location History Timeline Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geotimeline

package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestRecordBatchFlush(t *testing.T) {
	before := testutil.ToFloat64(BatchesFlushed.WithLabelValues("size"))
	RecordBatchFlush("size", 100)
	if got := testutil.ToFloat64(BatchesFlushed.WithLabelValues("size")); got != before+1 {
		t.Errorf("size flushes = %v, want %v", got, before+1)
	}
}

func TestRecordPipelineRunOutcome(t *testing.T) {
	okBefore := testutil.ToFloat64(PipelineRuns.WithLabelValues("success"))
	errBefore := testutil.ToFloat64(PipelineRuns.WithLabelValues("error"))

	RecordPipelineRun(20*time.Millisecond, nil)
	RecordPipelineRun(5*time.Millisecond, errors.New("boom"))

	if got := testutil.ToFloat64(PipelineRuns.WithLabelValues("success")); got != okBefore+1 {
		t.Errorf("success = %v", got)
	}
	if got := testutil.ToFloat64(PipelineRuns.WithLabelValues("error")); got != errBefore+1 {
		t.Errorf("error = %v", got)
	}

	m := &dto.Metric{}
	if err := PipelineDuration.Write(m); err != nil {
		t.Fatal(err)
	}
	if m.GetHistogram().GetSampleCount() < 2 {
		t.Errorf("duration samples = %d", m.GetHistogram().GetSampleCount())
	}
}

func TestSetProviderEnabled(t *testing.T) {
	SetProviderEnabled("nominatim", false)
	if got := testutil.ToFloat64(GeocodeProviderEnabled.WithLabelValues("nominatim")); got != 0 {
		t.Errorf("disabled gauge = %v", got)
	}
	SetProviderEnabled("nominatim", true)
	if got := testutil.ToFloat64(GeocodeProviderEnabled.WithLabelValues("nominatim")); got != 1 {
		t.Errorf("enabled gauge = %v", got)
	}
}

func TestRecordTriggerSetsPendingGauge(t *testing.T) {
	RecordTrigger("scheduled", 7)
	if got := testutil.ToFloat64(PendingTriggers); got != 7 {
		t.Errorf("pending = %v, want 7", got)
	}
}

func TestTrackPipelineInFlight(t *testing.T) {
	before := testutil.ToFloat64(PipelineInFlight)
	TrackPipelineInFlight(true)
	TrackPipelineInFlight(false)
	if got := testutil.ToFloat64(PipelineInFlight); got != before {
		t.Errorf("in flight = %v, want %v", got, before)
	}
}
