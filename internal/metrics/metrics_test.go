package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

func TestRecordJobLifecycleIncrementsCounters(t *testing.T) {
	m := New("test", zerolog.Nop())

	m.RecordJobLeased("scanner:nmap")
	if got := testutil.ToFloat64(m.jobsLeased.WithLabelValues("scanner:nmap")); got != 1 {
		t.Errorf("expected 1 leased, got %v", got)
	}

	m.RecordJobFailed("scanner:nmap", true)
	if got := testutil.ToFloat64(m.jobsFailed.WithLabelValues("scanner:nmap", "true")); got != 1 {
		t.Errorf("expected 1 terminal failure, got %v", got)
	}

	m.RecordFinding("critical")
	m.RecordFinding("critical")
	if got := testutil.ToFloat64(m.findingsTotal.WithLabelValues("critical")); got != 2 {
		t.Errorf("expected 2 critical findings, got %v", got)
	}
}

func TestNilMetricsRecordingIsNoOp(t *testing.T) {
	var m *Metrics
	m.RecordJobLeased("scanner:nmap")
	m.RecordJobFailed("scanner:nmap", false)
	m.SetQueueDepth(5)
	m.IncWorkersActive()
	m.DecWorkersActive()
	m.RecordLeasesReaped(3)
	m.RecordFinding("low")
	m.RecordRunCompleted("scheduled", "completed")
	if err := m.Start("127.0.0.1:0"); err != nil {
		t.Errorf("expected nil-receiver Start to be a no-op, got error: %v", err)
	}
}

func TestBuildInfoLabelSet(t *testing.T) {
	m := New("v1.2.3", zerolog.Nop())
	if got := testutil.ToFloat64(m.buildInfo.WithLabelValues("v1.2.3")); got != 1 {
		t.Errorf("expected build info gauge set to 1, got %v", got)
	}
}
