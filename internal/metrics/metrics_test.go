package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNew(t *testing.T) {
	m := New()
	if m == nil {
		t.Error("New() returned nil")
	}
}

func TestDefault(t *testing.T) {
	m1 := Default()
	m2 := Default()

	if m1 != m2 {
		t.Error("Default() should return same instance")
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordScheduled("BATHROOM", 3)
	m.RecordFired("HIGH", time.Second)
	m.RecordEscalation()
	m.RecordDelivery("console", "ok")
	m.RecordClosed("MEDICATION", "CONFIRMED")
	m.RecordAdherenceRejected("MEDICATION")
	m.RecordNotificationFailure()
	m.SetPendingTimers("scheduler", 1)
}

func TestRecordScheduled(t *testing.T) {
	m := New()
	m.RecordScheduled("BATHROOM", 12)

	if got := testutil.ToFloat64(m.alertsScheduled.WithLabelValues("BATHROOM")); got != 12 {
		t.Errorf("Expected 12 scheduled, got %v", got)
	}
}

func TestRecordFired(t *testing.T) {
	m := New()
	m.RecordFired("CRITICAL", 2*time.Second)
	m.RecordFired("CRITICAL", -time.Second)

	if got := testutil.ToFloat64(m.alertsFired.WithLabelValues("CRITICAL")); got != 2 {
		t.Errorf("Expected 2 fired, got %v", got)
	}
}

func TestRecordDelivery(t *testing.T) {
	m := New()
	m.RecordDelivery("haptic", "skipped")
	m.RecordDelivery("haptic", "skipped")
	m.RecordDelivery("haptic", "failed")

	if got := testutil.ToFloat64(m.channelDeliveries.WithLabelValues("haptic", "skipped")); got != 2 {
		t.Errorf("Expected 2 skipped, got %v", got)
	}
	if got := testutil.ToFloat64(m.channelDeliveries.WithLabelValues("haptic", "failed")); got != 1 {
		t.Errorf("Expected 1 failed, got %v", got)
	}
}

func TestRecordClosedAndRejected(t *testing.T) {
	m := New()
	m.RecordClosed("MEDICATION", "CONFIRMED")
	m.RecordAdherenceRejected("MEDICATION")
	m.RecordEscalation()
	m.RecordNotificationFailure()

	if got := testutil.ToFloat64(m.actionsClosed.WithLabelValues("MEDICATION", "CONFIRMED")); got != 1 {
		t.Errorf("Expected 1 closed, got %v", got)
	}
	if got := testutil.ToFloat64(m.adherenceRejected.WithLabelValues("MEDICATION")); got != 1 {
		t.Errorf("Expected 1 rejection, got %v", got)
	}
	if got := testutil.ToFloat64(m.escalations); got != 1 {
		t.Errorf("Expected 1 escalation, got %v", got)
	}
	if got := testutil.ToFloat64(m.notificationErrors); got != 1 {
		t.Errorf("Expected 1 notification failure, got %v", got)
	}
}

func TestHandler(t *testing.T) {
	m := New()
	m.SetPendingTimers("scheduler", 4)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `careminder_pending_timers{registry="scheduler"} 4`) {
		t.Errorf("metrics output missing pending timers gauge:\n%s", body)
	}
}
