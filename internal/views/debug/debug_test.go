package debug

import (
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/tkd-scorelink/referee/internal/logging"
)

func TestLinkEventLevels(t *testing.T) {
	m := New()
	m.Add(KindConn, "disconnected -> connected")
	m.Add(KindError, "retries exhausted")

	if m.Entries[0].Level != zapcore.InfoLevel {
		t.Errorf("conn level = %v, want info", m.Entries[0].Level)
	}
	if m.Entries[1].Level != zapcore.ErrorLevel {
		t.Errorf("error level = %v, want error", m.Entries[1].Level)
	}
}

func TestAddLogKeepsLevelAndSource(t *testing.T) {
	m := New()
	at := time.Date(2026, 5, 1, 9, 30, 15, 250e6, time.UTC)
	m.AddLog(logging.Entry{Time: at, Level: zapcore.WarnLevel, Logger: "conn", Message: "connection lost"})

	e := m.Entries[0]
	if e.Kind != KindLog || e.Level != zapcore.WarnLevel || e.Source != "conn" || !e.Time.Equal(at) {
		t.Errorf("entry = %+v", e)
	}
	v := m.View(100, 20)
	for _, want := range []string{"09:30:15.250", "WARN", "conn", "connection lost"} {
		if !strings.Contains(v, want) {
			t.Errorf("view missing %q:\n%s", want, v)
		}
	}
}

func TestBufferCappedButCountsKept(t *testing.T) {
	m := New()
	for i := 0; i < maxEntries+50; i++ {
		m.Add(KindScore, "sent: red punch +1")
	}
	if len(m.Entries) != maxEntries {
		t.Errorf("entries = %d, want %d", len(m.Entries), maxEntries)
	}
	if m.Count(KindScore) != maxEntries+50 {
		t.Errorf("score count = %d, want %d", m.Count(KindScore), maxEntries+50)
	}
}

func TestCycleLevelFilters(t *testing.T) {
	m := New()
	m.AddLog(logging.Entry{Level: zapcore.DebugLevel, Message: "heartbeat sent"})
	m.Add(KindConn, "connected")
	m.AddLog(logging.Entry{Level: zapcore.WarnLevel, Message: "connection lost"})
	m.Add(KindError, "retries exhausted")

	want := []int{4, 3, 2, 1, 4}
	for i, n := range want {
		if got := len(m.Visible()); got != n {
			t.Errorf("step %d at %v: visible = %d, want %d", i, m.MinLevel, got, n)
		}
		m.CycleLevel()
	}
}

func TestCycleLevelHidesFromView(t *testing.T) {
	m := New()
	m.AddLog(logging.Entry{Level: zapcore.DebugLevel, Message: "heartbeat sent"})
	m.Add(KindError, "retries exhausted")
	m.CycleLevel()
	m.CycleLevel()

	v := m.View(100, 20)
	if strings.Contains(v, "heartbeat sent") {
		t.Error("debug line shown above the filter")
	}
	if !strings.Contains(v, "retries exhausted") {
		t.Error("error line missing")
	}
}

func TestScrollBounds(t *testing.T) {
	m := New()
	for i := 0; i < 5; i++ {
		m.Add(KindConn, "msg")
	}
	m.ScrollUp(100)
	if m.Offset != 4 {
		t.Errorf("offset = %d, want 4", m.Offset)
	}
	m.ScrollDown(100)
	if m.Offset != 0 || !m.Following() {
		t.Errorf("offset = %d, want 0", m.Offset)
	}
}

func TestScrolledViewHoldsPosition(t *testing.T) {
	m := New()
	for i := 0; i < 10; i++ {
		m.Add(KindConn, "msg")
	}
	m.ScrollUp(3)
	m.Add(KindConn, "new")
	if m.Offset != 4 {
		t.Errorf("offset = %d, want 4", m.Offset)
	}

	// Lines under the filter do not shift the view.
	m.AddLog(logging.Entry{Level: zapcore.DebugLevel, Message: "noise"})
	m.CycleLevel()
	m.ScrollUp(2)
	m.AddLog(logging.Entry{Level: zapcore.DebugLevel, Message: "noise"})
	if m.Offset != 2 {
		t.Errorf("offset = %d, want 2", m.Offset)
	}
}

func TestFollowingTakesNewEntries(t *testing.T) {
	m := New()
	m.Add(KindConn, "first")
	m.Add(KindConn, "second")
	if !m.Following() {
		t.Error("a fresh log should follow new entries")
	}
	if v := m.View(80, 20); !strings.Contains(v, "second") {
		t.Error("newest entry should be visible")
	}
}

func TestViewEmptyAtLevel(t *testing.T) {
	m := New()
	if v := m.View(80, 20); !strings.Contains(v, "Nothing at this level") {
		t.Error("empty view should say so")
	}
	m.Add(KindConn, "connected")
	m.CycleLevel()
	m.CycleLevel()
	if v := m.View(80, 20); !strings.Contains(v, "Nothing at this level") {
		t.Error("filtered-out entries should leave the empty message")
	}
}

func TestViewSummaryCounts(t *testing.T) {
	m := New()
	m.Add(KindScore, "sent: red punch")
	m.Add(KindScore, "sent: blue punch")
	m.Add(KindAck, "score_ack +1 red")
	v := m.View(100, 20)
	if !strings.Contains(v, "scores 2") || !strings.Contains(v, "acks 1") {
		t.Errorf("summary missing counts:\n%s", v)
	}
}
