package status

import (
	"strings"
	"testing"
	"time"

	"github.com/tkd-scorelink/referee/internal/conn"
)

func TestViewStates(t *testing.T) {
	tests := []struct {
		state conn.State
		want  string
	}{
		{conn.Connected, "● Connected"},
		{conn.Lagging, "◐ Lagging"},
		{conn.Disconnected, "○ Disconnected"},
	}
	for _, tt := range tests {
		m := New()
		m.Width = 120
		m.Identity = 2
		m.Endpoint = "10.0.0.5:8080"
		m.SetState(tt.state)
		v := m.View()
		if !strings.Contains(v, tt.want) {
			t.Errorf("%v: view missing %q:\n%s", tt.state, tt.want, v)
		}
		if !strings.Contains(v, "Referee 2") || !strings.Contains(v, "10.0.0.5:8080") {
			t.Errorf("%v: view missing identity or endpoint:\n%s", tt.state, v)
		}
	}
}

func TestViewReconnectCountdown(t *testing.T) {
	now := time.Unix(100, 0)
	m := New()
	m.Width = 120
	m.SetReconnect(2, now.Add(1500*time.Millisecond))

	v := m.render(now)
	if !strings.Contains(v, "retry 2/5 in 1.5s") {
		t.Errorf("view missing countdown:\n%s", v)
	}

	m.SetState(conn.Connected)
	if v := m.render(now); strings.Contains(v, "retry") {
		t.Errorf("connected view still shows retry:\n%s", v)
	}
}

func TestViewUnconfigured(t *testing.T) {
	m := New()
	m.Width = 200
	m.LastError = "unable to reach scoring server"
	v := m.View()
	if !strings.Contains(v, "no server set") {
		t.Error("view should say no server is set")
	}
	if !strings.Contains(v, "unable to reach") {
		t.Error("view should show the last error")
	}
}
