package infrastructure

import (
	"testing"
	"time"
)

func TestSessionDefaultsAndPersonaSwitch(t *testing.T) {
	sm := NewSessionManager("oracle")
	s := sm.GetOrCreateSession("42")
	if s.CurrentPersona() != "oracle" {
		t.Fatalf("persona = %q, want oracle", s.CurrentPersona())
	}
	if sm.GetOrCreateSession("42") != s {
		t.Fatal("expected the same session for the same id")
	}

	s.BeginSoulSelection()
	if !s.TakeSoulSelection() {
		t.Fatal("expected selection mode")
	}
	if s.TakeSoulSelection() {
		t.Fatal("selection mode should clear after take")
	}

	s.BeginSoulSelection()
	s.SwitchPersona("magicball")
	if s.CurrentPersona() != "magicball" || s.TakeSoulSelection() {
		t.Fatal("switch should set persona and leave selection mode")
	}
}

func TestSessionClickDebounce(t *testing.T) {
	s := NewSessionManager("oracle").GetOrCreateSession("1")
	if !s.IsAllowedClick() {
		t.Fatal("first click should be allowed")
	}
	if s.IsAllowedClick() {
		t.Fatal("second click within debounce window should be denied")
	}

	s.LastClick = time.Now().Add(-3 * time.Second)
	s.StartProcessing()
	if s.IsAllowedClick() {
		t.Fatal("click while processing should be denied")
	}
	s.FinishProcessing()
	if !s.IsAllowedClick() {
		t.Fatal("click after processing should be allowed")
	}
}
