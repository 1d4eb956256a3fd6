package room

import (
	"testing"
	"time"

	"github.com/conorfennell/studyroom/internal/domain"
)

func TestTimeLeft(t *testing.T) {
	now := time.UnixMilli(10_000_000_000)
	d := DefaultDurations

	testCases := []struct {
		name     string
		pomodoro domain.Pomodoro
		expected int
	}{
		{"100 seconds into focus", domain.Pomodoro{State: domain.StatusRunning, Mode: domain.ModeFocus, StartTime: now.UnixMilli() - 100_000}, 1400},
		{"Exactly at focus duration", domain.Pomodoro{State: domain.StatusRunning, Mode: domain.ModeFocus, StartTime: now.UnixMilli() - 1500_000}, 0},
		{"Past focus duration", domain.Pomodoro{State: domain.StatusRunning, Mode: domain.ModeFocus, StartTime: now.UnixMilli() - 2000_000}, 0},
		{"Partial seconds are floored", domain.Pomodoro{State: domain.StatusRunning, Mode: domain.ModeFocus, StartTime: now.UnixMilli() - 999}, 1500},
		{"Running break", domain.Pomodoro{State: domain.StatusRunning, Mode: domain.ModeBreak, StartTime: now.UnixMilli() - 60_000}, 240},
		{"Stopped focus shows full duration", domain.Pomodoro{State: domain.StatusStopped, Mode: domain.ModeFocus}, 1500},
		{"Stopped break shows full duration", domain.Pomodoro{State: domain.StatusStopped, Mode: domain.ModeBreak}, 300},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := d.TimeLeft(tc.pomodoro, now); got != tc.expected {
				t.Errorf("Expected %d seconds left but got %d", tc.expected, got)
			}
		})
	}
}

func TestExpired(t *testing.T) {
	now := time.UnixMilli(10_000_000_000)
	d := DefaultDurations
	running := func(mode domain.PomodoroMode, ago time.Duration) domain.Pomodoro {
		return domain.Pomodoro{State: domain.StatusRunning, Mode: mode, StartTime: now.Add(-ago).UnixMilli()}
	}

	if !d.Expired(running(domain.ModeFocus, 1500*time.Second), now) {
		t.Errorf("Expected focus to expire at exactly 1500s")
	}
	if d.Expired(running(domain.ModeFocus, 1500*time.Second-time.Millisecond), now) {
		t.Errorf("Expected focus not to expire 1ms before 1500s")
	}
	if !d.Expired(running(domain.ModeBreak, 300*time.Second), now) {
		t.Errorf("Expected break to expire at exactly 300s")
	}
	if d.Expired(domain.Pomodoro{State: domain.StatusStopped, Mode: domain.ModeFocus}, now) {
		t.Errorf("Expected a stopped timer never to expire")
	}
}

func TestTransitions(t *testing.T) {
	now := time.UnixMilli(1_000_000)
	stoppedFocus := Reset()

	running, ok := Start(stoppedFocus, now)
	if !ok || running.State != domain.StatusRunning || running.Mode != domain.ModeFocus || running.StartTime != now.UnixMilli() {
		t.Errorf("Unexpected start result: %+v, %v", running, ok)
	}
	if _, ok := Start(running, now.Add(time.Minute)); ok {
		t.Errorf("Expected start of a running timer to be a no-op")
	}

	stopped, ok := Stop(running)
	if !ok || stopped != (domain.Pomodoro{State: domain.StatusStopped, Mode: domain.ModeFocus}) {
		t.Errorf("Expected stopped(focus) with no start time but got %+v", stopped)
	}
	if _, ok := Stop(stopped); ok {
		t.Errorf("Expected stop of a stopped timer to be a no-op")
	}

	brk, ok := Expire(running)
	if !ok || brk != (domain.Pomodoro{State: domain.StatusStopped, Mode: domain.ModeBreak}) {
		t.Errorf("Expected focus to expire into stopped(break) but got %+v", brk)
	}
	runningBreak, _ := Start(brk, now)
	focus, ok := Expire(runningBreak)
	if !ok || focus != (domain.Pomodoro{State: domain.StatusStopped, Mode: domain.ModeFocus}) {
		t.Errorf("Expected break to expire into stopped(focus) but got %+v", focus)
	}
	if _, ok := Expire(brk); ok {
		t.Errorf("Expected expire of a stopped timer to be a no-op")
	}

	if got := Reset(); got != (domain.Pomodoro{State: domain.StatusStopped, Mode: domain.ModeFocus, StartTime: 0}) {
		t.Errorf("Unexpected reset state: %+v", got)
	}
}

func TestCompletionMessage(t *testing.T) {
	d := DefaultDurations
	if got := d.CompletionMessage(domain.ModeFocus); got != "Focus session complete! Time for a 5-minute break." {
		t.Errorf("Unexpected focus message: %q", got)
	}
	if got := d.CompletionMessage(domain.ModeBreak); got != "Break's over! Time for a new focus session." {
		t.Errorf("Unexpected break message: %q", got)
	}

	testCases := []struct {
		brk      time.Duration
		expected string
	}{
		{10 * time.Minute, "Focus session complete! Time for a 10-minute break."},
		{30 * time.Second, "Focus session complete! Time for a 30s break."},
		{90 * time.Second, "Focus session complete! Time for a 1m30s break."},
	}
	for _, tc := range testCases {
		d := Durations{Focus: time.Minute, Break: tc.brk}
		if got := d.CompletionMessage(domain.ModeFocus); got != tc.expected {
			t.Errorf("Break %v: expected %q but got %q", tc.brk, tc.expected, got)
		}
	}
}
