package room

import (
	"fmt"
	"time"

	"github.com/conorfennell/studyroom/internal/domain"
)

const (
	DefaultFocusDuration = 25 * time.Minute
	DefaultBreakDuration = 5 * time.Minute
)

// Durations configures the length of each Pomodoro mode.
type Durations struct {
	Focus time.Duration
	Break time.Duration
}

var DefaultDurations = Durations{Focus: DefaultFocusDuration, Break: DefaultBreakDuration}

func (d Durations) For(mode domain.PomodoroMode) time.Duration {
	if mode == domain.ModeBreak {
		return d.Break
	}
	return d.Focus
}

// TimeLeft returns the whole seconds remaining in the current interval. A stopped timer reports
// the full duration of its mode.
func (d Durations) TimeLeft(p domain.Pomodoro, now time.Time) int {
	duration := int(d.For(p.Mode) / time.Second)
	if p.State != domain.StatusRunning {
		return duration
	}
	elapsed := int((now.UnixMilli() - p.StartTime) / 1000)
	return max(0, duration-elapsed)
}

// Expired reports whether a running timer has reached the end of its interval.
func (d Durations) Expired(p domain.Pomodoro, now time.Time) bool {
	if p.State != domain.StatusRunning {
		return false
	}
	return now.UnixMilli()-p.StartTime >= d.For(p.Mode).Milliseconds()
}

// CompletionMessage is announced in chat when an interval of mode ends.
func (d Durations) CompletionMessage(mode domain.PomodoroMode) string {
	if mode == domain.ModeFocus {
		if d.Break >= time.Minute && d.Break%time.Minute == 0 {
			return fmt.Sprintf("Focus session complete! Time for a %d-minute break.", int(d.Break/time.Minute))
		}
		return fmt.Sprintf("Focus session complete! Time for a %s break.", d.Break)
	}
	return "Break's over! Time for a new focus session."
}

const ResetMessage = "Timer has been reset to a new focus session."

// Start runs a stopped timer from now. It reports false if the timer is already running.
func Start(p domain.Pomodoro, now time.Time) (domain.Pomodoro, bool) {
	if p.State == domain.StatusRunning {
		return p, false
	}
	return domain.Pomodoro{State: domain.StatusRunning, Mode: modeOrFocus(p.Mode), StartTime: now.UnixMilli()}, true
}

// Stop halts a running timer, keeping its mode. Elapsed time is discarded.
func Stop(p domain.Pomodoro) (domain.Pomodoro, bool) {
	if p.State != domain.StatusRunning {
		return p, false
	}
	return domain.Pomodoro{State: domain.StatusStopped, Mode: modeOrFocus(p.Mode)}, true
}

// Expire ends a running interval and stops the timer in the other mode.
func Expire(p domain.Pomodoro) (domain.Pomodoro, bool) {
	if p.State != domain.StatusRunning {
		return p, false
	}
	next := domain.ModeBreak
	if p.Mode == domain.ModeBreak {
		next = domain.ModeFocus
	}
	return domain.Pomodoro{State: domain.StatusStopped, Mode: next}, true
}

func Reset() domain.Pomodoro {
	return domain.Pomodoro{State: domain.StatusStopped, Mode: domain.ModeFocus}
}

func modeOrFocus(m domain.PomodoroMode) domain.PomodoroMode {
	if m == domain.ModeBreak {
		return m
	}
	return domain.ModeFocus
}
