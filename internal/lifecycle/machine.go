package lifecycle

import (
	"strings"
	"time"

	"github.com/i474232898/weather-aware-tasks/internal/impact"
	"github.com/i474232898/weather-aware-tasks/internal/logger"
	"github.com/i474232898/weather-aware-tasks/internal/task"
)

// Event names an edge of the lifecycle graph.
type Event string

const (
	EventSchedule               Event = "schedule"
	EventWeatherBlock           Event = "weather_block"
	EventWeatherClearReschedule Event = "weather_clear_reschedule"
	EventStart                  Event = "start"
	EventComplete               Event = "complete"
)

// Trigger says who may fire an event.
type Trigger string

const (
	TriggerManual    Trigger = "manual"
	TriggerAutomatic Trigger = "automatic"
)

// Input is what a guard and effect see besides the task itself.
type Input struct {
	// Verdict is the impact verdict behind an automatic event; nil for manual requests.
	Verdict *impact.Verdict
	// ScheduledDate and Location are the task fields the verdict was computed for. When set,
	// the event is rejected if the task has since been edited away from them.
	ScheduledDate time.Time
	Location      string
}

// stale rejects a verdict computed for a date or location the task no longer has.
func (in Input) stale(t task.Task, ev Event) error {
	if !in.ScheduledDate.IsZero() && !in.ScheduledDate.Equal(t.ScheduledDate) {
		return invalid(t, ev, "task was rescheduled after the verdict was computed")
	}
	if in.Location != "" && in.Location != t.Location {
		return invalid(t, ev, "task location changed after the verdict was computed")
	}
	return nil
}

// Transition is one row of the transition table.
type Transition struct {
	Event   Event        `json:"event"`
	From    []task.State `json:"from"`
	To      task.State   `json:"to"`
	Trigger Trigger      `json:"trigger"`
	Guard   string       `json:"guard"`

	guard  func(t task.Task, in Input) error
	effect func(t *task.Task, in Input)
}

func (tr Transition) allows(s task.State) bool {
	for _, from := range tr.From {
		if from == s {
			return true
		}
	}
	return false
}

var table = []Transition{
	{
		Event:   EventSchedule,
		From:    []task.State{task.StateDraft},
		To:      task.StateScheduled,
		Trigger: TriggerManual,
		Guard:   "task has a scheduled date and a location",
		guard: func(t task.Task, _ Input) error {
			if t.ScheduledDate.IsZero() {
				return invalid(t, EventSchedule, "scheduledDate is not set")
			}
			if strings.TrimSpace(t.Location) == "" {
				return invalid(t, EventSchedule, "location is not set")
			}
			return nil
		},
	},
	{
		Event:   EventWeatherBlock,
		From:    []task.State{task.StateScheduled},
		To:      task.StateWeatherDelayed,
		Trigger: TriggerAutomatic,
		Guard:   "impact verdict has canProceed=false",
		guard: func(t task.Task, in Input) error {
			if in.Verdict == nil {
				return invalid(t, EventWeatherBlock, "no impact verdict supplied")
			}
			if err := in.stale(t, EventWeatherBlock); err != nil {
				return err
			}
			if in.Verdict.CanProceed {
				return invalid(t, EventWeatherBlock, "verdict allows the task to proceed")
			}
			return nil
		},
	},
	{
		Event:   EventWeatherClearReschedule,
		From:    []task.State{task.StateWeatherDelayed},
		To:      task.StateRescheduled,
		Trigger: TriggerAutomatic,
		Guard:   "verdict supplies a suggestedDate, or canProceed=true for the current date",
		guard: func(t task.Task, in Input) error {
			if in.Verdict == nil {
				return invalid(t, EventWeatherClearReschedule, "no impact verdict supplied")
			}
			if err := in.stale(t, EventWeatherClearReschedule); err != nil {
				return err
			}
			if in.Verdict.SuggestedDate == nil && !in.Verdict.CanProceed {
				return invalid(t, EventWeatherClearReschedule, "verdict has no target date")
			}
			return nil
		},
		effect: func(t *task.Task, in Input) {
			if in.Verdict.SuggestedDate != nil {
				t.ScheduledDate = *in.Verdict.SuggestedDate
			}
		},
	},
	{
		Event:   EventStart,
		From:    []task.State{task.StateScheduled, task.StateRescheduled},
		To:      task.StateInProgress,
		Trigger: TriggerManual,
		Guard:   "none",
	},
	{
		Event:   EventComplete,
		From:    []task.State{task.StateInProgress},
		To:      task.StateCompleted,
		Trigger: TriggerManual,
		Guard:   "none",
	},
}

// Table returns a copy of the transition table.
func Table() []Transition {
	out := make([]Transition, len(table))
	for i, tr := range table {
		tr.From = append([]task.State(nil), tr.From...)
		out[i] = tr
	}
	return out
}

// IsTerminal reports whether no transition leaves s.
func IsTerminal(s task.State) bool {
	for _, tr := range table {
		if tr.allows(s) {
			return false
		}
	}
	return true
}

// ParseEvent accepts an event name in any case.
func ParseEvent(s string) (Event, bool) {
	ev := Event(strings.ToLower(strings.TrimSpace(s)))
	for _, tr := range table {
		if tr.Event == ev {
			return ev, true
		}
	}
	return "", false
}

func lookup(ev Event) (Transition, bool) {
	for _, tr := range table {
		if tr.Event == ev {
			return tr, true
		}
	}
	return Transition{}, false
}

// Repository is the task storage the machine writes state through. Update must run fn
// against the current task and persist the result atomically with respect to other Updates
// of the same task.
type Repository interface {
	Get(id string) (task.Task, error)
	Update(id string, fn func(*task.Task) error) (task.Task, error)
}

// Machine is the only writer of Task.State.
type Machine struct {
	repo Repository
}

// NewMachine creates a Machine over repo.
func NewMachine(repo Repository) *Machine {
	return &Machine{repo: repo}
}

// Fire applies ev to the task with the given id. The current state is read and written
// inside one repository Update, so concurrent transitions on a task cannot interleave.
// On a *TransitionError the task is unchanged.
func (m *Machine) Fire(id string, ev Event, in Input) (task.Task, error) {
	tr, ok := lookup(ev)
	if !ok {
		t, err := m.repo.Get(id)
		if err != nil {
			return task.Task{}, err
		}
		return t, invalid(t, ev, "unknown event")
	}

	var from task.State
	updated, err := m.repo.Update(id, func(t *task.Task) error {
		from = t.State
		if !tr.allows(t.State) {
			return invalid(*t, ev, "allowed from %v", tr.From)
		}
		if tr.guard != nil {
			if err := tr.guard(*t, in); err != nil {
				return err
			}
		}
		if tr.effect != nil {
			tr.effect(t, in)
		}
		t.State = tr.To
		return nil
	})
	if err != nil {
		return updated, err
	}

	logger.Info("task transitioned", "task", id, "event", ev, "from", from, "to", updated.State)
	return updated, nil
}

// Request handles an explicit state-change request. eventOrState is an event name or the
// name of the target state; only manual events are accepted.
func (m *Machine) Request(id, eventOrState string) (task.Task, error) {
	t, err := m.repo.Get(id)
	if err != nil {
		return task.Task{}, err
	}

	ev, err := resolve(t, eventOrState)
	if err != nil {
		return t, err
	}

	tr, _ := lookup(ev)
	if tr.Trigger != TriggerManual {
		return t, invalid(t, ev, "%s is triggered automatically by weather checks", ev)
	}

	return m.Fire(id, ev, Input{})
}

// resolve maps an event name or target state onto an event. A target state resolves to the
// manual transition from the task's current state that ends there.
func resolve(t task.Task, eventOrState string) (Event, error) {
	if ev, ok := ParseEvent(eventOrState); ok {
		return ev, nil
	}

	target, err := task.ParseState(eventOrState)
	if err != nil {
		return "", &TransitionError{TaskID: t.ID, From: t.State, Reason: "unknown event or state " + eventOrState}
	}

	for _, tr := range table {
		if tr.To == target && tr.allows(t.State) && tr.Trigger == TriggerManual {
			return tr.Event, nil
		}
	}
	return "", &TransitionError{TaskID: t.ID, From: t.State, Reason: "no manual transition to " + string(target)}
}
