package task

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidCategory = errors.New("invalid task category")
	ErrInvalidState    = errors.New("invalid task state")
)

// Category drives which weather rules apply to a task. It is fixed at creation.
type Category string

const (
	CategoryOutdoor  Category = "outdoor"
	CategoryDelivery Category = "delivery"
	CategoryIndoor   Category = "indoor"
	CategoryTravel   Category = "travel"
)

// Categories lists every known category.
var Categories = []Category{CategoryOutdoor, CategoryDelivery, CategoryIndoor, CategoryTravel}

// ParseCategory accepts a category name in any case.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Categories {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidCategory, s)
}

// State is a node of the task lifecycle graph.
type State string

const (
	StateDraft          State = "DRAFT"
	StateScheduled      State = "SCHEDULED"
	StateInProgress     State = "IN_PROGRESS"
	StateWeatherDelayed State = "WEATHER_DELAYED"
	StateRescheduled    State = "RESCHEDULED"
	StateCompleted      State = "COMPLETED"
)

// States lists every state in lifecycle order.
var States = []State{
	StateDraft,
	StateScheduled,
	StateInProgress,
	StateWeatherDelayed,
	StateRescheduled,
	StateCompleted,
}

// ParseState accepts a state name in any case.
func ParseState(s string) (State, error) {
	st := State(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range States {
		if st == known {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidState, s)
}

// Task is a unit of work whose readiness depends on the weather at its location.
type Task struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Description   string    `json:"description,omitempty"`
	Category      Category  `json:"category"`
	ScheduledDate time.Time `json:"scheduledDate"`
	Location      string    `json:"location"`
	State         State     `json:"state"`
	Priority      int       `json:"priority"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Edit is a field-level change. Nil fields are left alone. Category and State are not
// editable: category is immutable and state only moves through the lifecycle machine.
type Edit struct {
	Title         *string
	Description   *string
	ScheduledDate *time.Time
	Location      *string
	Priority      *int
}

// Apply copies the non-nil fields of e onto t.
func (e Edit) Apply(t *Task) {
	if e.Title != nil {
		t.Title = *e.Title
	}
	if e.Description != nil {
		t.Description = *e.Description
	}
	if e.ScheduledDate != nil {
		t.ScheduledDate = *e.ScheduledDate
	}
	if e.Location != nil {
		t.Location = *e.Location
	}
	if e.Priority != nil {
		t.Priority = *e.Priority
	}
}
