// Package impact decides whether a task can proceed given the weather at its location.
//
// Evaluate is a pure function of the task, the snapshot, the thresholds and the "now" the
// caller passes in. It never fetches data and never reads the wall clock.
package impact

import (
	"fmt"
	"strings"
	"time"

	"github.com/i474232898/weather-aware-tasks/internal/task"
	"github.com/i474232898/weather-aware-tasks/internal/weather"
)

// RiskLevel grades how exposed a task is to the weather.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

var riskRank = map[RiskLevel]int{RiskLow: 0, RiskMedium: 1, RiskHigh: 2}

// atLeast returns the higher of r and floor.
func (r RiskLevel) atLeast(floor RiskLevel) RiskLevel {
	if riskRank[floor] > riskRank[r] {
		return floor
	}
	return r
}

// Verdict is the outcome of one evaluation. The JSON field names are a stable contract.
type Verdict struct {
	CanProceed    bool       `json:"canProceed"`
	Reason        string     `json:"reason"`
	SuggestedDate *time.Time `json:"suggestedDate,omitempty"`
	RiskLevel     RiskLevel  `json:"riskLevel"`

	// Stale marks a verdict computed from a stale-fallback snapshot.
	Stale bool `json:"stale,omitempty"`
	// ForecastDate is the day of the entry the verdict was based on, if any.
	ForecastDate *time.Time `json:"forecastDate,omitempty"`
}

// Thresholds are the tunable numeric limits of the category rules.
type Thresholds struct {
	// OutdoorMaxWindMph blocks outdoor tasks when wind is strictly above it.
	OutdoorMaxWindMph float64
	// OutdoorHighRiskWindMph raises a blocked outdoor task to high risk when exceeded.
	OutdoorHighRiskWindMph float64
	// TravelMinVisibilityKm blocks travel when visibility is strictly below it.
	TravelMinVisibilityKm float64
	// TravelReducedVisibilityKm marks travel as medium risk when visibility is below it.
	TravelReducedVisibilityKm float64
	// CurrentWindow: a task scheduled within this distance of now is judged on current conditions.
	CurrentWindow time.Duration
}

// DefaultThresholds returns the stock limits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		OutdoorMaxWindMph:         25,
		OutdoorHighRiskWindMph:    40,
		TravelMinVisibilityKm:     1,
		TravelReducedVisibilityKm: 5,
		CurrentWindow:             3 * time.Hour,
	}
}

// Evaluator applies category rules to weather snapshots.
type Evaluator struct {
	thresholds Thresholds
}

// NewEvaluator creates an Evaluator with the given thresholds.
func NewEvaluator(th Thresholds) *Evaluator {
	return &Evaluator{thresholds: th}
}

// Thresholds returns the configured limits.
func (e *Evaluator) Thresholds() Thresholds {
	return e.thresholds
}

// outcome is the result of applying one category rule to one Conditions entry.
type outcome struct {
	blocked bool
	risk    RiskLevel
	reason  string
	// missing is true when a field the rule relies on was not reported.
	missing bool
}

// Evaluate produces a verdict for t against snap, treating now as the current time.
func (e *Evaluator) Evaluate(t task.Task, snap weather.Snapshot, now time.Time) Verdict {
	if t.Category == task.CategoryIndoor {
		return Verdict{
			CanProceed: true,
			Reason:     "Indoor task is not weather-sensitive",
			RiskLevel:  RiskLow,
			Stale:      snap.Stale,
		}
	}

	entry, ok := e.selectEntry(t.ScheduledDate, snap, now)
	if !ok {
		return Verdict{
			CanProceed: true,
			Reason:     "No forecast data for date " + t.ScheduledDate.Format("2006-01-02"),
			RiskLevel:  RiskLow,
			Stale:      snap.Stale,
		}
	}

	res := e.apply(t.Category, entry)
	day := weather.DayOf(entry.Date)

	v := Verdict{
		CanProceed:   !res.blocked,
		Reason:       res.reason,
		RiskLevel:    res.risk,
		Stale:        snap.Stale,
		ForecastDate: &day,
	}
	if res.missing {
		v.RiskLevel = v.RiskLevel.atLeast(RiskMedium)
	}
	if snap.Stale {
		v.RiskLevel = v.RiskLevel.atLeast(RiskMedium)
		v.Reason += " (based on stale weather data)"
	}

	if res.blocked {
		if next, ok := e.nextSafeDate(t, snap); ok {
			v.SuggestedDate = &next
			v.Reason += "; next suitable date " + next.Format("2006-01-02")
		} else {
			v.Reason += "; no safe date found within the forecast horizon"
		}
	}

	return v
}

// selectEntry picks current conditions when the task is due within the current window,
// otherwise the forecast entry for the task's calendar day.
func (e *Evaluator) selectEntry(scheduled time.Time, snap weather.Snapshot, now time.Time) (weather.Conditions, bool) {
	if d := scheduled.Sub(now); d >= -e.thresholds.CurrentWindow && d <= e.thresholds.CurrentWindow {
		if snap.Current.Condition.Known() || snap.Current.WindSpeedMph != nil || snap.Current.VisibilityKm != nil {
			return snap.Current, true
		}
	}

	day := weather.DayOf(scheduled)
	for _, entry := range snap.Forecast {
		if weather.DayOf(entry.Date).Equal(day) {
			return entry, true
		}
	}
	return weather.Conditions{}, false
}

// nextSafeDate returns the first forecast day strictly after the task's day that passes the
// task's category rule, keeping the task's original time of day.
func (e *Evaluator) nextSafeDate(t task.Task, snap weather.Snapshot) (time.Time, bool) {
	day := weather.DayOf(t.ScheduledDate)
	for _, entry := range snap.Forecast {
		entryDay := weather.DayOf(entry.Date)
		if !entryDay.After(day) {
			continue
		}
		if e.apply(t.Category, entry).blocked {
			continue
		}
		s := t.ScheduledDate
		return time.Date(entryDay.Year(), entryDay.Month(), entryDay.Day(),
			s.Hour(), s.Minute(), s.Second(), s.Nanosecond(), s.Location()), true
	}
	return time.Time{}, false
}

func (e *Evaluator) apply(c task.Category, entry weather.Conditions) outcome {
	switch c {
	case task.CategoryOutdoor:
		return e.outdoor(entry)
	case task.CategoryDelivery:
		return e.delivery(entry)
	case task.CategoryTravel:
		return e.travel(entry)
	default:
		return outcome{risk: RiskLow, reason: "Task is not weather-sensitive"}
	}
}

func (e *Evaluator) outdoor(entry weather.Conditions) outcome {
	th := e.thresholds
	cond := entry.Condition
	wind := entry.WindSpeedMph

	var causes []string
	if cond.IsRain() || cond.IsSnow() {
		causes = append(causes, describe(cond)+" expected")
	}
	if wind != nil && *wind > th.OutdoorMaxWindMph {
		causes = append(causes, fmt.Sprintf("wind speed %.0f mph exceeds outdoor threshold of %.0f mph", *wind, th.OutdoorMaxWindMph))
	}

	res := outcome{missing: !cond.Known() || wind == nil}
	if len(causes) == 0 {
		res.risk = RiskLow
		res.reason = "Conditions suitable for outdoor work"
		return res
	}

	res.blocked = true
	res.reason = "Outdoor work unsafe: " + strings.Join(causes, ", ")
	res.risk = RiskMedium
	if cond.IsSnow() || (wind != nil && *wind > th.OutdoorHighRiskWindMph) {
		res.risk = RiskHigh
	}
	return res
}

func (e *Evaluator) delivery(entry weather.Conditions) outcome {
	cond := entry.Condition
	res := outcome{missing: !cond.Known()}
	if cond.IsSevere() {
		res.blocked = true
		res.risk = RiskHigh
		res.reason = "Deliveries suspended: " + describe(cond) + " expected"
		return res
	}
	res.risk = RiskLow
	res.reason = "Conditions suitable for delivery"
	if cond.IsRain() || cond.IsSnow() {
		res.reason = "Delivery can proceed despite " + describe(cond)
	}
	return res
}

func (e *Evaluator) travel(entry weather.Conditions) outcome {
	th := e.thresholds
	cond := entry.Condition
	vis := entry.VisibilityKm

	res := outcome{missing: !cond.Known() || vis == nil}

	var causes []string
	if cond == weather.ConditionStorm {
		causes = append(causes, describe(cond)+" expected")
	}
	if vis != nil && *vis < th.TravelMinVisibilityKm {
		causes = append(causes, fmt.Sprintf("visibility %.1f km below travel minimum of %.1f km", *vis, th.TravelMinVisibilityKm))
	}
	if len(causes) > 0 {
		res.blocked = true
		res.risk = RiskHigh
		res.reason = "Travel unsafe: " + strings.Join(causes, ", ")
		return res
	}

	if vis != nil && *vis < th.TravelReducedVisibilityKm {
		res.risk = RiskMedium
		res.reason = fmt.Sprintf("Reduced visibility of %.1f km; travel with caution", *vis)
		return res
	}

	res.risk = RiskLow
	res.reason = "Conditions suitable for travel"
	return res
}

// describe renders a condition for use inside a sentence.
func describe(c weather.Condition) string {
	return strings.ReplaceAll(string(c), "_", " ")
}
