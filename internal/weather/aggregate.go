package weather

import (
	"sort"
	"time"
)

// AggregateReadings combines multiple provider readings into a single Conditions entry.
// Numeric fields are averaged over the readings that reported them; the condition is
// selected by majority, with the more severe condition winning a tie.
func AggregateReadings(readings []ProviderReading) Conditions {
	if len(readings) == 0 {
		return Conditions{
			Date:      time.Now().UTC(),
			Condition: ConditionUnknown,
		}
	}

	var (
		sumTemp             float64
		sumWind, sumVis     float64
		windCount, visCount int
	)

	conditionCounts := make(map[Condition]int)
	providers := make([]ProviderContribution, 0, len(readings))
	var newestTS time.Time

	for _, r := range readings {
		sumTemp += r.TemperatureC
		if r.WindSpeedMph != nil {
			sumWind += *r.WindSpeedMph
			windCount++
		}
		if r.VisibilityKm != nil {
			sumVis += *r.VisibilityKm
			visCount++
		}

		if r.Condition.Known() {
			conditionCounts[r.Condition]++
		}

		if r.Timestamp.After(newestTS) {
			newestTS = r.Timestamp
		}

		providers = append(providers, ProviderContribution{
			ProviderName: r.ProviderName,
			Timestamp:    r.Timestamp,
		})
	}

	// Pick majority condition.
	bestCond := ConditionUnknown
	bestCount := 0
	for cond, count := range conditionCounts {
		if count > bestCount || (count == bestCount && cond.Severity() > bestCond.Severity()) {
			bestCount = count
			bestCond = cond
		}
	}

	if newestTS.IsZero() {
		newestTS = time.Now().UTC()
	}

	out := Conditions{
		Date:         newestTS.UTC(),
		TemperatureC: sumTemp / float64(len(readings)),
		Condition:    bestCond,
		Providers:    providers,
	}
	if windCount > 0 {
		out.WindSpeedMph = Float(sumWind / float64(windCount))
	}
	if visCount > 0 {
		out.VisibilityKm = Float(sumVis / float64(visCount))
	}
	return out
}

// AggregateDaily buckets forecast readings per UTC day and aggregates each bucket.
// Sub-daily readings from one provider are first collapsed to that day's worst case
// (most severe condition, strongest wind, lowest visibility) so a short storm is not
// outvoted by the rest of the day. At most days entries are returned, ordered by date.
func AggregateDaily(readings []ProviderReading, days int) []Conditions {
	type bucketKey struct {
		day      time.Time
		provider string
	}

	worst := make(map[bucketKey]ProviderReading)
	temps := make(map[bucketKey][]float64)
	for _, r := range readings {
		k := bucketKey{day: DayOf(r.Timestamp.UTC()), provider: r.ProviderName}
		temps[k] = append(temps[k], r.TemperatureC)

		cur, ok := worst[k]
		if !ok {
			worst[k] = r
			continue
		}
		if r.Condition.Severity() > cur.Condition.Severity() {
			cur.Condition = r.Condition
		}
		if r.WindSpeedMph != nil && (cur.WindSpeedMph == nil || *r.WindSpeedMph > *cur.WindSpeedMph) {
			cur.WindSpeedMph = r.WindSpeedMph
		}
		if r.VisibilityKm != nil && (cur.VisibilityKm == nil || *r.VisibilityKm < *cur.VisibilityKm) {
			cur.VisibilityKm = r.VisibilityKm
		}
		worst[k] = cur
	}

	byDay := make(map[time.Time][]ProviderReading)
	for k, r := range worst {
		var sum float64
		for _, t := range temps[k] {
			sum += t
		}
		r.TemperatureC = sum / float64(len(temps[k]))
		byDay[k.day] = append(byDay[k.day], r)
	}

	keys := make([]time.Time, 0, len(byDay))
	for k := range byDay {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Before(keys[j]) })

	out := make([]Conditions, 0, len(keys))
	for _, k := range keys {
		if days > 0 && len(out) >= days {
			break
		}
		dayReadings := byDay[k]
		sort.Slice(dayReadings, func(i, j int) bool {
			return dayReadings[i].ProviderName < dayReadings[j].ProviderName
		})
		entry := AggregateReadings(dayReadings)
		entry.Date = k
		out = append(out, entry)
	}
	return out
}
