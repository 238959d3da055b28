package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/weather-aware-tasks/internal/cache"
	"github.com/i474232898/weather-aware-tasks/internal/impact"
	"github.com/i474232898/weather-aware-tasks/internal/lifecycle"
	"github.com/i474232898/weather-aware-tasks/internal/scheduler"
	"github.com/i474232898/weather-aware-tasks/internal/store"
	"github.com/i474232898/weather-aware-tasks/internal/task"
	"github.com/i474232898/weather-aware-tasks/internal/weather"
)

// rainyDay is far enough ahead that evaluations use the forecast, not current conditions.
var rainyDay = time.Now().UTC().AddDate(0, 0, 2).Truncate(time.Hour)

func fakeFetch(ctx context.Context, location string) (weather.Snapshot, error) {
	if location != "Seattle" {
		return weather.Snapshot{}, &weather.ProviderError{Location: location, Err: errors.New("unknown location")}
	}
	day := weather.DayOf(rainyDay)
	return weather.Snapshot{
		Location: location,
		Current:  weather.Conditions{Condition: weather.ConditionCloudy},
		Forecast: []weather.Conditions{
			{Date: day, Condition: weather.ConditionRain, WindSpeedMph: weather.Float(12)},
			{Date: day.AddDate(0, 0, 1), Condition: weather.ConditionClear, WindSpeedMph: weather.Float(4)},
		},
	}, nil
}

func newTestApp() (*fiber.App, *store.MemoryStore) {
	tasks := store.NewMemoryStore()
	machine := lifecycle.NewMachine(tasks)
	wc := cache.NewWeatherCache(time.Minute, time.Second)
	sched := scheduler.New(wc, impact.NewEvaluator(impact.DefaultThresholds()), machine, tasks, fakeFetch)

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	RegisterRoutes(app, Deps{
		Store:     tasks,
		Machine:   machine,
		Scheduler: sched,
		Cache:     wc,
		Fetch:     fakeFetch,
	})
	return app, tasks
}

func do(t *testing.T, app *fiber.App, method, path string, body any) (int, []byte) {
	t.Helper()

	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, data
}

func decode(t *testing.T, data []byte, out any) {
	t.Helper()
	if err := json.Unmarshal(data, out); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
}

func createTask(t *testing.T, app *fiber.App, category, location string) task.Task {
	t.Helper()
	status, body := do(t, app, http.MethodPost, "/api/v1/tasks", map[string]any{
		"title":         "Repair fence",
		"category":      category,
		"location":      location,
		"scheduledDate": rainyDay,
	})
	if status != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", status, body)
	}
	var tk task.Task
	decode(t, body, &tk)
	return tk
}

func TestCreateTask(t *testing.T) {
	app, _ := newTestApp()

	tk := createTask(t, app, "Outdoor", "Seattle")
	if tk.ID == "" || tk.State != task.StateDraft || tk.Category != task.CategoryOutdoor {
		t.Fatalf("unexpected task %+v", tk)
	}

	cases := []map[string]any{
		{"category": "outdoor"},
		{"title": "x", "category": "underwater"},
		{"title": "x", "category": "outdoor", "location": "a,b,c"},
		{"title": "x", "category": "outdoor", "priority": -1},
	}
	for _, body := range cases {
		if status, resp := do(t, app, http.MethodPost, "/api/v1/tasks", body); status != http.StatusBadRequest {
			t.Errorf("%v: expected 400, got %d: %s", body, status, resp)
		}
	}
}

func TestGetAndListTasks(t *testing.T) {
	app, _ := newTestApp()
	created := createTask(t, app, "outdoor", "Seattle")

	status, body := do(t, app, http.MethodGet, "/api/v1/tasks/"+created.ID, nil)
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}

	if status, _ := do(t, app, http.MethodGet, "/api/v1/tasks/missing", nil); status != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", status)
	}

	status, body = do(t, app, http.MethodGet, "/api/v1/tasks?state=draft", nil)
	var list []task.Task
	decode(t, body, &list)
	if status != http.StatusOK || len(list) != 1 {
		t.Fatalf("expected one DRAFT task, got %d: %s", status, body)
	}

	if status, _ := do(t, app, http.MethodGet, "/api/v1/tasks?state=LOST", nil); status != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown state, got %d", status)
	}
}

func TestEditTask_RejectsStateAndCategory(t *testing.T) {
	app, _ := newTestApp()
	created := createTask(t, app, "outdoor", "Seattle")
	path := "/api/v1/tasks/" + created.ID

	for _, body := range []map[string]any{{"state": "COMPLETED"}, {"category": "indoor"}} {
		if status, _ := do(t, app, http.MethodPatch, path, body); status != http.StatusBadRequest {
			t.Fatalf("%v: expected 400, got %d", body, status)
		}
	}

	status, body := do(t, app, http.MethodPatch, path, map[string]any{"title": "Repair gate", "priority": 2})
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", status, body)
	}
	var tk task.Task
	decode(t, body, &tk)
	if tk.Title != "Repair gate" || tk.Priority != 2 || tk.State != task.StateDraft {
		t.Fatalf("unexpected task %+v", tk)
	}
}

func TestTransitions(t *testing.T) {
	app, tasks := newTestApp()
	created := createTask(t, app, "outdoor", "Seattle")
	path := "/api/v1/tasks/" + created.ID + "/transitions"

	// Automatic events cannot be requested.
	if status, _ := do(t, app, http.MethodPost, path, map[string]string{"event": "weather_block"}); status != http.StatusConflict {
		t.Fatalf("expected 409, got %d", status)
	}
	if status, _ := do(t, app, http.MethodPost, path, map[string]string{"state": "COMPLETED"}); status != http.StatusConflict {
		t.Fatalf("expected 409, got %d", status)
	}
	if status, _ := do(t, app, http.MethodPost, path, map[string]string{"event": "schedule", "state": "SCHEDULED"}); status != http.StatusBadRequest {
		t.Fatalf("expected 400 for both fields, got %d", status)
	}

	status, body := do(t, app, http.MethodPost, path, map[string]string{"state": "SCHEDULED"})
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", status, body)
	}
	got, _ := tasks.Get(created.ID)
	if got.State != task.StateScheduled {
		t.Fatalf("expected SCHEDULED, got %s", got.State)
	}
}

func TestWritesSurviveLaterRequests(t *testing.T) {
	app, tasks := newTestApp()
	created := createTask(t, app, "outdoor", "Seattle")
	path := "/api/v1/tasks/" + created.ID

	if status, body := do(t, app, http.MethodPost, path+"/transitions", map[string]string{"event": "schedule"}); status != http.StatusOK {
		t.Fatalf("schedule: expected 200, got %d: %s", status, body)
	}
	do(t, app, http.MethodGet, "/api/v1/state-machine", nil)

	if status, body := do(t, app, http.MethodPatch, path, map[string]any{"priority": 3}); status != http.StatusOK {
		t.Fatalf("edit: expected 200, got %d: %s", status, body)
	}
	do(t, app, http.MethodGet, "/api/v1/tasks?state=LOST", nil)

	got, err := tasks.Get(created.ID)
	if err != nil {
		t.Fatalf("expected task after later requests, got %v", err)
	}
	if got.State != task.StateScheduled || got.Priority != 3 {
		t.Fatalf("unexpected task %+v", got)
	}

	status, body := do(t, app, http.MethodGet, path, nil)
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", status, body)
	}
	if n := len(tasks.List()); n != 1 {
		t.Fatalf("expected one task, got %d", n)
	}
}

func TestWeatherCacheKeySurvivesLaterRequests(t *testing.T) {
	app, _ := newTestApp()

	if status, body := do(t, app, http.MethodGet, "/api/v1/weather?location=Seattle", nil); status != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", status, body)
	}
	do(t, app, http.MethodGet, "/api/v1/weather?location=Atlantis", nil)

	if status, body := do(t, app, http.MethodGet, "/api/v1/weather?location=Seattle&cached=true", nil); status != http.StatusOK {
		t.Fatalf("expected cached snapshot, got %d: %s", status, body)
	}
}

func TestWeatherImpact(t *testing.T) {
	app, _ := newTestApp()
	created := createTask(t, app, "outdoor", "Seattle")

	status, body := do(t, app, http.MethodGet, "/api/v1/tasks/"+created.ID+"/weather-impact", nil)
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", status, body)
	}
	var resp struct {
		TaskID  string         `json:"taskId"`
		Verdict impact.Verdict `json:"verdict"`
	}
	decode(t, body, &resp)
	if resp.TaskID != created.ID || resp.Verdict.CanProceed || resp.Verdict.RiskLevel != impact.RiskMedium {
		t.Fatalf("unexpected verdict %+v", resp)
	}
	if resp.Verdict.SuggestedDate == nil {
		t.Fatalf("expected a suggested date")
	}

	broken := createTask(t, app, "outdoor", "Atlantis")
	if status, _ := do(t, app, http.MethodGet, "/api/v1/tasks/"+broken.ID+"/weather-impact", nil); status != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", status)
	}
}

func TestRecheck(t *testing.T) {
	app, tasks := newTestApp()
	created := createTask(t, app, "outdoor", "Seattle")
	do(t, app, http.MethodPost, "/api/v1/tasks/"+created.ID+"/transitions", map[string]string{"event": "schedule"})

	status, body := do(t, app, http.MethodPost, "/api/v1/tasks/recheck", nil)
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", status, body)
	}
	var resp struct {
		Results []struct {
			Task  task.Task       `json:"task"`
			Event lifecycle.Event `json:"event"`
		} `json:"results"`
	}
	decode(t, body, &resp)
	if len(resp.Results) != 1 || resp.Results[0].Event != lifecycle.EventWeatherBlock {
		t.Fatalf("unexpected results %s", body)
	}
	got, _ := tasks.Get(created.ID)
	if got.State != task.StateWeatherDelayed {
		t.Fatalf("expected WEATHER_DELAYED, got %s", got.State)
	}

	if status, _ := do(t, app, http.MethodPost, "/api/v1/tasks/recheck", map[string]any{"ids": []string{"missing"}}); status != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", status)
	}
}

func TestWeatherEndpoints(t *testing.T) {
	app, _ := newTestApp()

	if status, _ := do(t, app, http.MethodGet, "/api/v1/weather", nil); status != http.StatusBadRequest {
		t.Fatalf("expected 400 without location, got %d", status)
	}
	if status, _ := do(t, app, http.MethodGet, "/api/v1/weather?location=Seattle&cached=true", nil); status != http.StatusNotFound {
		t.Fatalf("expected 404 before first fetch, got %d", status)
	}

	status, body := do(t, app, http.MethodGet, "/api/v1/weather?location=Seattle", nil)
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", status, body)
	}
	var snap weather.Snapshot
	decode(t, body, &snap)
	if len(snap.Forecast) != 2 || snap.Stale {
		t.Fatalf("unexpected snapshot %s", body)
	}

	if status, _ := do(t, app, http.MethodGet, "/api/v1/weather?location=Atlantis", nil); status != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", status)
	}

	status, body = do(t, app, http.MethodGet, "/api/v1/weather/cache", nil)
	var stats struct {
		TTLSeconds int         `json:"ttlSeconds"`
		Stats      cache.Stats `json:"stats"`
	}
	decode(t, body, &stats)
	if status != http.StatusOK || stats.TTLSeconds != 60 || stats.Stats.Refreshes != 1 || stats.Stats.Failures != 1 {
		t.Fatalf("unexpected cache stats %s", body)
	}
}

func TestStateMachineEndpoint(t *testing.T) {
	app, _ := newTestApp()
	status, body := do(t, app, http.MethodGet, "/api/v1/state-machine", nil)
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	var resp struct {
		Initial     task.State             `json:"initial"`
		Transitions []lifecycle.Transition `json:"transitions"`
	}
	decode(t, body, &resp)
	if resp.Initial != task.StateDraft || len(resp.Transitions) != 5 {
		t.Fatalf("unexpected state machine %s", body)
	}
}

func TestErrorStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{store.ErrNotFound, http.StatusNotFound},
		{&lifecycle.TransitionError{TaskID: "t"}, http.StatusConflict},
		{&weather.ProviderError{Location: "x"}, http.StatusBadGateway},
		{task.ErrInvalidCategory, http.StatusBadRequest},
		{fiber.NewError(http.StatusUnprocessableEntity, "x"), http.StatusUnprocessableEntity},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got := ErrorStatus(c.err); got != c.want {
			t.Errorf("%v: got %d, want %d", c.err, got, c.want)
		}
	}
}
