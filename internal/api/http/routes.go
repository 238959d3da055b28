package httpapi

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"

	"github.com/i474232898/weather-aware-tasks/internal/cache"
	"github.com/i474232898/weather-aware-tasks/internal/lifecycle"
	"github.com/i474232898/weather-aware-tasks/internal/scheduler"
	"github.com/i474232898/weather-aware-tasks/internal/store"
	"github.com/i474232898/weather-aware-tasks/internal/task"
	"github.com/i474232898/weather-aware-tasks/internal/weather"
)

var validate = validator.New()

// Deps are the components the handlers call into.
type Deps struct {
	Store     *store.MemoryStore
	Machine   *lifecycle.Machine
	Scheduler *scheduler.Scheduler
	Cache     *cache.WeatherCache
	Fetch     cache.FetchFunc
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, d Deps) {
	h := &handlers{Deps: d}

	v1 := app.Group("/api/v1")

	v1.Get("/state-machine", h.stateMachine)

	v1.Post("/tasks", h.createTask)
	v1.Get("/tasks", h.listTasks)
	// Registered before /tasks/:id so "recheck" is never taken for an ID.
	v1.Post("/tasks/recheck", h.recheck)
	v1.Get("/tasks/:id", h.getTask)
	v1.Patch("/tasks/:id", h.editTask)
	v1.Delete("/tasks/:id", h.deleteTask)
	v1.Post("/tasks/:id/transitions", h.transition)
	v1.Get("/tasks/:id/weather-impact", h.weatherImpact)

	v1.Get("/weather", h.weather)
	v1.Get("/weather/cache", h.cacheStats)
}

type handlers struct {
	Deps
}

// ErrorStatus maps domain errors onto HTTP statuses.
func ErrorStatus(err error) int {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errors.Is(err, store.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, lifecycle.ErrInvalidTransition):
		return fiber.StatusConflict
	case errors.Is(err, weather.ErrProvider):
		return fiber.StatusBadGateway
	case errors.Is(err, task.ErrInvalidCategory), errors.Is(err, task.ErrInvalidState):
		return fiber.StatusBadRequest
	default:
		return fiber.StatusInternalServerError
	}
}

// ErrorHandler renders every error as {"error": true, "message": ...} with the status
// chosen by ErrorStatus.
func ErrorHandler(c *fiber.Ctx, err error) error {
	return c.Status(ErrorStatus(err)).JSON(fiber.Map{
		"error":   true,
		"message": err.Error(),
	})
}

func (h *handlers) stateMachine(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"states":      task.States,
		"initial":     task.StateDraft,
		"terminal":    []task.State{task.StateCompleted},
		"transitions": lifecycle.Table(),
	})
}

// createTaskRequest is the body of POST /tasks.
type createTaskRequest struct {
	Title         string     `json:"title" validate:"required,max=200"`
	Description   string     `json:"description" validate:"max=2000"`
	Category      string     `json:"category" validate:"required,oneof=outdoor delivery indoor travel"`
	ScheduledDate *time.Time `json:"scheduledDate"`
	Location      string     `json:"location" validate:"max=200"`
	Priority      int        `json:"priority" validate:"gte=0"`
}

func (h *handlers) createTask(c *fiber.Ctx) error {
	var req createTaskRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body: "+err.Error())
	}
	req.Category = strings.ToLower(strings.TrimSpace(req.Category))
	if err := validate.Struct(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if err := validateLocation(req.Location); err != nil {
		return err
	}

	cat, err := task.ParseCategory(req.Category)
	if err != nil {
		return err
	}

	t := task.Task{
		Title:       req.Title,
		Description: req.Description,
		Category:    cat,
		Location:    strings.TrimSpace(req.Location),
		Priority:    req.Priority,
	}
	if req.ScheduledDate != nil {
		t.ScheduledDate = *req.ScheduledDate
	}

	return c.Status(fiber.StatusCreated).JSON(h.Store.Create(t))
}

func (h *handlers) listTasks(c *fiber.Ctx) error {
	var states []task.State
	if raw := c.Query("state"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			st, err := task.ParseState(part)
			if err != nil {
				return err
			}
			states = append(states, st)
		}
	}
	return c.JSON(h.Store.List(states...))
}

func (h *handlers) getTask(c *fiber.Ctx) error {
	t, err := h.Store.Get(taskID(c))
	if err != nil {
		return err
	}
	return c.JSON(t)
}

// editTaskRequest is the body of PATCH /tasks/:id. Category and state are not editable.
type editTaskRequest struct {
	Title         *string    `json:"title" validate:"omitempty,min=1,max=200"`
	Description   *string    `json:"description" validate:"omitempty,max=2000"`
	ScheduledDate *time.Time `json:"scheduledDate"`
	Location      *string    `json:"location" validate:"omitempty,max=200"`
	Priority      *int       `json:"priority" validate:"omitempty,gte=0"`
	Category      *string    `json:"category"`
	State         *string    `json:"state"`
}

func (h *handlers) editTask(c *fiber.Ctx) error {
	var req editTaskRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body: "+err.Error())
	}
	if req.Category != nil {
		return fiber.NewError(fiber.StatusBadRequest, "category cannot be changed after creation")
	}
	if req.State != nil {
		return fiber.NewError(fiber.StatusBadRequest, "state changes go through POST /api/v1/tasks/:id/transitions")
	}
	if err := validate.Struct(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if req.Location != nil {
		if err := validateLocation(*req.Location); err != nil {
			return err
		}
	}

	t, err := h.Store.Edit(taskID(c), task.Edit{
		Title:         req.Title,
		Description:   req.Description,
		ScheduledDate: req.ScheduledDate,
		Location:      req.Location,
		Priority:      req.Priority,
	})
	if err != nil {
		return err
	}
	return c.JSON(t)
}

func (h *handlers) deleteTask(c *fiber.Ctx) error {
	if err := h.Store.Delete(taskID(c)); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// transitionRequest is the body of POST /tasks/:id/transitions; exactly one field is set.
type transitionRequest struct {
	Event string `json:"event" validate:"required_without=State,excluded_with=State"`
	State string `json:"state" validate:"required_without=Event"`
}

func (h *handlers) transition(c *fiber.Ctx) error {
	var req transitionRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body: "+err.Error())
	}
	if err := validate.Struct(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "provide exactly one of event or state")
	}

	target := req.Event
	if target == "" {
		target = req.State
	}

	t, err := h.Machine.Request(taskID(c), target)
	if err != nil {
		return err
	}
	return c.JSON(t)
}

func (h *handlers) weatherImpact(c *fiber.Ctx) error {
	t, err := h.Store.Get(taskID(c))
	if err != nil {
		return err
	}
	if strings.TrimSpace(t.Location) == "" || t.ScheduledDate.IsZero() {
		return fiber.NewError(fiber.StatusUnprocessableEntity, "task needs a location and scheduledDate to be evaluated")
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), 30*time.Second)
	defer cancel()

	v, err := h.Scheduler.Evaluate(ctx, t)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"taskId":  t.ID,
		"verdict": v,
	})
}

// recheckRequest optionally restricts a recheck to specific tasks.
type recheckRequest struct {
	IDs []string `json:"ids" validate:"omitempty,dive,required"`
}

type recheckEntry struct {
	scheduler.Result
	Error string `json:"error,omitempty"`
}

func (h *handlers) recheck(c *fiber.Ctx) error {
	var req recheckRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body: "+err.Error())
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), time.Minute)
	defer cancel()

	var results []scheduler.Result
	if len(req.IDs) == 0 {
		results = h.Scheduler.RecheckAll(ctx)
	} else {
		tasks := make([]task.Task, 0, len(req.IDs))
		for _, id := range req.IDs {
			t, err := h.Store.Get(id)
			if err != nil {
				return fiber.NewError(fiber.StatusNotFound, "task "+id+" not found")
			}
			tasks = append(tasks, t)
		}
		results = h.Scheduler.Recheck(ctx, tasks, h.Fetch)
	}

	entries := make([]recheckEntry, 0, len(results))
	for _, r := range results {
		e := recheckEntry{Result: r}
		if r.Err != nil {
			e.Error = r.Err.Error()
		}
		entries = append(entries, e)
	}
	return c.JSON(fiber.Map{"results": entries})
}

func (h *handlers) weather(c *fiber.Ctx) error {
	// Copied: the location outlives the request as a cache key.
	location := utils.CopyString(strings.TrimSpace(c.Query("location")))
	if location == "" {
		return fiber.NewError(fiber.StatusBadRequest, "location query parameter is required")
	}
	if err := validateLocation(location); err != nil {
		return err
	}

	if c.QueryBool("cached") {
		snap, ok := h.Cache.Peek(location)
		if !ok {
			return fiber.NewError(fiber.StatusNotFound, "no cached weather for requested location")
		}
		return c.JSON(snap)
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), 30*time.Second)
	defer cancel()

	snap, err := h.Cache.GetOrRefresh(ctx, location, h.Fetch)
	if err != nil {
		return err
	}
	return c.JSON(snap)
}

func (h *handlers) cacheStats(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"ttlSeconds": int(h.Cache.TTL().Seconds()),
		"stats":      h.Cache.Stats(),
	})
}

// taskID copies the :id param; fiber reuses the underlying buffer once the handler returns.
func taskID(c *fiber.Ctx) string {
	return utils.CopyString(c.Params("id"))
}

func validateLocation(location string) error {
	if strings.TrimSpace(location) == "" {
		return nil
	}
	if _, err := weather.ParseLocation(location); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return nil
}
