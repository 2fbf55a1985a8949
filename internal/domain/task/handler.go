package task

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/careflow/careflow/internal/platform/auth"
	"github.com/careflow/careflow/internal/platform/db"
	"github.com/careflow/careflow/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	agents := api.Group("", auth.RequireRole(
		auth.RoleMaster, auth.RoleBed, auth.RoleCleaner, auth.RoleNurse, auth.RoleOperator))
	agents.GET("/agent/tasks", h.Queue)

	ops := api.Group("", auth.RequireRole(auth.RoleOperator))
	ops.GET("/tasks", h.ListTasks)
	ops.GET("/tasks/:id", h.GetTask)
}

// Queue serves an agent's worklist. The role is matched case-insensitively.
// Agents may only read the queue of a role they hold; operators may read any.
func (h *Handler) Queue(c echo.Context) error {
	role := ParseRole(c.QueryParam("role"))
	if !role.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "role must be one of MASTER, BED, CLEANER, NURSE")
	}
	if !auth.HasRole(auth.RolesFromContext(c.Request().Context()), string(role), auth.RoleOperator) {
		return echo.NewHTTPError(http.StatusForbidden, "caller does not hold role "+string(role))
	}
	items, err := h.svc.Queue(c.Request().Context(), role)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) GetTask(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	t, err := h.svc.GetTask(c.Request().Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "task not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) ListTasks(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := ListFilter{Status: Status(c.QueryParam("status"))}
	if raw := c.QueryParam("role"); raw != "" {
		f.Role = ParseRole(raw)
	}
	var err error
	if f.PatientID, err = uuidParam(c, "patient_id"); err != nil {
		return err
	}
	if f.BedID, err = uuidParam(c, "bed_id"); err != nil {
		return err
	}
	items, total, err := h.svc.ListTasks(c.Request().Context(), f, pg.Limit, pg.Offset)
	if errors.Is(err, ErrInvalidFilter) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

// uuidParam parses an optional uuid query parameter.
func uuidParam(c echo.Context, name string) (*uuid.UUID, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return &id, nil
}
