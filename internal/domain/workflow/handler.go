package workflow

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/careflow/careflow/internal/domain/bed"
	"github.com/careflow/careflow/internal/domain/patient"
	"github.com/careflow/careflow/internal/domain/task"
	"github.com/careflow/careflow/internal/platform/auth"
)

type Handler struct {
	engine *Engine
}

func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	admit := api.Group("", auth.RequireRole(auth.RoleOperator, auth.RoleMaster))
	admit.POST("/admissions/patients/:patient_id/admit", h.Admit)

	discharge := api.Group("", auth.RequireRole(auth.RoleOperator, auth.RoleNurse))
	discharge.POST("/discharge/patients/:patient_id/request", h.RequestDischarge)

	agents := api.Group("", auth.RequireRole(
		auth.RoleMaster, auth.RoleBed, auth.RoleCleaner, auth.RoleNurse, auth.RoleOperator))
	agents.POST("/agent/tasks/:id/complete", h.Complete)

	admin := api.Group("/admin", auth.RequireRole(auth.RoleOperator))
	admin.POST("/tasks/:id/override", h.Override)
}

// errorResponse is the body of every workflow failure.
type errorResponse struct {
	Error     Kind       `json:"error"`
	Message   string     `json:"message"`
	Entity    string     `json:"entity,omitempty"`
	ID        string     `json:"id,omitempty"`
	Expected  []string   `json:"expected,omitempty"`
	Actual    string     `json:"actual,omitempty"`
	Committed []string   `json:"committed,omitempty"`
	NextTask  *task.Task `json:"next_task,omitempty"`
}

func respondError(c echo.Context, err error) error {
	var we *Error
	if !errors.As(err, &we) {
		c.Logger().Error(err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
	return c.JSON(HTTPStatus(err), errorResponse{
		Error:     we.Kind,
		Message:   we.Error(),
		Entity:    we.Entity,
		ID:        we.ID,
		Expected:  we.Expected,
		Actual:    we.Actual,
		Committed: we.Committed,
		NextTask:  we.NextTask,
	})
}

func (h *Handler) Admit(c echo.Context) error {
	id, err := uuid.Parse(c.Param("patient_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
	}
	res, err := h.engine.CreateAdmission(c.Request().Context(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *Handler) RequestDischarge(c echo.Context) error {
	id, err := uuid.Parse(c.Param("patient_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
	}
	res, err := h.engine.RequestDischarge(c.Request().Context(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusAccepted, res)
}

type completeBody struct {
	Role     task.Role  `json:"role"`
	BedID    *uuid.UUID `json:"bed_id"`
	NextTask *NextTask  `json:"next_task"`
}

// Complete reports the end of an agent's work on a task. The role may be
// omitted when the caller holds exactly one agent role.
func (h *Handler) Complete(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var body completeBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	granted := auth.RolesFromContext(c.Request().Context())
	role := body.Role
	if role == "" {
		role = soleAgentRole(granted)
		if role == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "role is required")
		}
	}
	if !role.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "role must be one of MASTER, BED, CLEANER, NURSE")
	}
	if !auth.HasRole(granted, string(role), auth.RoleOperator) {
		return echo.NewHTTPError(http.StatusForbidden, "caller does not hold role "+string(role))
	}

	res, err := h.engine.CompleteTask(c.Request().Context(), CompleteRequest{
		TaskID:  id,
		Role:    role,
		Payload: Payload{BedID: body.BedID, NextTask: body.NextTask},
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func soleAgentRole(granted []string) task.Role {
	var found task.Role
	for _, g := range granted {
		if r := task.Role(g); r.Valid() {
			if found != "" {
				return ""
			}
			found = r
		}
	}
	return found
}

type overrideBody struct {
	Reason        string          `json:"reason"`
	PatientStatus *patient.Status `json:"patient_status"`
	BedStatus     *bed.Status     `json:"bed_status"`
	BedID         *uuid.UUID      `json:"bed_id"`
	NextTask      *NextTask       `json:"next_task"`
}

func (h *Handler) Override(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var body overrideBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	res, err := h.engine.OverrideTask(c.Request().Context(), OverrideRequest{
		TaskID:        id,
		Actor:         auth.UserIDFromContext(c.Request().Context()),
		Reason:        body.Reason,
		PatientStatus: body.PatientStatus,
		BedStatus:     body.BedStatus,
		BedID:         body.BedID,
		NextTask:      body.NextTask,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}
