package bed

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func newTestHandler() (*Handler, *echo.Echo) {
	return NewHandler(NewService(newMockBedRepo())), echo.New()
}

func postBed(t *testing.T, h *Handler, e *echo.Echo, body string) (*httptest.ResponseRecorder, error) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return rec, h.CreateBed(e.NewContext(req, rec))
}

func TestHandler_CreateBed(t *testing.T) {
	h, e := newTestHandler()
	rec, err := postBed(t, h, e, `{"label":"ICU-1","ward":"icu"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}

	_, err = postBed(t, h, e, `{"label":"ICU-1"}`)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusConflict {
		t.Errorf("expected 409 for duplicate label, got %v", err)
	}
}

func TestHandler_ListAvailable_Empty(t *testing.T) {
	h, e := newTestHandler()
	rec := httptest.NewRecorder()
	if err := h.ListAvailable(e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusOK || rec.Body.String() != "[]\n" {
		t.Errorf("expected 200 with [], got %d %q", rec.Code, rec.Body.String())
	}
}

func TestHandler_GetBed_NotFound(t *testing.T) {
	h, e := newTestHandler()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())
	err := h.GetBed(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %v", err)
	}
}

func TestHandler_ListBeds(t *testing.T) {
	h, e := newTestHandler()
	_, _ = postBed(t, h, e, `{"label":"A"}`)
	_, _ = postBed(t, h, e, `{"label":"B"}`)
	rec := httptest.NewRecorder()
	if err := h.ListBeds(e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(rec.Body.String(), `"total":2`) {
		t.Errorf("expected total 2, got %s", rec.Body.String())
	}
}
