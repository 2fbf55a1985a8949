package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func roleContext(roles ...string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithIdentity(req.Context(), "u", roles))
	return e.NewContext(req, httptest.NewRecorder())
}

func TestRequireRole_Allowed(t *testing.T) {
	c := roleContext(RoleNurse)
	err := RequireRole(RoleMaster, RoleNurse)(okHandler)(c)
	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestRequireRole_Denied(t *testing.T) {
	c := roleContext(RoleCleaner)
	err := RequireRole(RoleMaster, RoleNurse)(okHandler)(c)
	expectStatus(t, err, http.StatusForbidden)
}

func TestRequireRole_AdminBypass(t *testing.T) {
	c := roleContext(RoleAdmin)
	if err := RequireRole(RoleOperator)(okHandler)(c); err != nil {
		t.Error("admin should bypass role checks")
	}
}

func TestRequireRole_NoIdentity(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	err := RequireRole(RoleBed)(okHandler)(c)
	expectStatus(t, err, http.StatusForbidden)
}

func TestHasRole(t *testing.T) {
	tests := []struct {
		granted []string
		wanted  []string
		want    bool
	}{
		{[]string{RoleBed}, []string{RoleBed}, true},
		{[]string{RoleBed}, []string{RoleCleaner}, false},
		{[]string{RoleAdmin}, []string{RoleCleaner}, true},
		{nil, []string{RoleCleaner}, false},
		{[]string{"bed"}, []string{RoleBed}, false},
	}
	for _, tt := range tests {
		if got := HasRole(tt.granted, tt.wanted...); got != tt.want {
			t.Errorf("HasRole(%v, %v) = %v, want %v", tt.granted, tt.wanted, got, tt.want)
		}
	}
}

func TestUserIDFromContext_Empty(t *testing.T) {
	if uid := UserIDFromContext(context.Background()); uid != "" {
		t.Errorf("expected empty user id, got %q", uid)
	}
}
