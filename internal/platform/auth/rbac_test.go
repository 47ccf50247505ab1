package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestMatchScope(t *testing.T) {
	tests := []struct {
		granted  string
		required string
		want     bool
	}{
		{"Patient.read", "Patient.read", true},
		{"user/Patient.read", "Patient.read", true},
		{"system/*.read", "Patient.read", true},
		{"user/*.*", "Patient.read", true},
		{"user/Patient.write", "Patient.read", false},
		{"user/Observation.read", "Patient.read", false},
		{"openid", "Patient.read", false},
		{"", "Patient.read", false},
	}
	for _, tt := range tests {
		if got := matchScope(tt.granted, tt.required); got != tt.want {
			t.Errorf("matchScope(%q, %q) = %v, want %v", tt.granted, tt.required, got, tt.want)
		}
	}
}

func serveWithIdentity(mw echo.MiddlewareFunc, roles, scopes []string) error {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithIdentity(context.Background(), "u", roles, scopes))
	c := e.NewContext(req, httptest.NewRecorder())
	return mw(func(c echo.Context) error { return c.NoContent(http.StatusOK) })(c)
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name  string
		roles []string
		ok    bool
	}{
		{"allowed", []string{RoleIntake}, true},
		{"admin bypass", []string{RoleAdmin}, true},
		{"denied", []string{RoleClinician}, false},
		{"no roles", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := serveWithIdentity(RequireRole(RoleIntake), tt.roles, nil)
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.ok {
				wantStatus(t, err, http.StatusForbidden)
			}
		})
	}
}

func TestRequireScope(t *testing.T) {
	if err := serveWithIdentity(RequireScope("Patient", "read"), nil, []string{"user/Patient.read"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := serveWithIdentity(RequireScope("Patient", "read"), nil, []string{"user/Patient.write"})
	wantStatus(t, err, http.StatusForbidden)
}
