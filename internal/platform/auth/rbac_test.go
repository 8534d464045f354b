package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func contextWithRoles(roles ...string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(context.WithValue(req.Context(), UserRolesKey, roles))
	return e.NewContext(req, httptest.NewRecorder())
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name     string
		have     []string
		want     []string
		expected bool
	}{
		{"exact match", []string{"doctor"}, []string{"doctor", "operator"}, true},
		{"second role matches", []string{"patient", "operator"}, []string{"operator"}, true},
		{"admin bypass", []string{"admin"}, []string{"operator"}, true},
		{"no match", []string{"patient"}, []string{"doctor", "operator"}, false},
		{"no roles", nil, []string{"doctor"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var called bool
			h := RequireRole(tt.want...)(func(c echo.Context) error {
				called = true
				return nil
			})
			err := h(contextWithRoles(tt.have...))
			if tt.expected {
				if err != nil || !called {
					t.Fatalf("expected access, got err=%v called=%v", err, called)
				}
				return
			}
			expectStatus(t, err, http.StatusForbidden)
			if called {
				t.Error("handler should not run")
			}
		})
	}
}
