package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"callflow/internal/auth"

	"github.com/gin-gonic/gin"
)

func serve(tenantID, role string, chain ...gin.HandlerFunc) int {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	handlers := []gin.HandlerFunc{func(c *gin.Context) {
		ctx := auth.WithIdentity(c.Request.Context(), "u", tenantID, role)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}}
	handlers = append(handlers, chain...)
	handlers = append(handlers, func(c *gin.Context) { c.Status(200) })
	r.GET("/x", handlers...)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	return w.Code
}

func TestRequireAnyRole_SuperAdminBypasses(t *testing.T) {
	if code := serve("t", RoleSuperAdmin, RequireTenant(), RequireAnyRole(RoleAdmin)); code != 200 {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestRequireAnyRole_UnlistedRoleDenied(t *testing.T) {
	if code := serve("t", "platform_operator", RequireTenant(), RequireAnyRole(RoleAdmin)); code != 403 {
		t.Fatalf("expected 403, got %d", code)
	}
}

func TestIsKnownRole(t *testing.T) {
	for _, r := range []string{RoleAdmin, RoleMember, RoleAgentTool, RoleSuperAdmin} {
		if !IsKnownRole(r) {
			t.Fatalf("expected %q to be known", r)
		}
	}
	if IsKnownRole("platform_operator") || IsKnownRole("") {
		t.Fatalf("unexpected known role")
	}
}

func TestRequireAnyRole_AgentToolLimitedToBooking(t *testing.T) {
	if code := serve("t", RoleAgentTool, RequireTenant(), RequireAnyRole(RoleAdmin, RoleMember)); code != 403 {
		t.Fatalf("expected 403, got %d", code)
	}
	if code := serve("t", RoleAgentTool, RequireTenant(), RequireAnyRole(RoleAdmin, RoleAgentTool)); code != 200 {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestRequireTenant_Required(t *testing.T) {
	if code := serve("", RoleAdmin, RequireTenant(), RequireAnyRole(RoleAdmin)); code != 401 {
		t.Fatalf("expected 401, got %d", code)
	}
}
