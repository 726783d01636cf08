package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func newJWTApp() *fiber.App {
	app := fiber.New()
	app.Use(JWTProtected("secret"))
	app.Get("/whoami", func(c *fiber.Ctx) error {
		return c.SendString(c.Locals("user_id").(string) + "|" + currentRole(c))
	})
	return app
}

func TestJWTProtectedExposesStringSubject(t *testing.T) {
	app := newJWTApp()

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "secret", jwt.MapClaims{
		"sub":   "7b0c6d0e-4f7a-4d59-9b8e-1f2a3b4c5d6e",
		"roles": []interface{}{"Teacher"},
	}))
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "7b0c6d0e-4f7a-4d59-9b8e-1f2a3b4c5d6e|teacher", string(body))
}

func TestJWTProtectedRejectsBadTokens(t *testing.T) {
	app := newJWTApp()

	cases := map[string]string{
		"missing":      "",
		"scheme":       "Basic abc",
		"wrong secret": "Bearer " + signToken(t, "other", jwt.MapClaims{"sub": "u1"}),
		"no subject":   "Bearer " + signToken(t, "secret", jwt.MapClaims{"role": "student"}),
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
		})
	}
}

func TestNormalizeUserID(t *testing.T) {
	require.Equal(t, "42", normalizeUserID(float64(42)))
	require.Equal(t, "", normalizeUserID(float64(-1)))
	require.Equal(t, "", normalizeUserID(1.5))
	require.Equal(t, "abc", normalizeUserID(" abc "))
	require.Equal(t, "", normalizeUserID(true))
}

func TestPickRolePrefersStaff(t *testing.T) {
	require.Equal(t, "teacher", pickRole([]interface{}{"Student", "TEACHER"}))
	require.Equal(t, "student", pickRole([]interface{}{7, " student ", "guest"}))
	require.Equal(t, "admin", pickRole("Admin"))
	require.Equal(t, "", pickRole(42))
}
