package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/idest-grading-api/internal/config"
	"github.com/noah-isme/idest-grading-api/internal/database"
	"github.com/noah-isme/idest-grading-api/internal/dto"
	"github.com/noah-isme/idest-grading-api/internal/handler"
	"github.com/noah-isme/idest-grading-api/internal/repository"
	"github.com/noah-isme/idest-grading-api/internal/router"
	"github.com/noah-isme/idest-grading-api/internal/service"
	"github.com/noah-isme/idest-grading-api/internal/utils"
)

const readingAssignmentBody = `{
  "skill": "reading",
  "title": "Academic Reading: Coral Reefs",
  "sections": [
    {
      "id": "s1",
      "title": "Passage 1",
      "order_index": 1,
      "material": {"type": "reading", "document_md": "# Coral reefs"},
      "question_groups": [
        {
          "id": "g1",
          "order_index": 1,
          "questions": [
            {"id": "q1", "order_index": 1, "type": "multiple_choice_single", "answer_key": {"choice": "B"}},
            {"id": "q2", "order_index": 2, "type": "gap_fill_template", "answer_key": {"blanks": {"1": "algae", "2": "warm"}}}
          ]
        }
      ]
    }
  ]
}`

type testPublisher struct {
	mu     sync.Mutex
	bodies [][]byte
	err    error
}

func (p *testPublisher) Publish(_ context.Context, _ string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.bodies = append(p.bodies, body)
	return nil
}

func (p *testPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.bodies)
}

// testAuth stands in for JWTProtected: identity comes from X-Test-User and X-Test-Role.
func testAuth(c *fiber.Ctx) error {
	user := c.Get("X-Test-User")
	if user == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "authorization header missing")
	}
	c.Locals("user_id", user)
	if role := c.Get("X-Test-Role"); role != "" {
		c.Locals("user_role", strings.ToLower(role))
	}
	return c.Next()
}

type testApp struct {
	app       *fiber.App
	db        *gorm.DB
	publisher *testPublisher
}

func setupApp(t *testing.T) testApp {
	t.Helper()

	dsn := "file:" + strings.NewReplacer("/", "_", " ", "_").Replace(t.Name()) + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	validate := validator.New(validator.WithRequiredStructEnabled())
	logger := zerolog.New(io.Discard)
	publisher := &testPublisher{}

	assignmentRepo := repository.NewAssignmentRepository(db)
	submissionRepo := repository.NewSubmissionRepository(db)
	eventRepo := repository.NewSubmissionEventRepository(db)
	lifecycle := service.NewSubmissionLifecycle(submissionRepo, eventRepo, logger)

	assignmentService := service.NewAssignmentService(assignmentRepo, validate, logger)
	submissionService := service.NewSubmissionService(submissionRepo, assignmentRepo, eventRepo, lifecycle, publisher, validate,
		service.SubmissionServiceConfig{QueueName: "grading_jobs", MaxAudioBytes: 4096}, logger)
	progressService := service.NewProgressService(submissionRepo, nil, 0, logger)

	app := fiber.New()
	router.Register(app, config.Config{AppName: "Test", JWTSecret: "secret", QueueDriver: "redis"}, router.Dependencies{
		AssignmentHandler: handler.NewAssignmentHandler(assignmentService, logger),
		SubmissionHandler: handler.NewSubmissionHandler(submissionService, logger),
		ProgressHandler:   handler.NewProgressHandler(progressService, logger),
		JWTMiddleware:     testAuth,
	})

	return testApp{app: app, db: db, publisher: publisher}
}

func (a testApp) do(t *testing.T, method, path, user, role string, body io.Reader, contentType string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	if role != "" {
		req.Header.Set("X-Test-Role", role)
	}
	resp, err := a.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func (a testApp) doJSON(t *testing.T, method, path, user, role, body string) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	return a.do(t, method, path, user, role, reader, fiber.MIMEApplicationJSON)
}

func (a testApp) createReadingAssignment(t *testing.T) dto.AssignmentResponse {
	t.Helper()
	resp := a.doJSON(t, http.MethodPost, "/api/v1/assignments", "teacher-1", "teacher", readingAssignmentBody)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	var body struct {
		Data dto.AssignmentResponse `json:"data"`
	}
	decodeResponse(t, resp, &body)
	return body.Data
}

func TestAssignmentHandlerLifecycle(t *testing.T) {
	app := setupApp(t)

	resp := app.doJSON(t, http.MethodPost, "/api/v1/assignments", "student-1", "student", readingAssignmentBody)
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	created := app.createReadingAssignment(t)
	require.NotEmpty(t, created.ID)
	require.Equal(t, "teacher-1", created.CreatedBy)

	getResp := app.doJSON(t, http.MethodGet, "/api/v1/assignments/"+created.ID, "student-1", "student", "")
	require.Equal(t, fiber.StatusOK, getResp.StatusCode)
	raw, err := io.ReadAll(getResp.Body)
	require.NoError(t, err)
	require.Contains(t, string(raw), "Coral reefs")
	require.NotContains(t, string(raw), "answer_key")
	require.NotContains(t, string(raw), "algae")

	listResp := app.doJSON(t, http.MethodGet, "/api/v1/assignments?skill=reading", "student-1", "student", "")
	require.Equal(t, fiber.StatusOK, listResp.StatusCode)
	var listBody struct {
		Success bool                    `json:"success"`
		Data    []dto.AssignmentSummary `json:"data"`
		Meta    utils.PageMeta          `json:"meta"`
	}
	decodeResponse(t, listResp, &listBody)
	require.True(t, listBody.Success)
	require.Len(t, listBody.Data, 1)
	require.Equal(t, int64(1), listBody.Meta.TotalItems)
	require.Equal(t, service.DefaultAssignmentPageSize, listBody.Meta.Limit)

	badList := app.doJSON(t, http.MethodGet, "/api/v1/assignments?skill=cooking", "student-1", "student", "")
	require.Equal(t, fiber.StatusBadRequest, badList.StatusCode)

	delResp := app.doJSON(t, http.MethodDelete, "/api/v1/assignments/"+created.ID, "admin-1", "admin", "")
	require.Equal(t, fiber.StatusOK, delResp.StatusCode)

	missing := app.doJSON(t, http.MethodGet, "/api/v1/assignments/"+created.ID, "student-1", "student", "")
	require.Equal(t, fiber.StatusNotFound, missing.StatusCode)
}

func TestAssignmentHandlerRejectsInvalidContent(t *testing.T) {
	app := setupApp(t)

	listening := strings.Replace(readingAssignmentBody, `"skill": "reading"`, `"skill": "listening"`, 1)
	resp := app.doJSON(t, http.MethodPost, "/api/v1/assignments", "teacher-1", "teacher", listening)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp = app.doJSON(t, http.MethodPost, "/api/v1/assignments", "teacher-1", "teacher", `{"skill":"reading"}`)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	var body struct {
		Success bool     `json:"success"`
		Message string   `json:"message"`
		Details []string `json:"details"`
	}
	decodeResponse(t, resp, &body)
	require.False(t, body.Success)
	require.Equal(t, "validation failed", body.Message)
	require.NotEmpty(t, body.Details)

	resp = app.doJSON(t, http.MethodPost, "/api/v1/assignments", "teacher-1", "teacher", `{not json`)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestHealthAndAuthentication(t *testing.T) {
	app := setupApp(t)

	health := app.doJSON(t, http.MethodGet, "/api/v1/health", "", "", "")
	require.Equal(t, fiber.StatusOK, health.StatusCode)
	require.Equal(t, "Test", health.Header.Get("X-Application"))
	var body struct {
		Data handler.HealthResponse `json:"data"`
	}
	decodeResponse(t, health, &body)
	require.Equal(t, "ok", body.Data.Status)
	require.Equal(t, "redis", body.Data.QueueDriver)

	anonymous := app.doJSON(t, http.MethodGet, "/api/v1/assignments", "", "", "")
	require.Equal(t, fiber.StatusUnauthorized, anonymous.StatusCode)
}

func decodeResponse(t *testing.T, resp *http.Response, target interface{}) {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.NoError(t, json.Unmarshal(data, target))
}
