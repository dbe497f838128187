package apihttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"callwatch/internal/auth"
	calls "callwatch/internal/calls/domain"
	"callwatch/internal/calls/infrastructure/memory"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

var testSecret = []byte("ops-secret")

type stubPinger struct {
	err error
}

func (p stubPinger) Ping(context.Context) error { return p.err }

func seededServer(t *testing.T, health Pinger) *Server {
	t.Helper()
	repo := memory.NewCallRepository()
	at := time.Date(2025, 11, 15, 9, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Insert(context.Background(), calls.NewCallRecord("Ana Silva", "Sala 2", "matriz", "Dr. A", at)))
	require.NoError(t, repo.Insert(context.Background(), calls.NewCallRecord("Caio", "Sala 3", "filial", "Dr. B", at.Add(time.Minute))))

	s, err := NewServer(repo, health, Options{
		Gatherer:   prometheus.NewRegistry(),
		Stream:     func(c echo.Context) error { return c.NoContent(http.StatusTeapot) },
		AuthSecret: testSecret,
	}, zerolog.Nop())
	require.NoError(t, err)
	return s
}

func tokenFor(t *testing.T, role auth.Role) string {
	t.Helper()
	token, err := auth.IssueJWT(testSecret, "ops", role, time.Hour, time.Now())
	require.NoError(t, err)
	return token
}

// get requests target as an admin.
func get(t *testing.T, s *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	return getWithToken(s, target, tokenFor(t, auth.RoleAdmin))
}

func getWithToken(s *Server, target, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	assert.Equal(t, http.StatusOK, getWithToken(seededServer(t, stubPinger{}), "/healthz", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, getWithToken(seededServer(t, stubPinger{err: errors.New("down")}), "/healthz", "").Code)
}

func TestMetricsAndStreamRoutes(t *testing.T) {
	s := seededServer(t, nil)

	assert.Equal(t, http.StatusOK, getWithToken(s, "/metrics", "").Code)
	assert.Equal(t, http.StatusTeapot, get(t, s, "/ws").Code)
	assert.Equal(t, http.StatusTeapot, getWithToken(s, "/ws?access_token="+tokenFor(t, auth.RoleViewer), "").Code)
}

func TestCallRoutesRequireToken(t *testing.T) {
	s := seededServer(t, nil)

	for _, target := range []string{
		"/api/v1/calls?date=2025-11-15",
		"/api/v1/exports/calls.csv?date=2025-11-15",
		"/api/v1/exports/calls.xlsx?date=2025-11-15",
		"/api/v1/exports/calls.pdf?date=2025-11-15",
		"/ws",
	} {
		rec := getWithToken(s, target, "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code, target)
		assert.NotContains(t, rec.Body.String(), "Ana Silva", target)
	}
}

func TestViewerCannotExport(t *testing.T) {
	s := seededServer(t, nil)
	viewer := tokenFor(t, auth.RoleViewer)

	assert.Equal(t, http.StatusOK, getWithToken(s, "/api/v1/calls?date=2025-11-15", viewer).Code)
	assert.Equal(t, http.StatusForbidden, getWithToken(s, "/api/v1/exports/calls.csv?date=2025-11-15", viewer).Code)
}

func TestEmptySecretDisablesCallRoutes(t *testing.T) {
	s, err := NewServer(memory.NewCallRepository(), nil, Options{Gatherer: prometheus.NewRegistry()}, zerolog.Nop())
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, get(t, s, "/api/v1/calls?date=2025-11-15").Code)
	assert.Equal(t, http.StatusOK, getWithToken(s, "/healthz", "").Code)
}

func TestListCalls(t *testing.T) {
	s := seededServer(t, nil)

	rec := get(t, s, "/api/v1/calls?date=2025-11-15&branch=matriz")
	require.Equal(t, http.StatusOK, rec.Code)

	var rows []callRow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "PANEL:2025-11-15:MATRIZ:ANA_SILVA:SALA_2", rows[0].ID)
	assert.Equal(t, "Dr. A", rows[0].Caller)
}

func TestListCallsValidatesDate(t *testing.T) {
	s := seededServer(t, nil)

	assert.Equal(t, http.StatusBadRequest, get(t, s, "/api/v1/calls").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, s, "/api/v1/calls?date=15/11/2025").Code)
}

func TestExportCallsCSV(t *testing.T) {
	s := seededServer(t, nil)

	rec := get(t, s, "/api/v1/exports/calls.csv?date=2025-11-15")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/csv")

	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "id,date,branch,patient,room,caller,registered_at", lines[0])
	assert.Equal(t, "PANEL:2025-11-15:MATRIZ:ANA_SILVA:SALA_2,2025-11-15,matriz,Ana Silva,Sala 2,Dr. A,2025-11-15T09:00:00Z", lines[1])
}

func TestExportCallsXLSX(t *testing.T) {
	s := seededServer(t, nil)

	rec := get(t, s, "/api/v1/exports/calls.xlsx?date=2025-11-15&branch=matriz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, contentTypeXLSX, rec.Header().Get("Content-Type"))

	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()

	branch, err := f.GetCellValue("summary", "B4")
	require.NoError(t, err)
	assert.Equal(t, "matriz", branch)
	patient, err := f.GetCellValue("calls", "D2")
	require.NoError(t, err)
	assert.Equal(t, "Ana Silva", patient)
	empty, err := f.GetCellValue("calls", "A3")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestExportCallsPDF(t *testing.T) {
	s := seededServer(t, nil)

	rec := get(t, s, "/api/v1/exports/calls.pdf?date=2025-11-15")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, contentTypePDF, rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF-")))

	assert.Equal(t, http.StatusBadRequest, get(t, s, "/api/v1/exports/calls.pdf").Code)
}

func TestNewServerRequiresLister(t *testing.T) {
	_, err := NewServer(nil, nil, Options{}, zerolog.Nop())
	assert.Error(t, err)
}
