package apihttp

import (
	"context"
	"encoding/csv"
	"errors"
	"net/http"
	"time"

	"callwatch/internal/auth"
	calls "callwatch/internal/calls/domain"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const timeLayout = time.RFC3339

// CallLister reads stored calls of one day.
type CallLister interface {
	ListDay(ctx context.Context, date, branch string) ([]calls.CallRecord, error)
}

// Pinger reports store health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server exposes health, metrics, the notification stream and call queries.
type Server struct {
	echo   *echo.Echo
	calls  CallLister
	health Pinger
	logger zerolog.Logger
}

// Options wires optional routes.
type Options struct {
	Gatherer prometheus.Gatherer
	// Stream serves GET /ws when set.
	Stream echo.HandlerFunc
	// AuthSecret signs the tokens required on /api and /ws. When empty those
	// routes reject every request.
	AuthSecret []byte
}

// NewServer constructs the ops server.
func NewServer(lister CallLister, health Pinger, opts Options, logger zerolog.Logger) (*Server, error) {
	if lister == nil {
		return nil, errors.New("api: nil call lister")
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{echo: e, calls: lister, health: health, logger: logger}
	e.Use(s.logRequests)
	if len(opts.AuthSecret) == 0 {
		logger.Warn().Msg("http.auth_secret is empty: call queries and the live feed are disabled")
	}
	guard := auth.NewMiddleware(opts.AuthSecret, auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, nil))
	e.Use(guard.Handle)

	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	e.GET("/healthz", s.healthz)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	if opts.Stream != nil {
		e.GET("/ws", opts.Stream)
	}
	e.GET("/api/v1/calls", s.listCalls)
	e.GET("/api/v1/exports/calls.csv", s.exportCallsCSV)
	e.GET("/api/v1/exports/calls.xlsx", s.exportCallsXLSX)
	e.GET("/api/v1/exports/calls.pdf", s.exportCallsPDF)
	return s, nil
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Run serves addr until ctx is done.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("http listening")
		errCh <- s.echo.Start(addr)
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.echo.Shutdown(shutdownCtx)
	}
}

func (s *Server) logRequests(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}
		s.logger.Debug().
			Str("method", c.Request().Method).
			Str("path", c.Path()).
			Str("subject", auth.SubjectFromContext(c.Request().Context())).
			Str("role", string(auth.RoleFromContext(c.Request().Context()))).
			Int("status", c.Response().Status).
			Dur("duration", time.Since(start)).
			Msg("http request")
		return nil
	}
}

func (s *Server) healthz(c echo.Context) error {
	if s.health != nil {
		if err := s.health.Ping(c.Request().Context()); err != nil {
			s.logger.Warn().Err(err).Msg("health check failed")
			return c.String(http.StatusServiceUnavailable, "store unavailable")
		}
	}
	return c.String(http.StatusOK, "ok")
}

type callRow struct {
	ID           string    `json:"id"`
	Patient      string    `json:"patient"`
	Room         string    `json:"room"`
	Branch       string    `json:"branch"`
	Date         string    `json:"date"`
	RegisteredAt time.Time `json:"registered_at"`
	Caller       string    `json:"caller"`
}

// listCalls handles GET /api/v1/calls.
func (s *Server) listCalls(c echo.Context) error {
	date, branch, err := dayQuery(c)
	if err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}
	records, err := s.calls.ListDay(c.Request().Context(), date, branch)
	if err != nil {
		s.logger.Error().Err(err).Str("date", date).Msg("list calls failed")
		return c.String(http.StatusInternalServerError, "query calls error")
	}
	rows := make([]callRow, 0, len(records))
	for _, record := range records {
		rows = append(rows, callRow{
			ID:           record.ID,
			Patient:      record.Patient,
			Room:         record.Room,
			Branch:       record.Branch,
			Date:         record.Date,
			RegisteredAt: record.RegisteredAt.UTC(),
			Caller:       record.Caller,
		})
	}
	return c.JSON(http.StatusOK, rows)
}

// exportCallsCSV handles GET /api/v1/exports/calls.csv.
func (s *Server) exportCallsCSV(c echo.Context) error {
	_, _, records, err := s.exportDay(c)
	if err != nil {
		return err
	}

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/csv; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	writer := csv.NewWriter(w)
	_ = writer.Write(exportHeader)
	for _, record := range records {
		_ = writer.Write(exportRow(record))
	}
	writer.Flush()
	return writer.Error()
}

// exportCallsXLSX handles GET /api/v1/exports/calls.xlsx.
func (s *Server) exportCallsXLSX(c echo.Context) error {
	date, branch, records, err := s.exportDay(c)
	if err != nil {
		return err
	}
	body, err := BuildCallsXLSX(date, branch, records)
	if err != nil {
		s.logger.Error().Err(err).Str("date", date).Msg("build xlsx failed")
		return c.String(http.StatusInternalServerError, "export error")
	}
	return c.Blob(http.StatusOK, contentTypeXLSX, body)
}

// exportCallsPDF handles GET /api/v1/exports/calls.pdf.
func (s *Server) exportCallsPDF(c echo.Context) error {
	date, branch, records, err := s.exportDay(c)
	if err != nil {
		return err
	}
	body, err := BuildCallsPDF(date, branch, records)
	if err != nil {
		s.logger.Error().Err(err).Str("date", date).Msg("build pdf failed")
		return c.String(http.StatusInternalServerError, "export error")
	}
	return c.Blob(http.StatusOK, contentTypePDF, body)
}

// exportDay reads the day named by the query. Errors are *echo.HTTPError.
func (s *Server) exportDay(c echo.Context) (string, string, []calls.CallRecord, error) {
	date, branch, err := dayQuery(c)
	if err != nil {
		return "", "", nil, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	records, err := s.calls.ListDay(c.Request().Context(), date, branch)
	if err != nil {
		s.logger.Error().Err(err).Str("date", date).Msg("export calls failed")
		return "", "", nil, echo.NewHTTPError(http.StatusInternalServerError, "query calls error")
	}
	return date, branch, records, nil
}

func dayQuery(c echo.Context) (string, string, error) {
	date := c.QueryParam("date")
	if date == "" {
		return "", "", errors.New("date is required")
	}
	if _, err := time.Parse(calls.DateLayout, date); err != nil {
		return "", "", errors.New("date must be YYYY-MM-DD")
	}
	return date, c.QueryParam("branch"), nil
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format(timeLayout)
}
