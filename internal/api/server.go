// Package api exposes preset inspection, session management and benchmarking
// over HTTP.
package api

import (
	"io"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"github.com/labstack/echo/v5"
	"golang.org/x/time/rate"

	"github.com/samcharles93/strata/internal/bench"
	"github.com/samcharles93/strata/internal/config"
	"github.com/samcharles93/strata/internal/logger"
	"github.com/samcharles93/strata/internal/session"
)

// Server wires the preset registry and session store into HTTP handlers.
type Server struct {
	reg   *config.Registry
	store *SessionStore
	log   logger.Logger

	// benchLimiter throttles benchmark runs, which hold a core for their
	// whole duration.
	benchLimiter *rate.Limiter
}

func NewServer(reg *config.Registry, store *SessionStore, log logger.Logger) *Server {
	if reg == nil {
		reg = config.Default()
	}
	if store == nil {
		store = NewSessionStore()
	}
	if log == nil {
		log = logger.Default()
	}
	return &Server{
		reg:          reg,
		store:        store,
		log:          log,
		benchLimiter: rate.NewLimiter(rate.Every(time.Second), 2),
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/healthz", s.handleHealth)
	e.GET("/v1/presets", s.handleListPresets)
	e.POST("/v1/bench", s.handleBench)

	e.POST("/v1/sessions", s.handleCreateSession)
	e.GET("/v1/sessions/:id", s.handleGetSession)
	e.DELETE("/v1/sessions/:id", s.handleDeleteSession)
	e.POST("/v1/sessions/:id/rollback", s.handleRollback)
	e.POST("/v1/sessions/:id/quantize", s.handleQuantize)
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListPresets(c *echo.Context) error {
	names := s.reg.Names()
	infos := make([]PresetInfo, 0, len(names))
	for _, name := range names {
		p, err := s.reg.Get(name)
		if err != nil {
			continue
		}
		infos = append(infos, PresetInfo{
			Name:      name,
			Kind:      p.Kind,
			GroupSize: p.GroupSize,
			Bits:      p.Bits,
			Step:      p.Step,
			Default:   name == s.reg.DefaultName(),
		})
	}
	return c.JSON(http.StatusOK, map[string]any{"presets": infos})
}

func (s *Server) handleBench(c *echo.Context) error {
	if !s.benchLimiter.Allow() {
		return writeError(c, http.StatusTooManyRequests, "rate_limit_error", "too many benchmark runs", "", "")
	}
	req, err := decodeJSON[BenchRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	if req.Steps > 4096 {
		return writeBadRequest(c, "steps must be at most 4096")
	}
	res, err := bench.Run(c.Request().Context(), s.reg, bench.Options{
		Preset:  req.Preset,
		Steps:   req.Steps,
		Layers:  req.Layers,
		QHeads:  req.QHeads,
		KVHeads: req.KVHeads,
		HeadDim: req.HeadDim,
		Seed:    req.Seed,
	})
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	s.log.Info("benchmark complete", "preset", res.Preset, "steps", res.Steps, "mean", res.Mean.String())
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleCreateSession(c *echo.Context) error {
	req, err := decodeJSON[CreateSessionRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	if req.Layers <= 0 {
		return writeBadRequest(c, "layers must be positive")
	}
	sess, err := session.New(s.reg, req.Preset, req.Layers)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	s.store.Save(sess)
	s.log.Info("session created", "id", sess.ID().String(), "preset", sess.Preset(), "layers", sess.Layers())
	return c.JSON(http.StatusOK, sessionResponse(sess))
}

func (s *Server) handleGetSession(c *echo.Context) error {
	sess, ok := s.store.Get(c.Param("id"))
	if !ok {
		return writeNotFound(c, "session not found")
	}
	return c.JSON(http.StatusOK, sessionResponse(sess))
}

func (s *Server) handleDeleteSession(c *echo.Context) error {
	id := c.Param("id")
	if !s.store.Delete(id) {
		return writeNotFound(c, "session not found")
	}
	return c.JSON(http.StatusOK, DeleteResponse{ID: id, Deleted: true})
}

func (s *Server) handleRollback(c *echo.Context) error {
	sess, ok := s.store.Get(c.Param("id"))
	if !ok {
		return writeNotFound(c, "session not found")
	}
	req, err := decodeJSON[RollbackRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	if req.Steps < 0 {
		return writeBadRequest(c, "steps must not be negative")
	}
	trimmed, err := sess.Rollback(req.Steps)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	return c.JSON(http.StatusOK, RollbackResponse{
		ID:      sess.ID().String(),
		Trimmed: trimmed,
		Offset:  sess.Offset(),
	})
}

func (s *Server) handleQuantize(c *echo.Context) error {
	sess, ok := s.store.Get(c.Param("id"))
	if !ok {
		return writeNotFound(c, "session not found")
	}
	req, err := decodeJSON[QuantizeRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	if err := sess.Quantize(req.GroupSize, req.Bits); err != nil {
		return writeBadRequest(c, err.Error())
	}
	s.log.Info("session quantized", "id", sess.ID().String(), "group_size", req.GroupSize, "bits", req.Bits)
	return c.JSON(http.StatusOK, sessionResponse(sess))
}

func sessionResponse(sess *session.Session) SessionResponse {
	return SessionResponse{
		ID:     sess.ID().String(),
		Object: "session",
		Preset: sess.Preset(),
		Layers: sess.Layers(),
		Offset: sess.Offset(),
	}
}

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg, "", "")
}

func writeNotFound(c *echo.Context, msg string) error {
	return writeError(c, http.StatusNotFound, "not_found_error", msg, "", "")
}

func writeError(c *echo.Context, status int, errType, msg, param, code string) error {
	return c.JSON(status, map[string]any{
		"error": ResponseError{
			Message: msg,
			Type:    errType,
			Code:    code,
			Param:   param,
		},
	})
}

func decodeJSON[T any](r io.Reader) (T, error) {
	var out T
	dec := json.NewDecoder(r)
	if err := dec.Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}
