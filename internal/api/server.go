// Package api exposes inference over HTTP: submit an input, poll a job,
// inspect the engine and the loaded network.
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"golang.org/x/time/rate"

	"github.com/samcharles93/tileflow/internal/engine"
)

type Server struct {
	store   *JobStore
	runner  *Runner
	limiter *rate.Limiter
	clock   func() time.Time
}

func NewServer(store *JobStore, runner *Runner) *Server {
	if store == nil {
		store = NewJobStore()
	}
	return &Server{
		store:  store,
		runner: runner,
		clock:  time.Now,
	}
}

// SetRateLimit caps inference submissions per second with the given burst.
// Zero or negative rps disables limiting.
func (s *Server) SetRateLimit(rps float64, burst int) {
	if rps <= 0 {
		s.limiter = nil
		return
	}
	s.limiter = rate.NewLimiter(rate.Limit(rps), burst)
}

func (s *Server) Register(e *echo.Echo) {
	e.POST("/v1/inference", s.handleCreateInference)
	e.GET("/v1/inference/:id", s.handleGetInference)
	e.GET("/v1/engine", s.handleEngineStatus)
	e.GET("/v1/network", s.handleNetwork)
}

// InferenceRequest is the submission body. Input is the image in
// channel-major order, one value per element.
type InferenceRequest struct {
	Input []float64 `json:"input"`
	// IncludeRaw returns the dequantized output feature map alongside
	// detections.
	IncludeRaw bool `json:"include_raw,omitempty"`
}

type inferenceResponse struct {
	JobRecord
	Raw []float64 `json:"raw,omitempty"`
}

func (s *Server) handleCreateInference(c *echo.Context) error {
	if s.runner == nil {
		return writeError(c, http.StatusInternalServerError, "server_error", "no model loaded")
	}
	if s.limiter != nil && !s.limiter.Allow() {
		return writeError(c, http.StatusTooManyRequests, "rate_limited", "too many inference requests")
	}

	req, err := decodeJSON[InferenceRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	if len(req.Input) == 0 {
		return writeBadRequest(c, "input is required")
	}

	rec := s.store.Create(s.clock())
	dets, raw, dur, err := s.runner.InferTimed(c.Request().Context(), req.Input)
	if err != nil {
		rec.Status = "failed"
		rec.Error = err.Error()
		s.store.Update(rec)
		return writeBadRequest(c, err.Error())
	}

	rec.Status = "completed"
	rec.DurationMS = dur.Milliseconds()
	rec.Detections = dets
	s.store.Update(rec)

	resp := inferenceResponse{JobRecord: *rec}
	if req.IncludeRaw {
		resp.Raw = raw
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleGetInference(c *echo.Context) error {
	rec, ok := s.store.Get(c.Param("id"))
	if !ok {
		return writeNotFound(c, "no such job")
	}
	return c.JSON(http.StatusOK, rec)
}

type engineStatus struct {
	State  string            `json:"state"`
	Limits engine.TileLimits `json:"limits"`
}

func (s *Server) handleEngineStatus(c *echo.Context) error {
	if s.runner == nil {
		return writeError(c, http.StatusInternalServerError, "server_error", "no model loaded")
	}
	return c.JSON(http.StatusOK, engineStatus{
		State:  s.runner.EngineState(),
		Limits: s.runner.drv.Engine().Limits(),
	})
}

type networkInfo struct {
	Name    string      `json:"name"`
	Classes int         `json:"classes,omitempty"`
	Anchors []float64   `json:"anchors,omitempty"`
	Layers  []layerInfo `json:"layers"`
}

type layerInfo struct {
	Name   string `json:"name"`
	Kind   string `json:"kind"`
	Input  string `json:"input"`
	Output string `json:"output"`
}

func (s *Server) handleNetwork(c *echo.Context) error {
	if s.runner == nil {
		return writeError(c, http.StatusInternalServerError, "server_error", "no model loaded")
	}
	n := s.runner.Network()
	info := networkInfo{
		Name:    n.Name,
		Classes: n.NumClasses,
		Anchors: n.Anchors,
	}
	for _, l := range n.Layers {
		oh, ow := l.Cfg.OutputDims()
		if l.Cfg.Kind.Pools() {
			oh, ow = l.Cfg.PooledDims()
		}
		info.Layers = append(info.Layers, layerInfo{
			Name:   l.Name,
			Kind:   l.Cfg.Kind.String(),
			Input:  fmt.Sprintf("%dx%dx%d", l.Cfg.InChannels, l.Cfg.InHeight, l.Cfg.InWidth),
			Output: fmt.Sprintf("%dx%dx%d", l.Cfg.OutChannels, oh, ow),
		})
	}
	return c.JSON(http.StatusOK, info)
}

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg)
}

func writeNotFound(c *echo.Context, msg string) error {
	return writeError(c, http.StatusNotFound, "not_found_error", msg)
}

func writeError(c *echo.Context, status int, errType, msg string) error {
	return c.JSON(status, map[string]any{
		"error": map[string]string{
			"type":    errType,
			"message": msg,
		},
	})
}

func decodeJSON[T any](r io.Reader) (*T, error) {
	var v T
	dec := json.NewDecoder(r)
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	return &v, nil
}
