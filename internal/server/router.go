package server

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gtzirun/cloud/internal/relay"
)

// Supervisor is the relay API the router drives.
type Supervisor interface {
	CreateStream(clientID string) (relay.Stream, error)
	ConfigureDestination(ctx context.Context, key, dest string) error
	StartStream(ctx context.Context, key string) error
	StopStream(ctx context.Context, key string) error
	Status(key string) (relay.StreamStatus, error)
	List() []relay.StreamStatus
}

// Router provides embeddable HTTP handlers for the relay supervisor.
// Endpoints (form or JSON bodies):
//
//	POST {basePath}/generate_push_url      client_id (optional)
//	POST {basePath}/configure_third_party  stream_key, third_party_url
//	POST {basePath}/start_stream           stream_key
//	POST {basePath}/stop_stream            stream_key
//	GET  {basePath}/streams
//	GET  {basePath}/streams/:key
//	GET  {basePath}/healthz
//	GET  {basePath}/metrics                when a metrics handler is set
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	sup      Supervisor
	basePath string
	logger   *slog.Logger
	metrics  http.Handler
}

func NewRouter(sup Supervisor, basePath string, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{sup: sup, basePath: sanitizeBase(basePath), logger: logger}
}

// SetMetricsHandler mounts h at {basePath}/metrics.
func (r *Router) SetMetricsHandler(h http.Handler) { r.metrics = h }

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery(), requestLogger(r.logger))
	group := g.Group(r.basePath)
	group.POST("/generate_push_url", r.handleGenerate)
	group.POST("/configure_third_party", r.handleConfigure)
	group.POST("/start_stream", r.handleStart)
	group.POST("/stop_stream", r.handleStop)
	group.GET("/streams", r.handleList)
	group.GET("/streams/:key", r.handleStatus)
	group.GET("/healthz", func(c *gin.Context) { writeJSON(c, http.StatusOK, okResp{Status: statusSuccess}) })
	if r.metrics != nil {
		group.GET("/metrics", gin.WrapH(r.metrics))
	}
	return g
}

// NewServer binds addr and serves the router in the background, over TLS
// when tlsCfg is non-nil. Bind
// errors are returned; the server's Addr holds the bound address.
func NewServer(addr string, r *Router, tlsCfg *tls.Config) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	// WriteTimeout covers stop and reconfigure waiting out the grace period.
	server := &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
		TLSConfig:         tlsCfg,
	}
	if tlsCfg != nil {
		ln = tls.NewListener(ln, tlsCfg)
	}
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("http server stopped", "addr", server.Addr, "error", err)
		}
	}()
	return server, nil
}

// --- Handlers ---

const (
	statusSuccess = "success"
	statusError   = "error"
)

type errorResp struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type okResp struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type createResp struct {
	Status string `json:"status"`
	relay.Stream
}

type listResp struct {
	Status  string               `json:"status"`
	Streams []relay.StreamStatus `json:"streams"`
}

type statusResp struct {
	Status string             `json:"status"`
	Stream relay.StreamStatus `json:"stream"`
}

type streamReq struct {
	ClientID      string `form:"client_id" json:"client_id"`
	StreamKey     string `form:"stream_key" json:"stream_key"`
	ThirdPartyURL string `form:"third_party_url" json:"third_party_url"`
}

func bindReq(c *gin.Context) (streamReq, bool) {
	var req streamReq
	if err := c.ShouldBind(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Status: statusError, Message: "invalid request: " + err.Error()})
		return req, false
	}
	req.StreamKey = strings.TrimSpace(req.StreamKey)
	return req, true
}

func (r *Router) handleGenerate(c *gin.Context) {
	req, ok := bindReq(c)
	if !ok {
		return
	}
	st, err := r.sup.CreateStream(strings.TrimSpace(req.ClientID))
	if err != nil {
		r.writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, createResp{Status: statusSuccess, Stream: st})
}

func (r *Router) handleConfigure(c *gin.Context) {
	req, ok := bindReq(c)
	if !ok {
		return
	}
	if req.StreamKey == "" || strings.TrimSpace(req.ThirdPartyURL) == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Status: statusError, Message: "stream_key and third_party_url are required"})
		return
	}
	if err := r.sup.ConfigureDestination(c.Request.Context(), req.StreamKey, req.ThirdPartyURL); err != nil {
		r.writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{Status: statusSuccess, Message: "destination configured"})
}

func (r *Router) handleStart(c *gin.Context) {
	req, ok := bindReq(c)
	if !ok {
		return
	}
	if req.StreamKey == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Status: statusError, Message: "stream_key is required"})
		return
	}
	if err := r.sup.StartStream(c.Request.Context(), req.StreamKey); err != nil {
		r.writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{Status: statusSuccess, Message: "relay started"})
}

func (r *Router) handleStop(c *gin.Context) {
	req, ok := bindReq(c)
	if !ok {
		return
	}
	if req.StreamKey == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Status: statusError, Message: "stream_key is required"})
		return
	}
	if err := r.sup.StopStream(c.Request.Context(), req.StreamKey); err != nil {
		r.writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{Status: statusSuccess, Message: "relay stopped"})
}

func (r *Router) handleList(c *gin.Context) {
	writeJSON(c, http.StatusOK, listResp{Status: statusSuccess, Streams: r.sup.List()})
}

func (r *Router) handleStatus(c *gin.Context) {
	st, err := r.sup.Status(c.Param("key"))
	if err != nil {
		r.writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, statusResp{Status: statusSuccess, Stream: st})
}

// writeError maps supervisor errors to statuses. Unexpected failures get
// a generic message; details stay in the log.
func (r *Router) writeError(c *gin.Context, err error) {
	code, msg := http.StatusInternalServerError, "internal error"
	switch {
	case errors.Is(err, relay.ErrNotFound):
		code, msg = http.StatusNotFound, "stream not found"
	case errors.Is(err, relay.ErrAlreadyRunning):
		code, msg = http.StatusConflict, "relay already running"
	case errors.Is(err, relay.ErrInvalidDestination):
		code, msg = http.StatusBadRequest, "invalid destination"
	case errors.Is(err, relay.ErrClosed):
		code, msg = http.StatusServiceUnavailable, "shutting down"
	case errors.Is(err, relay.ErrSpawnFailed):
		msg = "failed to start relay"
	}
	if code >= http.StatusInternalServerError {
		r.logger.Error("request failed", "path", c.Request.URL.Path, "error", err)
	}
	writeJSON(c, code, errorResp{Status: statusError, Message: msg})
}
