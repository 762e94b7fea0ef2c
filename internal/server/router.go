package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/aistack/internal/metrics"
	"github.com/loykin/aistack/internal/process"
)

// Router provides embeddable HTTP handlers for inspecting and controlling
// managed services.
// Endpoints:
//
//	GET  {basePath}/healthz      liveness of the API itself
//	GET  {basePath}/status       query: name=... (single) or none (all)
//	POST {basePath}/start        body: Spec JSON
//	POST {basePath}/stop         query: name=...&force=1
//	GET  {basePath}/metrics      Prometheus exposition (when enabled)
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	sup        *process.Supervisor
	basePath   string
	exposeProm bool
}

// NewRouter constructs a Router with a configurable basePath.
// Example basePath: "/api" results in /api/status, /api/start, /api/stop.
func NewRouter(sup *process.Supervisor, basePath string, exposeProm bool) *Router {
	return &Router{sup: sup, basePath: sanitizeBase(basePath), exposeProm: exposeProm}
}

// Handler returns an http.Handler powered by gin that can be mounted in any
// server or mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/healthz", r.handleHealthz)
	group.GET("/status", r.handleStatus)
	group.POST("/start", r.handleStart)
	group.POST("/stop", r.handleStop)
	if r.exposeProm {
		group.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr, basePath string, exposeProm bool, sup *process.Supervisor) *http.Server {
	r := NewRouter(sup, basePath, exposeProm)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server
}

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

func (r *Router) handleHealthz(c *gin.Context) {
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStatus(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		writeJSON(c, http.StatusOK, r.sup.Statuses())
		return
	}
	st, ok := r.sup.Status(name)
	if !ok {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "unknown service: " + name})
		return
	}
	writeJSON(c, http.StatusOK, st)
}

func (r *Router) handleStart(c *gin.Context) {
	var spec process.Spec
	if err := c.ShouldBindJSON(&spec); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if spec.Name == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "spec.name required"})
		return
	}
	// Validate name and path-like fields to avoid uncontrolled path usage.
	if !isSafeName(spec.Name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid spec.name: allowed [A-Za-z0-9._-] and no '..' or path separators"})
		return
	}
	for field, p := range map[string]string{
		"work_dir":        spec.WorkDir,
		"pid_file":        spec.PIDFile,
		"log.dir":         spec.Log.File.Dir,
		"log.stdout_path": spec.Log.File.StdoutPath,
		"log.stderr_path": spec.Log.File.StderrPath,
	} {
		if !isSafeAbsPath(p) {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid " + field + ": must be absolute path without traversal"})
			return
		}
	}
	if err := spec.ValidateDetectors(); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	if _, err := r.sup.EnsureRunning(spec); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStop(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "name query param required"})
		return
	}
	force := c.Query("force") == "1" || c.Query("force") == "true"
	h, ok := r.sup.Handle(name)
	if !ok {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "unknown service: " + name})
		return
	}
	if _, err := r.sup.Stop(h, force); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}
