// Package server exposes the public voting surface over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"kairo/internal/config"
	"kairo/internal/cycle"
	"kairo/internal/model"
)

// Server wires the cycle service into the HTTP edge.
type Server struct {
	svc      *cycle.Service
	cfg      *config.Config
	log      *zap.Logger
	version  string
	provider string
	engine   *gin.Engine
}

// New builds the HTTP surface. provider names the active text provider
// chain for status reporting; empty means no provider is configured.
func New(svc *cycle.Service, cfg *config.Config, log *zap.Logger, version, provider string) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		svc:      svc,
		cfg:      cfg,
		log:      log,
		version:  version,
		provider: provider,
	}
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(s.requestLogger(), gin.Recovery())

	engine.GET("/api/last", s.handleLast)
	engine.POST("/api/stance", s.handleStance)
	engine.POST("/api/admin/cycle", s.handleAdminCycle)
	engine.GET("/api/health", s.handleHealth)
	engine.GET("/api/archive", s.handleArchive)
	engine.GET("/api/status", s.handleStatus)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.engine = engine
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Server.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	s.log.Info("listening", zap.String("addr", s.cfg.Server.Addr))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// handleLast rotates if due and returns the live state. Before the first
// cycle exists it answers with an empty locked payload instead of an
// error so clients can poll from boot.
func (s *Server) handleLast(c *gin.Context) {
	state, err := s.svc.EnsureCurrentCycle(c.Request.Context())
	if err != nil {
		s.log.Warn("rotation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "STORE_ERROR"})
		return
	}
	if state == nil {
		c.JSON(http.StatusOK, gin.H{
			"ok":           true,
			"cycleId":      "",
			"cycleIndex":   0,
			"transmission": "",
			"locked":       true,
			"stanceCounts": model.StanceCounts{},
		})
		return
	}
	view := *state
	view.Locked = s.svc.IsLocked(state)
	state = &view
	c.JSON(http.StatusOK, gin.H{
		"ok":                  true,
		"cycleId":             state.CycleID,
		"cycleIndex":          state.CycleIndex,
		"at":                  state.At,
		"transmission":        state.Transmission,
		"trace":               state.Trace,
		"integrity":           state.Integrity,
		"repeatRisk":          state.RepeatRisk,
		"deliberation":        state.Deliberation,
		"topics":              state.Topics,
		"seedConcept":         state.SeedConcept,
		"modelMeta":           state.ModelMeta,
		"stanceCounts":        state.StanceCounts,
		"voteIntegrity":       model.ComputeIntegrity(state.StanceCounts),
		"locked":              state.Locked,
		"cycleEndsAt":         state.CycleEndsAt,
		"reward":              state.Reward,
		"doctrineVersion":     state.DoctrineVersion,
		"topicsVersion":       state.TopicsVersion,
		"seedConceptsVersion": state.SeedConceptsVersion,
	})
}

type stanceBody struct {
	Stance    string `json:"stance"`
	Wallet    string `json:"wallet"`
	Message   string `json:"message"`
	Signature string `json:"signature"`
}

func (s *Server) handleStance(c *gin.Context) {
	var body stanceBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": cycle.RejectInvalidStance})
		return
	}
	res := s.svc.RecordVote(c.Request.Context(), cycle.VoteRequest{
		Stance:    body.Stance,
		Wallet:    body.Wallet,
		Message:   body.Message,
		Signature: body.Signature,
		ClientIP:  c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	if !res.OK {
		CountVote(res.Code)
		payload := gin.H{"ok": false, "error": res.Code, "message": res.Detail}
		if res.Code == cycle.RejectAlreadyVoted {
			payload["cycleId"] = res.CycleID
			payload["stanceCounts"] = res.StanceCounts
		}
		c.JSON(res.HTTPStatus, payload)
		return
	}
	CountVote("accepted")
	c.JSON(http.StatusOK, gin.H{
		"ok":           true,
		"cycleId":      res.CycleID,
		"locked":       false,
		"stanceCounts": res.StanceCounts,
	})
}

type adminCycleBody struct {
	Seed string `json:"seed"`
}

// handleAdminCycle force-creates a cycle. Without a configured admin key
// the endpoint is dead, not open.
func (s *Server) handleAdminCycle(c *gin.Context) {
	if s.cfg.Server.AdminKey == "" || c.GetHeader("x-admin-key") != s.cfg.Server.AdminKey {
		c.JSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "UNAUTHORIZED"})
		return
	}
	var body adminCycleBody
	_ = c.ShouldBindJSON(&body)

	state, err := s.svc.GenerateAdminCycle(c.Request.Context(), body.Seed)
	if err != nil {
		s.log.Error("admin cycle failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "CYCLE_FAILED"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":         true,
		"cycleId":    state.CycleID,
		"cycleIndex": state.CycleIndex,
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx := c.Request.Context()
	warnings := []string{}

	state, err := s.svc.LatestState(ctx)
	storeOK := err == nil
	if !storeOK {
		warnings = append(warnings, "store unreachable")
	}
	if s.provider == "" {
		warnings = append(warnings, "no text provider configured")
	}
	cycleID := ""
	cycleBlock := gin.H{}
	if state != nil {
		cycleID = state.CycleID
		cycleBlock = gin.H{
			"cycleId":     state.CycleID,
			"cycleIndex":  state.CycleIndex,
			"at":          state.At,
			"cycleEndsAt": state.CycleEndsAt,
			"locked":      s.svc.IsLocked(state),
		}
	} else if storeOK {
		warnings = append(warnings, "no cycle yet")
	}

	status := http.StatusOK
	if len(warnings) > 0 || s.provider == "" || cycleID == "" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"ok": status == http.StatusOK,
		"services": gin.H{
			"store":    storeOK,
			"ai":       s.provider != "",
			"telegram": s.cfg.Notify.TelegramBotToken != "",
		},
		"warnings": warnings,
		"cycle":    cycleBlock,
	})
}

func (s *Server) handleArchive(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	entries, err := s.svc.Archive(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "STORE_ERROR"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "cycles": entries})
}

func (s *Server) handleStatus(c *gin.Context) {
	state, err := s.svc.LatestState(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "STORE_ERROR"})
		return
	}
	cycleID := ""
	if state != nil {
		cycleID = state.CycleID
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":       true,
		"version":  s.version,
		"provider": s.provider,
		"cycleId":  cycleID,
		"locked":   s.svc.IsLocked(state),
	})
}
