package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nshruti113/slice-sentinel/internal/capture"
	"github.com/nshruti113/slice-sentinel/internal/models"
	"github.com/nshruti113/slice-sentinel/internal/pipeline"
	"github.com/nshruti113/slice-sentinel/internal/slicing"
	"github.com/nshruti113/slice-sentinel/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SimulatedHeader marks requests coming from the attack simulator
const SimulatedHeader = "X-Simulated-Attack"

// Store is the read side of the audit store
type Store interface {
	GetBlocked(ctx context.Context) ([]models.BlockRecord, error)
	RecentAlerts(ctx context.Context, n int) ([]models.Alert, error)
	SliceEvents(ctx context.Context, n int) ([]models.SliceEvent, error)
	GetMetrics(ctx context.Context, windowStart time.Time) (*models.Metrics, error)
	GetRecentTraffic(ctx context.Context, seconds int) ([]models.TelemetryRecord, error)
}

// Prober checks the SDN controller
type Prober interface {
	Reachable(ctx context.Context) bool
}

// SourceFactory opens the configured packet source for a capture run
type SourceFactory func() (capture.Source, error)

type Options struct {
	Engine   *pipeline.Engine
	Sources  SourceFactory
	SDN      Prober
	Store    Store
	Hub      *telemetry.Hub
	Gatherer prometheus.Gatherer
}

type Server struct {
	Options
	ctx    context.Context
	router *gin.Engine
}

// NewServer builds the router. Capture runs started through the API are
// bound to ctx.
func NewServer(ctx context.Context, opts Options) *Server {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	s := &Server{Options: opts, ctx: ctx, router: router}
	s.setupRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.Use(corsMiddleware())

	api := s.router.Group("/api")
	{
		// Capture control
		api.POST("/start-capture", s.startCapture)
		api.POST("/stop-capture", rejectSimulated(), s.stopCapture)
		api.GET("/health", s.health)

		// Traffic ingestion
		api.POST("/traffic/ingest", s.ingestTraffic)
		api.GET("/metrics/current", s.currentMetrics)
		api.GET("/traffic/recent", s.recentTraffic)

		// Mitigation
		api.GET("/blocked-ips", s.blockedIPs)
		api.POST("/block", s.block)
		api.POST("/unblock", s.unblock)
		api.GET("/force-malicious", s.forcedIPs)
		api.POST("/force-malicious", s.forceMalicious)
		api.DELETE("/force-malicious/:ip", s.clearForceMalicious)

		// Slices
		api.GET("/slices", s.slices)
		api.GET("/slices/:id", s.slice)
		api.POST("/slices/:id/threat", s.reportThreat)
		api.GET("/slice-events", s.sliceEvents)

		// Alerts
		api.GET("/alerts", s.alerts)
	}

	if s.Hub != nil {
		s.router.GET("/ws", func(c *gin.Context) {
			s.Hub.ServeWS(c.Writer, c.Request)
		})
	}
	if s.Gatherer != nil {
		s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{})))
	}
}

func (s *Server) startCapture(c *gin.Context) {
	if s.Engine.Running() {
		c.JSON(http.StatusConflict, gin.H{"error": "capture already running"})
		return
	}
	if s.Sources == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no packet source configured"})
		return
	}

	src, err := s.Sources()
	if err != nil {
		log.Printf("Error opening packet source: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !s.Engine.Start(s.ctx, src) {
		c.JSON(http.StatusConflict, gin.H{"error": "capture already running"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "started"})
}

func (s *Server) stopCapture(c *gin.Context) {
	if !s.Engine.Stop() {
		c.JSON(http.StatusConflict, gin.H{"error": "capture not running"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}

func (s *Server) health(c *gin.Context) {
	isolated := 0
	for _, snap := range s.Engine.Slices.Status() {
		if snap.Status == models.SliceIsolated {
			isolated++
		}
	}

	sdnReachable := false
	if s.SDN != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		sdnReachable = s.SDN.Reachable(ctx)
		cancel()
	}

	wsClients := 0
	if s.Hub != nil {
		wsClients = s.Hub.Clients()
	}

	c.JSON(http.StatusOK, gin.H{
		"status":            "ok",
		"capture_running":   s.Engine.Running(),
		"scorer_loaded":     s.Engine.Classifier.ScorerActive(),
		"sdn_reachable":     sdnReachable,
		"blocked_count":     s.Engine.Mitigation.Count(),
		"isolated_slices":   isolated,
		"tracked_sources":   s.Engine.Rates.Sources(),
		"websocket_clients": wsClients,
		"timestamp":         time.Now(),
	})
}

// ingestTraffic runs one observation through the pipeline
func (s *Server) ingestTraffic(c *gin.Context) {
	var obs models.Observation
	if err := c.ShouldBindJSON(&obs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if isSimulated(c) {
		obs.Simulated = true
	}

	res := s.Engine.Process(context.WithoutCancel(c.Request.Context()), obs)
	c.JSON(http.StatusOK, res)
}

func (s *Server) currentMetrics(c *gin.Context) {
	if s.Store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store disabled"})
		return
	}
	metrics, err := s.Store.GetMetrics(c.Request.Context(), time.Now())
	if err != nil {
		c.JSON(http.StatusOK, gin.H{
			"timestamp":     time.Now(),
			"total_packets": 0,
			"unique_ips":    0,
		})
		return
	}
	c.JSON(http.StatusOK, metrics)
}

// recentTraffic returns stored records from the last ?seconds= (default 60,
// at most the 5 minutes the store keeps)
func (s *Server) recentTraffic(c *gin.Context) {
	if s.Store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store disabled"})
		return
	}
	seconds, err := strconv.Atoi(c.Query("seconds"))
	if err != nil || seconds <= 0 || seconds > 300 {
		seconds = 60
	}
	records, err := s.Store.GetRecentTraffic(c.Request.Context(), seconds)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"seconds": seconds,
		"count":   len(records),
		"traffic": records,
	})
}

type ipRequest struct {
	IP string `json:"ip" binding:"required"`
}

func (s *Server) blockedIPs(c *gin.Context) {
	blocked := s.Engine.Mitigation.Blocked()
	resp := gin.H{
		"blocked_ips": blocked,
		"count":       len(blocked),
	}

	if s.Store != nil {
		records, err := s.Store.GetBlocked(c.Request.Context())
		if err != nil {
			log.Printf("Error reading block records: %v", err)
		} else {
			resp["records"] = records
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) block(c *gin.Context) {
	var req ipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !s.Engine.Mitigation.Block(c.Request.Context(), req.IP) {
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to install drop rule", "ip": req.IP})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "blocked", "ip": req.IP})
}

func (s *Server) unblock(c *gin.Context) {
	var req ipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !s.Engine.Mitigation.Unblock(c.Request.Context(), req.IP) {
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to remove drop rule", "ip": req.IP})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "unblocked", "ip": req.IP})
}

func (s *Server) forcedIPs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"force_malicious": s.Engine.Classifier.ForcedIPs()})
}

func (s *Server) forceMalicious(c *gin.Context) {
	var req ipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.Engine.Classifier.ForceMalicious(req.IP)
	c.JSON(http.StatusOK, gin.H{"status": "added", "ip": req.IP})
}

func (s *Server) clearForceMalicious(c *gin.Context) {
	ip := c.Param("ip")
	s.Engine.Classifier.ClearForceMalicious(ip)
	c.JSON(http.StatusOK, gin.H{"status": "removed", "ip": ip})
}

func (s *Server) slices(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"slices": s.Engine.Slices.Status()})
}

func (s *Server) slice(c *gin.Context) {
	id := models.SliceID(c.Param("id"))
	snap, ok := s.Engine.Slices.Snapshot(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown slice"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"slice":    snap,
		"patterns": s.Engine.Slices.Patterns(id),
	})
}

func (s *Server) reportThreat(c *gin.Context) {
	var report models.ThreatReport
	if err := c.ShouldBindJSON(&report); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id := models.SliceID(c.Param("id"))
	err := s.Engine.Slices.ReportThreat(c.Request.Context(), id, report)
	if errors.Is(err, slicing.ErrUnknownSlice) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	snap, _ := s.Engine.Slices.Snapshot(id)
	c.JSON(http.StatusOK, snap)
}

func (s *Server) sliceEvents(c *gin.Context) {
	if s.Store == nil {
		c.JSON(http.StatusOK, gin.H{"events": []models.SliceEvent{}})
		return
	}
	events, err := s.Store.SliceEvents(c.Request.Context(), limit(c, 50))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (s *Server) alerts(c *gin.Context) {
	if s.Store == nil {
		c.JSON(http.StatusOK, gin.H{"alerts": []models.Alert{}})
		return
	}
	alerts, err := s.Store.RecentAlerts(c.Request.Context(), limit(c, 50))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts})
}

func limit(c *gin.Context, def int) int {
	n, err := strconv.Atoi(c.Query("limit"))
	if err != nil || n <= 0 || n > 1000 {
		return def
	}
	return n
}

func isSimulated(c *gin.Context) bool {
	return c.GetHeader(SimulatedHeader) == "true"
}

// rejectSimulated keeps the attack simulator from stopping detection
func rejectSimulated() gin.HandlerFunc {
	return func(c *gin.Context) {
		if isSimulated(c) {
			log.Printf("⚠️ Rejected %s from simulated client %s", c.Request.URL.Path, c.ClientIP())
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "simulated clients cannot stop capture"})
			return
		}
		c.Next()
	}
}

// corsMiddleware handles CORS
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With, "+SimulatedHeader)
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
