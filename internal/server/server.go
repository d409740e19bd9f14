// Package server exposes a Store over HTTP.
package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kartikbazzad/bunbase/bunstore"
	"github.com/kartikbazzad/bunbase/bunstore/engine"
	apperrors "github.com/kartikbazzad/bunbase/bunstore/internal/errors"
	"github.com/kartikbazzad/bunbase/bunstore/internal/logger"
)

// Config configures the HTTP surface.
type Config struct {
	RateLimit float64 // requests per second per client; 0 disables
	Burst     int
}

// Server serves one store.
type Server struct {
	store    *bunstore.Store
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	router   *gin.Engine
}

// New builds the router. gatherer backs GET /metrics and may be nil.
func New(store *bunstore.Store, cfg Config, gatherer prometheus.Gatherer, log *slog.Logger) *Server {
	if log == nil {
		log = logger.Get()
	}
	s := &Server{
		store:    store,
		gatherer: gatherer,
		logger:   log.With("component", "http"),
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(s.requestLogger())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	v1 := router.Group("/v1")
	v1.Use(RateLimitMiddleware(cfg.RateLimit, cfg.Burst))
	{
		v1.POST("/documents", s.insert)
		v1.GET("/documents", s.all)
		v1.POST("/documents/find", s.find)
		v1.POST("/documents/findOne", s.findOne)
		v1.POST("/documents/count", s.count)
		v1.POST("/documents/update", s.update)
		v1.POST("/documents/remove", s.remove)
		v1.POST("/indexes", s.ensureIndex)
		v1.DELETE("/indexes/:field", s.removeIndex)
		v1.POST("/compact", s.compact)
	}

	s.router = router
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Header("X-Request-ID", id)
		c.Request = c.Request.WithContext(logger.ContextWithRequestID(c.Request.Context(), id))

		start := time.Now()
		c.Next()
		logger.WithRequestID(c.Request.Context(), s.logger).Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	app := apperrors.FromEngine(err)
	if app.Code >= http.StatusInternalServerError {
		logger.WithRequestID(c.Request.Context(), s.logger).Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(app.Code, gin.H{"error": app.Message, "category": app.Category})
}

func (s *Server) badRequest(c *gin.Context, msg string) {
	s.fail(c, apperrors.BadRequest(msg))
}

type findRequest struct {
	Query      engine.Query      `json:"query"`
	Projection engine.Projection `json:"projection"`
	Sort       engine.Sort       `json:"sort"`
	Skip       *int              `json:"skip"`
	Limit      *int              `json:"limit"`
}

type updateRequest struct {
	Query  engine.Query    `json:"query"`
	Update engine.Document `json:"update"`
	engine.UpdateOptions
}

type removeRequest struct {
	Query engine.Query `json:"query"`
	engine.RemoveOptions
}

// insert accepts a document or an array of documents.
func (s *Server) insert(c *gin.Context) {
	var body any
	if err := c.ShouldBindJSON(&body); err != nil {
		s.badRequest(c, "invalid request body")
		return
	}
	switch v := body.(type) {
	case map[string]any:
		doc, err := s.store.Insert(engine.Document(v)).Await()
		if err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"document": doc})
	case []any:
		docs := make([]engine.Document, 0, len(v))
		for _, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				s.badRequest(c, "every element must be a document")
				return
			}
			docs = append(docs, engine.Document(m))
		}
		inserted, err := s.store.InsertMany(docs).Await()
		if err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"documents": inserted})
	default:
		s.badRequest(c, "body must be a document or an array of documents")
	}
}

func (s *Server) all(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"documents": s.store.GetAllData()})
}

func (s *Server) find(c *gin.Context) {
	var req findRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "invalid request body")
		return
	}
	cur := s.store.FindWithCursor(req.Query, req.Projection)
	if len(req.Sort) > 0 {
		cur = cur.Sort(req.Sort)
	}
	if req.Skip != nil {
		cur = cur.Skip(*req.Skip)
	}
	if req.Limit != nil {
		cur = cur.Limit(*req.Limit)
	}
	docs, err := cur.Exec().Await()
	if err != nil {
		s.fail(c, err)
		return
	}
	if docs == nil {
		docs = []engine.Document{}
	}
	c.JSON(http.StatusOK, gin.H{"documents": docs})
}

func (s *Server) findOne(c *gin.Context) {
	var req findRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "invalid request body")
		return
	}
	doc, err := s.store.FindOne(req.Query, req.Projection).Await()
	if err != nil {
		s.fail(c, err)
		return
	}
	if doc == nil {
		s.fail(c, apperrors.NotFound("no document matches the query"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"document": doc})
}

func (s *Server) count(c *gin.Context) {
	var req findRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "invalid request body")
		return
	}
	n, err := s.store.Count(req.Query).Await()
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": n})
}

func (s *Server) update(c *gin.Context) {
	var req updateRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Update == nil {
		s.badRequest(c, "invalid request body")
		return
	}
	res, err := s.store.Update(req.Query, req.Update, &req.UpdateOptions).Await()
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"numAffected": res.NumAffected,
		"affected":    res.Affected,
		"upsert":      res.Upsert,
	})
}

func (s *Server) remove(c *gin.Context) {
	var req removeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "invalid request body")
		return
	}
	n, err := s.store.Remove(req.Query, &req.RemoveOptions).Await()
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"numRemoved": n})
}

func (s *Server) ensureIndex(c *gin.Context) {
	var spec engine.IndexSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		s.badRequest(c, "invalid request body")
		return
	}
	if _, err := s.store.EnsureIndex(spec).Await(); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"index": spec})
}

func (s *Server) removeIndex(c *gin.Context) {
	if _, err := s.store.RemoveIndex(c.Param("field")).Await(); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) compact(c *gin.Context) {
	_, err := s.store.CompactDatafile().Await()
	if errors.Is(err, bunstore.ErrNotCompactable) {
		s.fail(c, apperrors.New(http.StatusNotImplemented, err.Error(), nil))
		return
	}
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
