// Package admin serves the agent's HTTP side: health, Prometheus metrics and
// a read-only view of the objects and queries the agent answers.
package admin

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aethiopicuschan/zapcat/logger"
	"github.com/aethiopicuschan/zapcat/query"
)

// Names lists registered object names.
type Names interface {
	Names() []string
}

type Server struct {
	engine     *query.Engine
	objects    Names
	properties query.Properties
	logger     logger.Logger
}

func New(engine *query.Engine, objects Names, properties query.Properties, log logger.Logger) *Server {
	if log == nil {
		log = logger.NopLogger
	}
	return &Server{
		engine:     engine,
		objects:    objects,
		properties: properties,
		logger:     log,
	}
}

// Router configures the Gin router.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	{
		api.GET("/objects", s.getObjects)
		api.GET("/query", s.getQuery)
		api.GET("/properties/:key", s.getProperty)
	}
	return router
}

// ListenAndServe serves the router on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.logger.Infof("admin listening on %s", addr)

	select {
	case err := <-errc:
		return errors.Wrapf(err, "serving admin on %s", addr)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutting down admin")
	}
	return nil
}

func (s *Server) getObjects(c *gin.Context) {
	var names []string
	if s.objects != nil {
		names = s.objects.Names()
	}
	if names == nil {
		names = []string{}
	}
	c.JSON(http.StatusOK, gin.H{
		"objects": names,
		"count":   len(names),
	})
}

// getQuery answers q the way the agent would, without the wire framing.
func (s *Server) getQuery(c *gin.Context) {
	line := c.Query("q")
	if line == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "query parameter 'q' is required",
		})
		return
	}
	q, resp, err := s.engine.Resolve(c.Request.Context(), line)
	if err != nil {
		s.logger.Warnf("admin query '%s' failed: %v", line, err)
		c.JSON(http.StatusBadGateway, gin.H{
			"query": line,
			"kind":  q.Kind.String(),
			"error": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"query":    line,
		"kind":     q.Kind.String(),
		"response": resp,
	})
}

func (s *Server) getProperty(c *gin.Context) {
	key := c.Param("key")
	if s.properties == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no properties configured"})
		return
	}
	v, ok := s.properties.Property(key)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "property not found",
			"key":   key,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"key":   key,
		"value": v,
	})
}
