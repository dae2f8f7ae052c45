// Package api exposes the catalog, reader views, and admin session over
// HTTP with gin.
package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jonesrussell/north-cloud/reader/internal/catalog"
	"github.com/jonesrussell/north-cloud/reader/internal/logger"
	"github.com/jonesrussell/north-cloud/reader/internal/session"
	"github.com/jonesrussell/north-cloud/reader/internal/sse"
	"github.com/jonesrussell/north-cloud/reader/internal/view"
)

// Deps are the services behind the routes. Sessions may be nil, which
// disables login and the admin routes. Gatherer defaults to the
// Prometheus default registry.
type Deps struct {
	Catalog  *catalog.Service
	Views    *view.Manager
	Sessions *session.Manager
	Broker   *sse.Broker
	Gatherer prometheus.Gatherer
	Logger   logger.Logger
}

// Handler serves the reader API.
type Handler struct {
	catalog  *catalog.Service
	views    *view.Manager
	sessions *session.Manager
	broker   *sse.Broker
	gatherer prometheus.Gatherer
	log      logger.Logger
}

// NewHandler checks that the required services are present.
func NewHandler(d Deps) (*Handler, error) {
	if d.Catalog == nil || d.Views == nil || d.Broker == nil {
		return nil, errors.New("api: catalog, views and broker are required")
	}
	if d.Gatherer == nil {
		d.Gatherer = prometheus.DefaultGatherer
	}
	return &Handler{
		catalog:  d.Catalog,
		views:    d.Views,
		sessions: d.Sessions,
		broker:   d.Broker,
		gatherer: d.Gatherer,
		log:      logger.OrNop(d.Logger),
	}, nil
}

// Register installs every route on r.
func (h *Handler) Register(r *gin.Engine) {
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))

	v1 := r.Group("/api/v1")

	posts := v1.Group("/posts")
	posts.GET("", h.listPosts)
	posts.GET("/summaries", h.listSummaries)
	posts.GET("/:id", h.getPost)

	views := v1.Group("/views")
	views.POST("", session.Optional(h.sessions), h.openView)
	views.GET("/:id", h.getView)
	views.PUT("/:id/scroll", h.scrollView)
	views.PUT("/:id/page", h.pageView)
	views.GET("/:id/posts/:postId/stream", h.streamPost)
	views.DELETE("/:id", h.closeView)

	v1.GET("/events", sse.Handler(h.broker, h.log, nil))

	if h.sessions == nil {
		disabled := func(c *gin.Context) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "admin access is not configured"})
		}
		v1.POST("/session", disabled)
		v1.DELETE("/session", disabled)
		v1.Any("/admin/*path", disabled)
		return
	}

	v1.POST("/session", h.login)
	v1.DELETE("/session", session.Require(h.sessions), h.logout)

	admin := v1.Group("/admin", session.Require(h.sessions))
	admin.POST("/posts", h.createPost)
	admin.PUT("/posts/:id", h.updatePost)
	admin.DELETE("/posts/:id", h.deletePost)
}
