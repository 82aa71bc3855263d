package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"swapfeed/internal/feed"
	"swapfeed/internal/metrics"
	"swapfeed/internal/quote"
	"swapfeed/internal/swap"
)

const maxBody = 1 << 20 // 1MB

// FeedController is the part of feed.Controller the API serves.
type FeedController interface {
	State() feed.State
	Refresh(ctx context.Context) error
	Interval() time.Duration
	Subscribe(fn func(feed.State)) (unsubscribe func())
}

// Options configures a Server.
type Options struct {
	Feed   FeedController
	Quotes *quote.Engine
	Swaps  *swap.Submitter
	Logger logrus.FieldLogger
	// CORSOrigins lists allowed browser origins; "*" or empty allows all.
	CORSOrigins []string
	// RefreshTimeout bounds a manual refresh.
	RefreshTimeout time.Duration
	Now            func() time.Time
}

// Server exposes the feed, quotes and swaps over HTTP.
type Server struct {
	feed           FeedController
	quotes         *quote.Engine
	swaps          *swap.Submitter
	log            logrus.FieldLogger
	refreshTimeout time.Duration
	now            func() time.Time
	upgrader       websocket.Upgrader
	engine         *gin.Engine

	// base is cancelled by Close to end open streams.
	base      context.Context
	closeBase context.CancelFunc
}

// New builds the router.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Quotes == nil {
		opts.Quotes = quote.NewEngine(nil)
	}
	if opts.Swaps == nil {
		opts.Swaps = swap.NewSubmitter(swap.SimulatedExecutor{Delay: swap.DefaultDelay}, opts.Logger)
	}
	if opts.RefreshTimeout <= 0 {
		opts.RefreshTimeout = 15 * time.Second
	}

	s := &Server{
		feed:           opts.Feed,
		quotes:         opts.Quotes,
		swaps:          opts.Swaps,
		log:            opts.Logger.WithField("component", "api"),
		refreshTimeout: opts.RefreshTimeout,
		now:            opts.Now,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	r := gin.New()
	r.Use(s.requestLogger(), s.recoverPanic(), observe(), limitBody(), corsMiddleware(opts.CORSOrigins))
	_ = r.SetTrustedProxies(nil)

	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	v1 := r.Group("/api/v1")
	{
		v1.GET("/feed", s.getFeed)
		v1.POST("/feed/refresh", s.refreshFeed)
		v1.GET("/feed/stream", s.streamFeed)
		v1.GET("/quote", s.getQuote)
		v1.POST("/swaps", s.postSwap)
		v1.GET("/swaps/state", s.getSwapState)
		v1.POST("/swaps/reset", s.resetSwap)
	}

	s.engine = r
	s.base, s.closeBase = context.WithCancel(context.Background())
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.engine }

// Close ends open feed streams. Register it with http.Server.RegisterOnShutdown, since
// hijacked connections are not tracked by Shutdown.
func (s *Server) Close() { s.closeBase() }

// requestLogger tags each request with an id and logs its completion.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		id := uuid.NewString()
		c.Header("X-Request-ID", id)

		c.Next()

		s.log.WithFields(logrus.Fields{
			"request_id": id,
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"latency":    time.Since(start),
		}).Debug("request completed")
	}
}

func (s *Server) recoverPanic() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, rec any) {
		s.log.WithField("panic", rec).WithField("path", c.Request.URL.Path).Error("handler panicked")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	})
}

func observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		metrics.ObserveHTTP(c.Request.Method, c.FullPath(), c.Writer.Status(), time.Since(start))
	}
}

// limitBody caps request body size.
func limitBody() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodPost && c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBody)
		}
		c.Next()
	}
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}
	allowAll := len(origins) == 0
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
	}
	if allowAll {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cors.New(cfg)
}
