// Package web serves the board page and its JSON API.
package web

import (
	"context"
	_ "embed"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"inkboard/api/internal/board"
	"inkboard/api/internal/store"
)

//go:embed static/index.html
var indexHTML []byte

// maxUpload bounds multipart and JSON upload bodies.
const maxUpload = 20 << 20

type Pinger interface {
	PingContext(ctx context.Context) error
}

type HistoryLister interface {
	Recent(ctx context.Context, limit int) ([]store.EvaluationRow, error)
}

type Server struct {
	boards  *board.Registry
	history HistoryLister
	db      Pinger
	log     zerolog.Logger

	// waitTimeout bounds how long evaluate and upload block on the task.
	waitTimeout time.Duration
}

type Option func(*Server)

func WithHistory(h HistoryLister) Option { return func(s *Server) { s.history = h } }

func WithPinger(p Pinger) Option { return func(s *Server) { s.db = p } }

func WithWaitTimeout(d time.Duration) Option { return func(s *Server) { s.waitTimeout = d } }

func New(boards *board.Registry, log zerolog.Logger, opts ...Option) *Server {
	s := &Server{
		boards:      boards,
		log:         log,
		waitTimeout: 180 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the gin engine with every board route mounted.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog())

	r.GET("/", s.index)
	r.GET("/healthz", s.healthz)

	api := r.Group("/api")
	api.GET("/history", s.listHistory)

	boards := api.Group("/boards")
	boards.POST("", s.createBoard)
	boards.GET("/:id", s.withBoard(s.getBoard))
	boards.DELETE("/:id", s.deleteBoard)
	boards.POST("/:id/strokes", s.withBoard(s.strokes))
	boards.POST("/:id/save", s.withBoard(s.save))
	boards.POST("/:id/evaluate", s.withBoard(s.evaluate))
	boards.POST("/:id/clear", s.withBoard(s.clear))
	boards.POST("/:id/upload", s.withBoard(s.upload))
	boards.GET("/:id/image.png", s.withBoard(s.image))
	return r
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		ev := s.log.Debug()
		if c.Writer.Status() >= http.StatusInternalServerError {
			ev = s.log.Warn()
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("http request")
	}
}

func (s *Server) index(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", indexHTML)
}

func (s *Server) healthz(c *gin.Context) {
	if s.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.db.PingContext(ctx); err != nil {
			s.log.Warn().Err(err).Msg("healthz: db ping")
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": "db unreachable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "boards": s.boards.Len()})
}
