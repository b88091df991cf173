package web

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"inkboard/api/internal/board"
	"inkboard/api/internal/canvas"
	"inkboard/api/internal/util"
)

const boardKey = "board"

type strokeRequest struct {
	Points []canvas.Point `json:"points"`
}

type uploadRequest struct {
	Image string `json:"image"`
}

type boardResponse struct {
	ID    string     `json:"id,omitempty"`
	View  board.View `json:"view"`
	Error string     `json:"error,omitempty"`
}

func (s *Server) withBoard(h gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		b, ok := s.boards.Get(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown board"})
			return
		}
		c.Set(boardKey, b)
		h(c)
	}
}

func boardOf(c *gin.Context) *board.Board {
	return c.MustGet(boardKey).(*board.Board)
}

func (s *Server) createBoard(c *gin.Context) {
	id, b := s.boards.Create()
	c.JSON(http.StatusCreated, boardResponse{ID: id, View: b.View()})
}

func (s *Server) getBoard(c *gin.Context) {
	c.JSON(http.StatusOK, boardResponse{View: boardOf(c).View()})
}

func (s *Server) deleteBoard(c *gin.Context) {
	if !s.boards.Remove(c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown board"})
		return
	}
	c.Status(http.StatusNoContent)
}

// strokes replays a polyline as consecutive drag segments.
func (s *Server) strokes(c *gin.Context) {
	var req strokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad json: " + err.Error()})
		return
	}
	b := boardOf(c)
	for i := 1; i < len(req.Points); i++ {
		if err := b.Drag(req.Points[i], req.Points[i-1]); err != nil {
			s.fail(c, b, err)
			return
		}
	}
	c.JSON(http.StatusOK, boardResponse{View: b.View()})
}

func (s *Server) save(c *gin.Context) {
	b := boardOf(c)
	if err := b.Save(); err != nil {
		s.fail(c, b, err)
		return
	}
	c.JSON(http.StatusOK, boardResponse{View: b.View()})
}

func (s *Server) evaluate(c *gin.Context) {
	b := boardOf(c)
	t, err := b.Evaluate(c.Request.Context())
	if err != nil {
		s.fail(c, b, err)
		return
	}
	s.await(c, b, t)
}

func (s *Server) clear(c *gin.Context) {
	b := boardOf(c)
	if err := b.Clear(); err != nil {
		s.fail(c, b, err)
		return
	}
	c.JSON(http.StatusOK, boardResponse{View: b.View()})
}

// upload accepts a multipart "file" or a JSON {"image": ...} body. Either way
// the image is fitted to the canvas before it is submitted.
func (s *Server) upload(c *gin.Context) {
	b := boardOf(c)
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUpload)

	var data []byte
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		fh, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "read form file: " + err.Error()})
			return
		}
		f, err := fh.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "open form file: " + err.Error()})
			return
		}
		defer f.Close()
		if data, err = io.ReadAll(f); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "read form file: " + err.Error()})
			return
		}
	} else {
		var req uploadRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad json: " + err.Error()})
			return
		}
		var err error
		if data, _, err = util.DecodeImage(req.Image); err != nil || len(data) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad image"})
			return
		}
	}

	if util.ImageMIME(data) == "" {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "upload must be a PNG or JPEG image"})
		return
	}
	img, err := canvas.FitUpload(data)
	if errors.Is(err, canvas.ErrTooLarge) {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	t, err := b.Upload(c.Request.Context(), img)
	if err != nil {
		s.fail(c, b, err)
		return
	}
	s.await(c, b, t)
}

func (s *Server) image(c *gin.Context) {
	b := boardOf(c)
	data, err := b.PNG()
	if err != nil {
		s.fail(c, b, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", data)
}

func (s *Server) listHistory(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "history disabled"})
		return
	}
	limit := 20
	if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 {
		limit = min(v, 100)
	}
	rows, err := s.history.Recent(c.Request.Context(), limit)
	if err != nil {
		s.log.Error().Err(err).Msg("list history")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "history unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"evaluations": rows})
}

// await blocks on t for at most the request deadline. A request still in
// flight when the deadline passes is answered 202 with the pending view;
// the board applies the response later.
func (s *Server) await(c *gin.Context, b *board.Board, t *board.Task) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.deadline(c))
	defer cancel()

	_, err := t.Wait(ctx)
	if ctx.Err() != nil {
		select {
		case <-t.Done():
			// Finished as the wait ran out; report the task's own outcome.
			_, err = t.Wait(context.Background())
		default:
			c.JSON(http.StatusAccepted, boardResponse{View: b.View()})
			return
		}
	}
	if err != nil {
		s.fail(c, b, err)
		return
	}
	c.JSON(http.StatusOK, boardResponse{View: b.View()})
}

// deadline reads X-Request-Timeout or ?timeoutSec=, in seconds.
func (s *Server) deadline(c *gin.Context) time.Duration {
	ts := c.GetHeader("X-Request-Timeout")
	if ts == "" {
		ts = c.Query("timeoutSec")
	}
	if v, _ := strconv.Atoi(ts); v > 0 {
		return time.Duration(v) * time.Second
	}
	return s.waitTimeout
}

func (s *Server) fail(c *gin.Context, b *board.Board, err error) {
	code := http.StatusBadGateway
	switch {
	case errors.Is(err, board.ErrNotCaptured), errors.Is(err, board.ErrStale):
		code = http.StatusConflict
	case errors.Is(err, board.ErrClosed):
		c.JSON(http.StatusGone, gin.H{"error": err.Error()})
		return
	case errors.Is(err, board.ErrNoEngine):
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, boardResponse{View: b.View(), Error: err.Error()})
}
