// Package board is the controller of one handwriting board: it owns the
// display state, drives the drawing surface and submits captured images to
// a recognition engine.
//
// All handlers of a Board run under its mutex, one at a time. The only
// asynchronous step is the recognition request; its continuation takes the
// same lock and is dropped when a later Clear, Submit or Close bumped the
// board's generation.
package board

import (
	"bytes"
	"context"
	"errors"
	"image/png"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"inkboard/api/internal/canvas"
	"inkboard/api/internal/recognize"
	"inkboard/api/internal/util"
)

var (
	ErrNotCaptured = errors.New("board: nothing captured to evaluate")
	ErrClosed      = errors.New("board: closed")
	ErrNoEngine    = errors.New("board: no recognition engine")
)

const (
	LabelSave     = "Save"
	LabelEvaluate = "Evaluate"
)

// View is the display state handed to front ends.
type View struct {
	Mode                string `json:"mode"`
	ClearRequested      bool   `json:"clear_requested"`
	EvaluateRequested   bool   `json:"evaluate_requested"`
	PrimaryLabel        string `json:"primary_label"`
	FormattedExpression string `json:"formatted_equation"`
	Result              string `json:"result"`
	Pending             bool   `json:"pending"`
	Failure             string `json:"failure,omitempty"`
}

type Option func(*Board)

// WithTimeout bounds each recognition request. Zero means no bound.
func WithTimeout(d time.Duration) Option {
	return func(b *Board) { b.timeout = d }
}

func WithLogger(l zerolog.Logger) Option {
	return func(b *Board) { b.log = l }
}

type Board struct {
	mu      sync.Mutex
	surface *canvas.Surface
	engine  recognize.Engine
	log     zerolog.Logger
	timeout time.Duration

	mode      canvas.Mode
	formatted string
	result    string
	failure   string

	// captured is set by the surface on every capture and read by Evaluate.
	// A Clear drops it.
	captured string

	gen     uint64
	cancel  context.CancelFunc
	pending bool
	closed  bool
}

// New mounts a board: the surface is allocated here, once.
func New(engine recognize.Engine, opts ...Option) *Board {
	b := &Board{
		surface: canvas.New(),
		engine:  engine,
		log:     zerolog.Nop(),
		mode:    canvas.ModeDraw,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SetEngine switches the engine used by later submissions.
func (b *Board) SetEngine(e recognize.Engine) {
	b.mu.Lock()
	b.engine = e
	b.mu.Unlock()
}

func (b *Board) Drag(cur, prev canvas.Point) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	return b.surface.Drag(cur, prev)
}

// Save switches to capture mode; the surface captures on this update and
// the capture is kept for Evaluate.
func (b *Board) Save() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.mode = canvas.ModeCapture
	b.formatted, b.result, b.failure = "", "", ""
	return b.update()
}

// Evaluate submits the latest capture. Only valid in capture mode.
func (b *Board) Evaluate(ctx context.Context) (*Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	if b.mode != canvas.ModeCapture || b.captured == "" {
		return nil, ErrNotCaptured
	}
	return b.submitLocked(ctx, b.captured)
}

// Primary is the main button: Save in draw mode, Evaluate in capture mode.
// The returned task is nil for Save.
func (b *Board) Primary(ctx context.Context) (*Task, error) {
	b.mu.Lock()
	capturing := b.mode == canvas.ModeCapture
	b.mu.Unlock()
	if capturing {
		return b.Evaluate(ctx)
	}
	return nil, b.Save()
}

// Clear empties the display, blanks the surface and drops any in-flight
// submission. The board is back in draw mode afterwards.
func (b *Board) Clear() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.abortLocked()
	b.mode = canvas.ModeClear
	b.formatted, b.result, b.failure = "", "", ""
	b.captured = ""
	return b.update()
}

// Upload submits an externally supplied image, skipping the draw and
// capture cycle.
func (b *Board) Upload(ctx context.Context, image string) (*Task, error) {
	return b.Submit(ctx, image)
}

// Submit sends image (a data URI or bare base64) to the engine. The request
// outlives ctx's cancellation but keeps its values; it is cancelled by the
// next Clear, Submit or Close.
func (b *Board) Submit(ctx context.Context, image string) (*Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	return b.submitLocked(ctx, image)
}

func (b *Board) submitLocked(parent context.Context, image string) (*Task, error) {
	if b.engine == nil {
		return nil, ErrNoEngine
	}
	b.abortLocked()

	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	if b.timeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, b.timeout)
		inner := cancel
		cancel = func() { cancelTimeout(); inner() }
	}
	b.cancel = cancel
	b.pending = true

	t := newTask(b.gen, b.engine.Name())
	go b.run(ctx, cancel, t, b.engine, util.StripDataURL(image))
	return t, nil
}

func (b *Board) run(ctx context.Context, cancel context.CancelFunc, t *Task, eng recognize.Engine, image string) {
	defer cancel()
	p, err := eng.Predict(ctx, image)

	b.mu.Lock()
	defer func() {
		b.mu.Unlock()
		close(t.done)
	}()

	if t.gen != b.gen {
		t.err = ErrStale
		b.log.Debug().Uint64("generation", t.gen).Str("engine", t.engine).Msg("discard stale recognition response")
		return
	}
	b.cancel = nil
	b.pending = false

	if err != nil {
		t.err = err
		b.failure = "recognition failed, try again"
		b.log.Error().Err(err).Str("engine", t.engine).Msg("recognize image")
		return
	}

	t.pred = p
	b.mode = canvas.ModeDraw
	b.formatted = p.FormattedEquation
	b.result = p.Solution
	b.failure = ""
	b.log.Info().Str("engine", t.engine).Str("formatted_equation", p.FormattedEquation).Msg("recognized")
	_ = b.update()
}

// abortLocked invalidates the in-flight submission, if any.
func (b *Board) abortLocked() {
	b.gen++
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
	b.pending = false
}

// update hands the current mode to the surface. A clear is a one-shot
// signal and is consumed here.
func (b *Board) update() error {
	err := b.surface.Apply(b.mode, func(img string) { b.captured = img })
	if err != nil {
		b.log.Error().Err(err).Str("mode", b.mode.String()).Msg("update surface")
	}
	if b.mode == canvas.ModeClear {
		b.mode = canvas.ModeDraw
	}
	return err
}

func (b *Board) View() View {
	b.mu.Lock()
	defer b.mu.Unlock()
	v := View{
		Mode:                b.mode.String(),
		ClearRequested:      b.mode == canvas.ModeClear,
		EvaluateRequested:   b.mode == canvas.ModeCapture,
		PrimaryLabel:        LabelSave,
		FormattedExpression: b.formatted,
		Result:              b.result,
		Pending:             b.pending,
		Failure:             b.failure,
	}
	if v.EvaluateRequested {
		v.PrimaryLabel = LabelEvaluate
	}
	return v
}

// Captured returns the image kept by the last capture.
func (b *Board) Captured() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.captured
}

// PNG encodes the current raster.
func (b *Board) PNG() ([]byte, error) {
	b.mu.Lock()
	img := b.surface.Image()
	b.mu.Unlock()
	if img == nil {
		return nil, ErrClosed
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Close unmounts the board: the in-flight request is cancelled and the
// surface released. Close is idempotent.
func (b *Board) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.abortLocked()
	b.closed = true
	return b.surface.Close()
}
