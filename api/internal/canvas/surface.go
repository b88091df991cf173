// Package canvas holds the drawing surface of a board: a fixed-size raster
// that follows pointer drags and reports its contents as a PNG data URI.
package canvas

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/gogpu/gg"

	"inkboard/api/internal/util"
)

const (
	Width        = 1160
	Height       = 700
	StrokeWeight = 2
)

var (
	Background = color.Gray{Y: 240}
	Ink        = color.Black
)

var ErrReleased = errors.New("canvas: surface released")

// Point is a pointer position in canvas pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Mode is the signal a board hands to its surface on every update.
type Mode int

const (
	ModeDraw Mode = iota
	ModeCapture
	ModeClear
)

func (m Mode) String() string {
	switch m {
	case ModeDraw:
		return "draw"
	case ModeCapture:
		return "capture"
	case ModeClear:
		return "clear"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Surface is not safe for concurrent use; the owning board serializes access.
type Surface struct {
	dc *gg.Context
}

// New allocates the raster and paints the background.
func New() *Surface {
	dc := gg.NewContext(Width, Height)
	dc.ClearWithColor(gg.FromColor(Background))
	return &Surface{dc: dc}
}

// Drag strokes the segment prev→cur in black with a fixed weight.
func (s *Surface) Drag(cur, prev Point) error {
	if s.dc == nil {
		return ErrReleased
	}
	s.dc.SetColor(Ink)
	s.dc.SetLineWidth(StrokeWeight)
	s.dc.SetLineCap(gg.LineCapRound)
	s.dc.DrawLine(prev.X, prev.Y, cur.X, cur.Y)
	if err := s.dc.Stroke(); err != nil {
		return fmt.Errorf("stroke: %w", err)
	}
	return nil
}

// Apply reacts to the board's mode. ModeCapture re-captures the current
// raster on every call and hands it to report.
func (s *Surface) Apply(m Mode, report func(dataURL string)) error {
	switch m {
	case ModeCapture:
		img, err := s.Capture()
		if err != nil {
			return err
		}
		if report != nil {
			report(img)
		}
	case ModeClear:
		s.Clear()
	}
	return nil
}

// Capture encodes the raster as a "data:image/png;base64," URI.
func (s *Surface) Capture() (string, error) {
	if s.dc == nil {
		return "", ErrReleased
	}
	var buf bytes.Buffer
	if err := s.dc.EncodePNG(&buf); err != nil {
		return "", fmt.Errorf("encode png: %w", err)
	}
	return util.MakeDataURL("image/png", base64.StdEncoding.EncodeToString(buf.Bytes())), nil
}

// Clear discards all strokes.
func (s *Surface) Clear() {
	if s.dc == nil {
		return
	}
	s.dc.ClearPath()
	s.dc.ClearWithColor(gg.FromColor(Background))
}

// Image returns a copy of the raster, or nil once released.
func (s *Surface) Image() image.Image {
	if s.dc == nil {
		return nil
	}
	return s.dc.Image()
}

// Close releases the raster. Later draws are no-ops.
func (s *Surface) Close() error {
	if s.dc == nil {
		return nil
	}
	err := s.dc.Close()
	s.dc = nil
	return err
}
