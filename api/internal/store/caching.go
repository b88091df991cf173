package store

import (
	"context"
	"encoding/base64"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"inkboard/api/internal/recognize"
	"inkboard/api/internal/util"
)

// History is the part of EvaluationRepo the caching engine needs.
type History interface {
	FindByHash(ctx context.Context, imageHash, engine, model string, maxAge time.Duration) (*EvaluationRow, error)
	Upsert(ctx context.Context, imageHash, engine, model string, p recognize.Prediction) error
}

// CachingEngine answers repeated images from History and records fresh
// predictions. History failures never fail a prediction.
type CachingEngine struct {
	Engine  recognize.Engine
	History History
	MaxAge  time.Duration
	Log     zerolog.Logger
}

func NewCachingEngine(e recognize.Engine, h History, maxAge time.Duration, log zerolog.Logger) *CachingEngine {
	return &CachingEngine{Engine: e, History: h, MaxAge: maxAge, Log: log}
}

func (c *CachingEngine) Name() string     { return c.Engine.Name() }
func (c *CachingEngine) GetModel() string { return c.Engine.GetModel() }

func (c *CachingEngine) Predict(ctx context.Context, image string) (recognize.Prediction, error) {
	key := ImageKey(image)
	name, model := c.Engine.Name(), c.Engine.GetModel()

	row, err := c.History.FindByHash(ctx, key, name, model, c.MaxAge)
	switch {
	case err == nil:
		c.Log.Debug().Str("image_hash", key).Str("engine", name).Msg("evaluation served from history")
		return row.Prediction, nil
	case !errors.Is(err, ErrNotFound):
		c.Log.Warn().Err(err).Msg("history lookup")
	}

	p, err := c.Engine.Predict(ctx, image)
	if err != nil {
		return p, err
	}
	if err := c.History.Upsert(ctx, key, name, model, p); err != nil {
		c.Log.Warn().Err(err).Msg("history upsert")
	}
	return p, nil
}

// ImageKey hashes the decoded image bytes, falling back to the text when it
// is not base64.
func ImageKey(image string) string {
	body := util.StripDataURL(image)
	if b, err := base64.StdEncoding.DecodeString(body); err == nil {
		return util.SHA256Hex(b)
	}
	return util.SHA256Hex([]byte(body))
}
