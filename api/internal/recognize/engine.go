package recognize

import (
	"context"
	"sync"
)

// Engine turns an image into a Prediction. image is base64 without a data: header.
type Engine interface {
	Name() string
	GetModel() string
	Predict(ctx context.Context, image string) (Prediction, error)
}

// Manager keeps a per-chat engine choice on top of a default.
type Manager struct {
	def Engine
	m   sync.Map // chatID -> Engine
}

func NewManager(defaultEngine Engine) *Manager {
	return &Manager{def: defaultEngine}
}

func (m *Manager) Get(chatID int64) Engine {
	if v, ok := m.m.Load(chatID); ok {
		return v.(Engine)
	}
	return m.def
}

func (m *Manager) Set(chatID int64, e Engine) {
	if e == nil {
		m.m.Delete(chatID)
		return
	}
	m.m.Store(chatID, e)
}

// Registry resolves engines by the names used in config and commands.
type Registry struct {
	Predict Engine
	Gemini  Engine

	// GeminiModel builds a gemini engine for another model. Nil when gemini
	// is not configured.
	GeminiModel func(model string) Engine
}

func (r Registry) ByName(name string) Engine {
	switch name {
	case "predict", "":
		return r.Predict
	case "gemini":
		return r.Gemini
	default:
		return nil
	}
}
