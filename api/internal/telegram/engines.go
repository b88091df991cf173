package telegram

import (
	"strings"

	"inkboard/api/internal/recognize"
)

// handleEngineCommand switches the chat's engine.
//
//	/engine predict
//	/engine gemini [model]
func (r *Router) handleEngineCommand(chatID int64, argLine string) {
	args := strings.Fields(argLine)
	if len(args) == 0 {
		cur := r.EngManager.Get(chatID)
		name := "none"
		if cur != nil {
			name = describe(cur)
		}
		r.send(chatID, "Current engine: "+name+"\nUsage: /engine predict | /engine gemini [model]")
		return
	}

	name := strings.ToLower(args[0])
	eng := r.Engines.ByName(name)
	if eng == nil {
		if name == "predict" || name == "gemini" {
			r.send(chatID, name+" is not configured.")
			return
		}
		r.send(chatID, "Unknown engine. Available: predict | gemini")
		return
	}
	// Shared engines are never mutated; another model gets its own engine.
	if len(args) > 1 && name == "gemini" && r.Engines.GeminiModel != nil {
		eng = r.Engines.GeminiModel(args[1])
	}
	r.EngManager.Set(chatID, eng)
	r.send(chatID, "Engine: "+describe(eng))
}

func describe(e recognize.Engine) string {
	if m := e.GetModel(); m != "" {
		return e.Name() + " (" + m + ")"
	}
	return e.Name()
}
