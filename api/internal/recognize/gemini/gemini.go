// Package gemini recognizes handwritten expressions with Gemini instead of
// the /predict service. It returns the same Prediction shape.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"inkboard/api/internal/recognize"
	"inkboard/api/internal/util"
)

const systemPrompt = `You read a photo or drawing of ONE handwritten mathematical expression.
1) Transcribe it exactly as written into "Entered_equation".
2) Rewrite it in standard plain-text math notation into "Formatted_equation" (use ^ for powers, * for multiplication).
3) If the expression can be evaluated or solved, put the result into "solution", otherwise an empty string.
Return STRICT JSON only:
{"Entered_equation": string, "Formatted_equation": string, "solution": string}`

// Engine is immutable once built; a different model means a new Engine.
type Engine struct {
	apiKey string
	model  string
}

func New(apiKey, model string) *Engine {
	return &Engine{
		apiKey: strings.TrimSpace(apiKey),
		model:  strings.TrimSpace(model),
	}
}

func (e *Engine) Name() string     { return "gemini" }
func (e *Engine) GetModel() string { return e.model }

// WithModel returns an engine with the same key and another model. A blank
// model returns e itself.
func (e *Engine) WithModel(model string) *Engine {
	if model = strings.TrimSpace(model); model == "" || model == e.model {
		return e
	}
	return New(e.apiKey, model)
}

func (e *Engine) Predict(ctx context.Context, image string) (recognize.Prediction, error) {
	if e.apiKey == "" {
		return recognize.Prediction{}, errors.New("GEMINI_API_KEY is empty")
	}
	imgBytes, hint, err := util.DecodeImage(image)
	if err != nil {
		return recognize.Prediction{}, fmt.Errorf("gemini predict: bad base64: %w", err)
	}

	cl, err := genai.NewClient(ctx, option.WithAPIKey(e.apiKey))
	if err != nil {
		return recognize.Prediction{}, err
	}
	defer cl.Close()

	m := cl.GenerativeModel(e.model)
	if m == nil {
		return recognize.Prediction{}, fmt.Errorf("gemini: model is nil")
	}
	m.GenerationConfig = genai.GenerationConfig{
		Temperature:      ptrFloat32(0),
		ResponseMIMEType: "application/json",
	}
	m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(systemPrompt)}}

	parts := []genai.Part{
		genai.Text("Answer with the JSON object only."),
		&genai.Blob{MIMEType: util.PickMIME(hint, imgBytes), Data: imgBytes},
	}

	// retries for 5xx and transient failures
	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		resp, err := m.GenerateContent(ctx, parts...)
		if err != nil {
			lastErr = err
			select {
			case <-ctx.Done():
				return recognize.Prediction{}, ctx.Err()
			case <-time.After(time.Duration(attempt) * 300 * time.Millisecond):
			}
			continue
		}
		txt := firstText(resp)
		if txt == "" {
			return recognize.Prediction{}, fmt.Errorf("%w: gemini returned no text", recognize.ErrMalformed)
		}
		return parsePrediction(txt)
	}
	return recognize.Prediction{}, lastErr
}

// jsonObject returns the span from the first '{' to the last '}', which drops
// markdown fences and any chatter the model wraps around the answer.
func jsonObject(txt string) string {
	i, j := strings.IndexByte(txt, '{'), strings.LastIndexByte(txt, '}')
	if i < 0 || j < i {
		return strings.TrimSpace(txt)
	}
	return txt[i : j+1]
}

func parsePrediction(txt string) (recognize.Prediction, error) {
	var out recognize.Prediction
	if err := json.Unmarshal([]byte(jsonObject(txt)), &out); err != nil {
		return recognize.Prediction{}, fmt.Errorf("%w: gemini bad JSON: %v", recognize.ErrMalformed, err)
	}
	if strings.TrimSpace(out.FormattedEquation) == "" {
		out.FormattedEquation = out.EnteredEquation
	}
	return out, nil
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	for _, c := range resp.Candidates {
		if c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				return strings.TrimSpace(string(t))
			}
		}
	}
	return ""
}

func ptrFloat32(v float32) *float32 { return &v }
