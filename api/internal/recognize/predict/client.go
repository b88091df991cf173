// Package predict is the client of the handwriting recognition service.
//
// The service answers POST /predict with a JSON string whose content is
// itself a JSON object:
//
//	"{\"Formatted_equation\": \"2+2\", \"solution\": \"4\"}"
//
// Both decoding steps are part of the wire contract.
package predict

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"inkboard/api/internal/recognize"
	"inkboard/api/internal/util"
)

type Client struct {
	url    *url.URL
	client *http.Client
}

type request struct {
	Image string `json:"image"`
}

func NewClient(_url string, client *http.Client) (*Client, error) {
	u, err := url.Parse(_url)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid url: %q has no scheme or host", _url)
	}

	if client == nil {
		client = http.DefaultClient
	}

	return &Client{url: u, client: client}, nil
}

func (c *Client) Name() string     { return "predict" }
func (c *Client) GetModel() string { return c.url.Host }

// Predict posts the image and decodes the double-encoded answer.
// A data: header on image is stripped before sending.
func (c *Client) Predict(ctx context.Context, image string) (recognize.Prediction, error) {
	body, err := json.Marshal(request{Image: util.StripDataURL(image)})
	if err != nil {
		return recognize.Prediction{}, fmt.Errorf("encode request: %w", err)
	}

	_url := c.url.JoinPath("/predict").String()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, _url, bytes.NewReader(body))
	if err != nil {
		return recognize.Prediction{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return recognize.Prediction{}, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return recognize.Prediction{}, fmt.Errorf("server response status code: %d, body: %s", resp.StatusCode, b)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return recognize.Prediction{}, fmt.Errorf("read response body: %w", err)
	}
	return Decode(raw)
}

// Decode unpacks a response body: first the outer JSON string, then the
// object it carries. Formatted_equation and solution must both be present.
func Decode(raw []byte) (recognize.Prediction, error) {
	var inner string
	if err := json.Unmarshal(raw, &inner); err != nil {
		return recognize.Prediction{}, fmt.Errorf("%w: outer value is not a JSON string: %v", recognize.ErrMalformed, err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(inner), &fields); err != nil {
		return recognize.Prediction{}, fmt.Errorf("%w: inner value is not a JSON object: %v", recognize.ErrMalformed, err)
	}
	for _, k := range []string{"Formatted_equation", "solution"} {
		if _, ok := fields[k]; !ok {
			return recognize.Prediction{}, fmt.Errorf("%w: missing %s", recognize.ErrMalformed, k)
		}
	}

	var p recognize.Prediction
	if err := json.Unmarshal([]byte(inner), &p); err != nil {
		return recognize.Prediction{}, fmt.Errorf("%w: %v", recognize.ErrMalformed, err)
	}
	return p, nil
}

// Encode produces the wire form of p. Used by fakes of the service.
func Encode(p recognize.Prediction) ([]byte, error) {
	inner, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return json.Marshal(string(inner))
}
