package util

import (
	"bytes"
	"encoding/base64"
	"net/http"
	"strings"
)

const PNGDataURLPrefix = "data:image/png;base64,"

var (
	pngMagic  = []byte("\x89PNG\r\n\x1a\n")
	jpegMagic = []byte{0xFF, 0xD8, 0xFF}
)

// ImageMIME reports "image/png" or "image/jpeg" from the magic bytes, and ""
// for anything a board cannot take.
func ImageMIME(b []byte) string {
	switch {
	case bytes.HasPrefix(b, pngMagic):
		return "image/png"
	case bytes.HasPrefix(b, jpegMagic):
		return "image/jpeg"
	}
	return ""
}

func MakeDataURL(mime, b64 string) string {
	return "data:" + mime + ";base64," + b64
}

// splitDataURL separates "data:<mime>[;base64],<body>" into mime and body.
// ok is false when s has no data: header.
func splitDataURL(s string) (mime, body string, ok bool) {
	head, body, found := strings.Cut(s, ",")
	if !found || !strings.HasPrefix(strings.ToLower(head), "data:") {
		return "", s, false
	}
	mime, _, _ = strings.Cut(head[len("data:"):], ";")
	return mime, body, true
}

// StripDataURL returns the base64 body of a data URI. Other strings come
// back trimmed.
func StripDataURL(s string) string {
	_, body, _ := splitDataURL(strings.TrimSpace(s))
	return body
}

// DecodeImage decodes a data URI or bare base64 (standard or URL alphabet).
// mime is the data URI's declared type, empty for bare base64.
func DecodeImage(s string) (data []byte, mime string, err error) {
	mime, body, _ := splitDataURL(strings.TrimSpace(s))
	data, err = base64.StdEncoding.DecodeString(body)
	if err != nil {
		var urlErr error
		if data, urlErr = base64.URLEncoding.DecodeString(body); urlErr != nil {
			return nil, "", err
		}
	}
	return data, mime, nil
}

// PickMIME returns the data: URI hint when there is one and otherwise sniffs
// the bytes. Empty input defaults to PNG.
func PickMIME(hint string, data []byte) string {
	if h := strings.TrimSpace(hint); h != "" {
		return h
	}
	if len(data) > 0 {
		return http.DetectContentType(data)
	}
	return "image/png"
}
