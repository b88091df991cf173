package util

import (
	"bytes"
	"encoding/base64"
	"testing"
)

func TestStripDataURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "png data url", in: "data:image/png;base64,iVBORw0KGgo=", want: "iVBORw0KGgo="},
		{name: "upper case header", in: "DATA:image/jpeg;base64,/9j/", want: "/9j/"},
		{name: "plain base64", in: "  iVBORw0KGgo=\n", want: "iVBORw0KGgo="},
		{name: "comma without header", in: "abc,def", want: "abc,def"},
		{name: "empty", in: "", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripDataURL(tt.in); got != tt.want {
				t.Errorf("StripDataURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDecodeImage(t *testing.T) {
	raw := []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 1, 2, 3}
	b64 := base64.StdEncoding.EncodeToString(raw)

	got, mime, err := DecodeImage(MakeDataURL("image/png", b64))
	if err != nil {
		t.Fatal(err)
	}
	if mime != "image/png" {
		t.Errorf("mime = %q, want image/png", mime)
	}
	if !bytes.Equal(got, raw) {
		t.Errorf("decoded bytes differ")
	}
	if ImageMIME(got) != "image/png" {
		t.Errorf("ImageMIME() = %q", ImageMIME(got))
	}

	if _, _, err := DecodeImage("data:image/png;base64,@@@"); err == nil {
		t.Error("expected error for bad base64")
	}
}

func TestPickMIME(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n0000")
	tests := []struct {
		name string
		hint string
		data []byte
		want string
	}{
		{name: "hint wins", hint: "image/jpeg", data: png, want: "image/jpeg"},
		{name: "sniffed", data: png, want: "image/png"},
		{name: "empty", want: "image/png"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PickMIME(tt.hint, tt.data); got != tt.want {
				t.Errorf("PickMIME() = %q, want %q", got, tt.want)
			}
		})
	}
}
