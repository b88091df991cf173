package util

import (
	"crypto/sha256"
	"encoding/hex"
)

// SHA256Hex is the image key used by the evaluation history.
func SHA256Hex(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}
