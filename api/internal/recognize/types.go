package recognize

import "errors"

// ErrMalformed marks a response that is not the expected JSON shape.
var ErrMalformed = errors.New("recognize: malformed response")

// Prediction is what a recognition service returns for one image.
// Field names follow the service's wire keys.
type Prediction struct {
	EnteredEquation   string `json:"Entered_equation,omitempty"`
	FormattedEquation string `json:"Formatted_equation"`
	Solution          string `json:"solution"`
}
