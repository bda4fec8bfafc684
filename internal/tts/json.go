package tts

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedResponse indicates a provider body that is not the expected JSON document.
var ErrMalformedResponse = errors.New("malformed provider response")

// decodeResponse decodes a provider JSON body into target. An empty body is malformed.
func decodeResponse(body []byte, target any) error {
	if len(body) == 0 {
		return fmt.Errorf("%w: empty body", ErrMalformedResponse)
	}

	err := json.Unmarshal(body, target)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}

	return nil
}
