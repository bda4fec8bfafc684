// Package tts converts roast lines into playable voice payloads: provider
// text-to-speech, transcoding into the delivery codec, and cleanup of every
// intermediate artifact.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/book-expert/voice-roaster/internal/core"
)

// API endpoints and paths.
const (
	apiTextToSpeech = "/v1/text-to-speech/"
	apiVoices       = "/v1/voices"
	apiUser         = "/v1/user"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	headerAPIKey      = "xi-api-key"
	contentTypeJSON   = "application/json"
	contentTypeMPEG   = "audio/mpeg"
)

// Default values.
const (
	defaultModelID         = "eleven_monolingual_v1"
	defaultStability       = 0.5
	defaultSimilarityBoost = 0.5
	maxErrorBodyBytes      = 4096
)

// Error messages.
const (
	errFmtUnexpectedContentType = "unexpected content type: expected %s, got %s"
	errFmtServiceError          = "provider error (%s): %s"
	errFmtServiceNonOKStatus    = "provider returned non-OK status: %s, body: %s"
)

var (
	// ErrTextEmpty is returned when there is nothing to synthesize.
	ErrTextEmpty = errors.New("text cannot be empty")
	// ErrVoiceIDEmpty is returned when no provider voice was resolved.
	ErrVoiceIDEmpty = errors.New("voice id cannot be empty")
	// ErrEmptyAudio is returned when the provider answers with no audio bytes.
	ErrEmptyAudio = errors.New("received empty audio data")
)

// ProviderClient talks to an ElevenLabs-compatible text-to-speech HTTP API.
type ProviderClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	settings   ProviderSettings
}

// ProviderSettings tunes synthesis requests.
type ProviderSettings struct {
	ModelID         string
	Stability       float64
	SimilarityBoost float64
}

// SpeechRequest is the JSON body of a synthesis request.
type SpeechRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings VoiceSettings `json:"voice_settings"`
}

// VoiceSettings controls the delivery of the synthesized voice.
type VoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// providerErrorResponse is the structured error body of the provider.
type providerErrorResponse struct {
	Detail struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"detail"`
}

type voicesResponse struct {
	Voices []struct {
		VoiceID string `json:"voice_id"`
		Name    string `json:"name"`
	} `json:"voices"`
}

// NewProviderClient creates a client for baseURL (e.g. "https://api.elevenlabs.io").
// The timeout bounds each HTTP exchange; callers add their own context deadlines.
func NewProviderClient(baseURL, apiKey string, timeout time.Duration, settings ProviderSettings) *ProviderClient {
	if settings.ModelID == "" {
		settings.ModelID = defaultModelID
	}

	if settings.Stability == 0 {
		settings.Stability = defaultStability
	}

	if settings.SimilarityBoost == 0 {
		settings.SimilarityBoost = defaultSimilarityBoost
	}

	return &ProviderClient{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		settings: settings,
	}
}

// GenerateSpeech synthesizes text with the given voice and returns MPEG audio.
func (c *ProviderClient) GenerateSpeech(ctx context.Context, voiceID, text string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrTextEmpty
	}

	if voiceID == "" {
		return nil, ErrVoiceIDEmpty
	}

	requestBody, err := json.Marshal(SpeechRequest{
		Text:    text,
		ModelID: c.settings.ModelID,
		VoiceSettings: VoiceSettings{
			Stability:       c.settings.Stability,
			SimilarityBoost: c.settings.SimilarityBoost,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+apiTextToSpeech+voiceID,
		bytes.NewReader(requestBody),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)
	httpReq.Header.Set(headerAccept, contentTypeMPEG)
	httpReq.Header.Set(headerAPIKey, c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to provider at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	contentType := resp.Header.Get(headerContentType)
	if !strings.HasPrefix(contentType, contentTypeMPEG) {
		return nil, fmt.Errorf(errFmtUnexpectedContentType, contentTypeMPEG, contentType)
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio data: %w", err)
	}

	if len(audioData) == 0 {
		return nil, ErrEmptyAudio
	}

	return audioData, nil
}

// ListVoices returns the voices available to the configured account.
func (c *ProviderClient) ListVoices(ctx context.Context) ([]core.Voice, error) {
	body, err := c.get(ctx, apiVoices)
	if err != nil {
		return nil, err
	}

	var decoded voicesResponse

	err = decodeResponse(body, &decoded)
	if err != nil {
		return nil, fmt.Errorf("failed to parse voice list: %w", err)
	}

	voices := make([]core.Voice, 0, len(decoded.Voices))
	for _, voice := range decoded.Voices {
		voices = append(voices, core.Voice{ID: voice.VoiceID, Name: voice.Name})
	}

	return voices, nil
}

// HealthCheck verifies the provider is reachable and accepts the API key.
func (c *ProviderClient) HealthCheck(ctx context.Context) error {
	_, err := c.get(ctx, apiUser)
	if err != nil {
		return fmt.Errorf("provider health check failed: %w", err)
	}

	return nil
}

func (c *ProviderClient) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set(headerAPIKey, c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach provider at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return body, nil
}

// parseErrorResponse decodes the provider's structured error, falling back to
// the raw body so diagnostics are not lost.
func (c *ProviderClient) parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))

	var errorResp providerErrorResponse

	err := decodeResponse(body, &errorResp)
	if err == nil && errorResp.Detail.Message != "" {
		return fmt.Errorf(errFmtServiceError, resp.Status, errorResp.Detail.Message)
	}

	return fmt.Errorf(errFmtServiceNonOKStatus, resp.Status, string(body))
}
