package genimg

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"google.golang.org/genai"
)

// Sentinel errors for edit service operations
var (
	// ErrNoAPIKey is returned when no API key is configured.
	ErrNoAPIKey = errors.New("edit service API key is not set")
	// ErrConnectionTimeout is returned when the request times out.
	ErrConnectionTimeout = errors.New("edit service connection timeout")
	// ErrRequestFailed is returned when an API request fails.
	ErrRequestFailed = errors.New("edit service request failed")
)

// Client talks to the generative edit service.
type Client struct {
	model string
	api   *genai.Client
}

// NewClient creates a client for the given model using the provided API key.
// If model is empty, DefaultModel is used.
// Returns ErrNoAPIKey if the key is empty after trimming.
func NewClient(ctx context.Context, apiKey, model string) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, fmt.Errorf("%w (set %s)", ErrNoAPIKey, APIKeyEnv)
	}
	if model == "" {
		model = DefaultModel
	}

	api, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create edit service client: %w", err)
	}

	return &Client{model: model, api: api}, nil
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.model
}

// Connect verifies the configured model is reachable.
// Called once at startup so a bad key or model name fails fast instead of
// on the first user edit.
func (c *Client) Connect(ctx context.Context) error {
	if _, err := c.api.Models.Get(ctx, c.model, nil); err != nil {
		return fmt.Errorf("%w: model %s: %v", ErrRequestFailed, c.model, classify(err))
	}
	return nil
}

// Edit sends the image and instruction to the service and classifies the
// response. The service may return any mix of image and text parts; the
// last image part and last text part win.
func (c *Client) Edit(ctx context.Context, data []byte, mimeType, instruction string) (Result, error) {
	if len(data) == 0 {
		return Result{}, errors.New("image data cannot be empty")
	}
	if strings.TrimSpace(instruction) == "" {
		return Result{}, errors.New("instruction cannot be empty")
	}

	parts := []*genai.Part{
		genai.NewPartFromText(instruction),
		{InlineData: &genai.Blob{MIMEType: mimeType, Data: data}},
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	resp, err := c.api.Models.GenerateContent(ctx, c.model, contents, nil)
	if err != nil {
		return Result{}, classify(err)
	}

	return fold(responseParts(resp)), nil
}

// responseParts extracts the parts of the first candidate, if any.
func responseParts(resp *genai.GenerateContentResponse) []*genai.Part {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil
	}
	return resp.Candidates[0].Content.Parts
}

// fold scans the parts keeping the last image and last text seen, then
// classifies the result.
func fold(parts []*genai.Part) Result {
	var r Result
	for _, part := range parts {
		if part == nil {
			continue
		}
		if part.InlineData != nil && len(part.InlineData.Data) > 0 {
			r.ImageData = part.InlineData.Data
			r.ImageMimeType = part.InlineData.MIMEType
		}
		if part.Text != "" {
			r.Text = part.Text
		}
	}

	switch {
	case len(r.ImageData) > 0:
		r.Kind = KindImage
	case r.Text != "":
		r.Kind = KindTextOnly
	default:
		r.Kind = KindEmpty
	}
	return r
}

// classify converts low-level transport errors into user-facing errors.
func classify(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrConnectionTimeout
	}
	if errors.Is(err, context.Canceled) {
		return context.Canceled
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrConnectionTimeout
	}

	return fmt.Errorf("%w: %v", ErrRequestFailed, err)
}
