// Package genimg provides a client for the remote generative image-editing
// service. It sends a source image plus a natural-language instruction and
// returns the edited image, any accompanying text, or both.
//
// The service returns a sequence of parts, each an image or a piece of
// text. The client folds over the parts keeping the most recent image and
// the most recent text seen (iteration order is the tie-break), then
// classifies the overall response as an image result, a text-only result,
// or empty.
package genimg

import "context"

// Default configuration constants
const (
	// DefaultModel is the generative image model used when none is configured.
	DefaultModel = "gemini-2.5-flash-image"

	// APIKeyEnv is the environment variable holding the service API key.
	APIKeyEnv = "GEMINI_API_KEY"
)

// Kind classifies a service response.
type Kind int

const (
	// KindEmpty means the response contained no usable parts.
	KindEmpty Kind = iota
	// KindTextOnly means the response contained text but no image.
	KindTextOnly
	// KindImage means the response contained an image, with optional text.
	KindImage
)

// String returns the string representation of a result kind.
func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindTextOnly:
		return "text-only"
	case KindImage:
		return "image"
	default:
		return "unknown"
	}
}

// Result is the classified outcome of an edit request.
// Image fields are only meaningful when Kind is KindImage; Text may
// accompany any kind.
type Result struct {
	Kind          Kind
	ImageData     []byte
	ImageMimeType string
	Text          string
}

// Service is the interface the web layer consumes. It allows the real
// client to be swapped for a mock in tests.
type Service interface {
	// Edit applies the instruction to the image and returns the
	// classified result. A nil error with KindEmpty or KindTextOnly is
	// not a failure; it means the service produced no image.
	Edit(ctx context.Context, data []byte, mimeType, instruction string) (Result, error)
}
