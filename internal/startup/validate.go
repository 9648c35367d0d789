package startup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/retouchapp/retouch/internal/genimg"
)

var (
	// ErrNoAPIKey is returned when the edit service API key is not configured
	ErrNoAPIKey = errors.New("edit service API key not set")
	// ErrServiceUnreachable is returned when the edit service cannot be reached
	ErrServiceUnreachable = errors.New("edit service not reachable")
)

const (
	// validateTimeout is the timeout for the edit service validation request
	validateTimeout = 10 * time.Second
)

// ReadAPIKey reads the edit service API key from the environment.
// Returns ErrNoAPIKey if the variable is unset or empty.
func ReadAPIKey() (string, error) {
	key := os.Getenv(genimg.APIKeyEnv)
	if key == "" {
		return "", fmt.Errorf("%w: set %s", ErrNoAPIKey, genimg.APIKeyEnv)
	}
	return key, nil
}

// ValidateEditService checks that the edit service is reachable and the
// configured model exists. Returns ErrServiceUnreachable on failure.
func ValidateEditService(ctx context.Context, client *genimg.Client) error {
	ctx, cancel := context.WithTimeout(ctx, validateTimeout)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrServiceUnreachable, err)
	}
	return nil
}
