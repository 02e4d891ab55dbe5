package collection

import (
	"fmt"
	"os"
	"strings"
)

const (
	envMode     = "COLLECTION_RUNTIME_MODE"
	envURL      = "COLLECTION_API_URL"
	envToken    = "COLLECTION_API_TOKEN"
	envMockSeed = "COLLECTION_MOCK_SEED"

	// ModeAuto picks HTTP when COLLECTION_API_URL is set, the mock otherwise.
	ModeAuto = "auto"
	ModeHTTP = "http"
	ModeMock = "mock"
)

// Env is the backend configuration read from the environment.
type Env struct {
	// Mode is the resolved mode, ModeHTTP or ModeMock.
	Mode     string
	BaseURL  string
	Token    string
	SeedPath string
}

// LoadEnv reads COLLECTION_RUNTIME_MODE, COLLECTION_API_URL,
// COLLECTION_API_TOKEN and COLLECTION_MOCK_SEED and resolves the mode.
func LoadEnv() (Env, error) {
	env := Env{
		BaseURL:  strings.TrimSpace(os.Getenv(envURL)),
		Token:    strings.TrimSpace(os.Getenv(envToken)),
		SeedPath: strings.TrimSpace(os.Getenv(envMockSeed)),
	}

	mode := strings.ToLower(strings.TrimSpace(os.Getenv(envMode)))
	switch mode {
	case "", ModeAuto:
		if env.BaseURL != "" {
			env.Mode = ModeHTTP
		} else {
			env.Mode = ModeMock
		}
	case ModeHTTP:
		if env.BaseURL == "" {
			return Env{}, fmt.Errorf("collection: HTTP mode requires %s", envURL)
		}
		env.Mode = ModeHTTP
	case ModeMock:
		env.Mode = ModeMock
	default:
		return Env{}, fmt.Errorf("collection: unsupported %s value %q", envMode, mode)
	}
	return env, nil
}
