package backup

import (
	"path/filepath"
	"strings"
)

// Request describes one backup run. It is immutable once built by NewRequest;
// the zero value is invalid and is rejected by Orchestrator.Run.
type Request struct {
	mode            Mode
	sources         []string
	destinationRoot string
	secret          string
	encrypt         bool
}

// RequestOption configures optional parts of a Request.
type RequestOption func(*Request)

// WithSecret enables encryption with a key derived from secret.
func WithSecret(secret string) RequestOption {
	return func(r *Request) {
		r.secret = secret
		r.encrypt = true
	}
}

// NewRequest validates its inputs and returns a Request. All failures are
// ConfigErrors, and nothing on disk is touched.
func NewRequest(mode Mode, sources []string, destinationRoot string, opts ...RequestOption) (Request, error) {
	r := Request{
		mode:            mode,
		destinationRoot: strings.TrimSpace(destinationRoot),
	}
	for _, s := range sources {
		if s = strings.TrimSpace(s); s != "" {
			r.sources = append(r.sources, s)
		}
	}
	for _, opt := range opts {
		opt(&r)
	}

	if err := r.Validate(); err != nil {
		return Request{}, err
	}

	r.destinationRoot = filepath.Clean(r.destinationRoot)
	return r, nil
}

// Validate checks the request invariants.
func (r Request) Validate() error {
	if !r.mode.Valid() {
		return configErrorf("invalid mode %s", r.mode)
	}
	if len(r.sources) == 0 {
		return configErrorf("source list is empty")
	}
	if r.mode == ModeDatabase && len(r.sources) != 1 {
		return configErrorf("database mode takes exactly one source, got %d", len(r.sources))
	}
	if r.destinationRoot == "" {
		return configErrorf("destination root is required")
	}
	if r.encrypt && r.secret == "" {
		return configErrorf("encryption requested with an empty secret")
	}
	return nil
}

func (r Request) Mode() Mode { return r.mode }

// Sources returns a copy of the ordered source paths.
func (r Request) Sources() []string {
	return append([]string(nil), r.sources...)
}

func (r Request) DestinationRoot() string { return r.destinationRoot }

// Encrypted reports whether the request carries a secret.
func (r Request) Encrypted() bool { return r.encrypt }

func (r Request) secretValue() string { return r.secret }
