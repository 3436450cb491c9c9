package overload

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Kind names the limiter algorithm in a descriptor string.
type Kind string

const (
	KindDefault Kind = "default"
	KindSeconds Kind = "seconds"
	KindSmooth  Kind = "smooth"
)

// Descriptor is the parsed form of "NAME(MAX_RPS)" from the flow-control
// YAML schema's limiter fields.
type Descriptor struct {
	Kind    Kind
	MaxRPS  int64
	WindowN int32 // seconds window size, or smooth cells/second; 0 = caller default
}

// ParseLimiterDescriptor parses strings of the form "default(100)",
// "seconds(50)", "smooth(200)". A malformed descriptor (bad kind, missing
// or non-positive MAX_RPS) returns an error; the caller is expected to
// leave the corresponding service/method unrestricted and log the error
// rather than fail configuration loading outright.
func ParseLimiterDescriptor(s string) (Descriptor, error) {
	s = strings.TrimSpace(s)
	open := strings.IndexByte(s, '(')
	if open < 0 || !strings.HasSuffix(s, ")") {
		return Descriptor{}, errors.Errorf("overload: malformed limiter descriptor %q", s)
	}
	kind := Kind(strings.TrimSpace(s[:open]))
	switch kind {
	case KindDefault, KindSeconds, KindSmooth:
	default:
		return Descriptor{}, errors.Errorf("overload: unknown limiter kind %q in %q", kind, s)
	}
	numStr := s[open+1 : len(s)-1]
	n, err := strconv.ParseInt(strings.TrimSpace(numStr), 10, 64)
	if err != nil {
		return Descriptor{}, errors.Wrapf(err, "overload: invalid MAX_RPS in %q", s)
	}
	if n < 1 {
		return Descriptor{}, errors.Errorf("overload: MAX_RPS must be >= 1, got %d in %q", n, s)
	}
	return Descriptor{Kind: kind, MaxRPS: n}, nil
}

// NewLimiter builds the concrete Limiter named by d. KindDefault maps to
// SecondsLimiter, the default algorithm.
func NewLimiter(name string, d Descriptor, windowSize int32, report Reporter) Limiter {
	w := d.WindowN
	if w == 0 {
		w = windowSize
	}
	switch d.Kind {
	case KindSmooth:
		return NewSmoothLimiter(name, d.MaxRPS, int(d.WindowN), report)
	default: // KindDefault, KindSeconds
		return NewSecondsLimiter(name, d.MaxRPS, w, report)
	}
}
