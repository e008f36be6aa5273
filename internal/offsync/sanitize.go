package offsync

import (
	"fmt"
	"regexp"
)

const (
	maxKeyLen    = 256
	maxStringLen = 100_000
)

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,256}$`)

// Patterns stripped from every string leaf before persistence. The store is
// a trust boundary: values may round-trip into rendered UI, so script tags,
// javascript: URLs and inline event handlers never hit disk.
var scriptPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script[^>]*>`),
	regexp.MustCompile(`(?i)</?script\b[^>]*>`),
	regexp.MustCompile(`(?i)javascript\s*:`),
	regexp.MustCompile(`(?i)\bon[a-z]+\s*=`),
}

func validKey(key string) bool {
	return keyPattern.MatchString(key)
}

func sanitizeString(s string) string {
	for _, p := range scriptPatterns {
		s = p.ReplaceAllString(s, "")
	}
	if len(s) > maxStringLen {
		s = s[:maxStringLen]
	}
	return s
}

// sanitizeValue walks a decoded JSON tree. String leaves are scrubbed and
// capped, object keys are re-validated against the same rule as top-level
// store keys. Numbers, bools and nulls pass through.
func sanitizeValue(v any) (any, error) {
	switch t := v.(type) {
	case string:
		return sanitizeString(t), nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, sub := range t {
			if !validKey(k) {
				return nil, fmt.Errorf("%w: object key %q", ErrInvalidValue, k)
			}
			cleaned, err := sanitizeValue(sub)
			if err != nil {
				return nil, err
			}
			out[k] = cleaned
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, sub := range t {
			cleaned, err := sanitizeValue(sub)
			if err != nil {
				return nil, err
			}
			out[i] = cleaned
		}
		return out, nil
	default:
		return v, nil
	}
}
