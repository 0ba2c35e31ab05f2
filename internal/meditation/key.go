package meditation

import (
	"fmt"
	"strings"
)

// Triple identifies a mixed meditation track.
type Triple struct {
	Title    string
	Ambiance string
	VoiceID  string
}

// Validate rejects triples with a blank field.
func (t Triple) Validate() error {
	var missing []string
	if strings.TrimSpace(t.Title) == "" {
		missing = append(missing, "title")
	}
	if strings.TrimSpace(t.Ambiance) == "" {
		missing = append(missing, "ambiance")
	}
	if strings.TrimSpace(t.VoiceID) == "" {
		missing = append(missing, "voiceId")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidRequest, strings.Join(missing, ", "))
	}
	return nil
}

// Key is the cache key of the triple: the sanitized parts joined as
// <title>_with_<ambiance>_by_<voice>. It is also the artifact's file stem.
func (t Triple) Key() string {
	return Sanitize(t.Title) + "_with_" + Sanitize(t.Ambiance) + "_by_" + Sanitize(t.VoiceID)
}

// speechStem names the raw speech file for the triple's title and voice.
func (t Triple) speechStem() string {
	return Sanitize(t.Title) + "_by_" + Sanitize(t.VoiceID)
}

// Sanitize lowercases s and replaces every character outside [a-z0-9] with '_'.
func Sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if ('a' <= r && r <= 'z') || ('0' <= r && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}
