package turn

import (
	"strings"
	"unicode/utf8"

	"github.com/voxline-labs/voxline-core/internal/config"
)

// Classifier runs the cheap text checks: explicit exit commands on the user's
// transcript, farewell tokens on generated segments, and playback requests.
type Classifier struct {
	exitCommands    map[string]struct{}
	farewellTokens  []string
	requestPhrases  []string
	maxCommandRunes int
}

func NewClassifier(session config.SessionConfig, playback config.PlaybackConfig) *Classifier {
	exits := make(map[string]struct{}, len(session.ExitCommands))
	for _, cmd := range session.ExitCommands {
		exits[cmd] = struct{}{}
	}
	return &Classifier{
		exitCommands:    exits,
		farewellTokens:  session.FarewellTokens,
		requestPhrases:  playback.RequestPhrases,
		maxCommandRunes: session.MaxCommandLength,
	}
}

// IsExitCommand reports whether the normalized transcript exactly matches a
// configured exit phrase. "goodbye now" does not match "goodbye". The length
// gate counts runes of the normalized transcript.
func (c *Classifier) IsExitCommand(transcript string) bool {
	normalized := Normalize(transcript)
	if normalized == "" {
		return false
	}
	if c.maxCommandRunes > 0 && utf8.RuneCountInString(normalized) > c.maxCommandRunes {
		return false
	}
	_, ok := c.exitCommands[normalized]
	return ok
}

// HasFarewell reports whether a generated segment contains a farewell token.
// Callers apply it to the first and last segments of a response only.
func (c *Classifier) HasFarewell(segment string) bool {
	normalized := Normalize(segment)
	for _, token := range c.farewellTokens {
		if token != "" && strings.Contains(normalized, token) {
			return true
		}
	}
	return false
}

// IsPlaybackRequest reports whether the transcript asks for asset playback.
func (c *Classifier) IsPlaybackRequest(transcript string) bool {
	normalized := strings.ToLower(Normalize(transcript))
	for _, phrase := range c.requestPhrases {
		if phrase != "" && strings.Contains(normalized, strings.ToLower(phrase)) {
			return true
		}
	}
	return false
}
