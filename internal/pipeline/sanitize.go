package pipeline

import (
	"regexp"
	"strings"
)

// Spoken replacements for symbols that synthesizers either mispronounce or
// read out as garbage. Applied before the structural cleanups.
var spokenTokens = strings.NewReplacer(
	"->", " rightarrow ",
	"=>", " rightarrow ",
	"<-", " leftarrow ",
	"→", " rightarrow ",
	"←", " leftarrow ",
	"§", " section ",
	"&", " and ",
	"%", " percent ",
	"±", " plus or minus ",
	"°", " degrees ",
	"€", " euros ",
	"$", " dollars ",
	"~", " about ",
)

var (
	// Fenced code blocks disappear entirely; reading code aloud is noise.
	codeBlockRe = regexp.MustCompile("(?s)```.*?```")
	inlineCodeRe = regexp.MustCompile("`[^`]*`")

	// Markdown structure markers.
	headerRe   = regexp.MustCompile(`(?m)^#{1,6}\s*`)
	emphasisRe = regexp.MustCompile(`[*_]{1,3}`)
	bulletRe   = regexp.MustCompile(`(?m)^\s*[-+]\s+`)

	// Emoji and pictographs.
	emojiRe = regexp.MustCompile(`[\x{1F000}-\x{1FAFF}\x{2600}-\x{27BF}\x{FE0F}]`)

	// Runs of the same punctuation mark collapse to one.
	punctRunRe = regexp.MustCompile(`([.!?,;:])[.!?,;:]+`)

	whitespaceRe = regexp.MustCompile(`\s+`)
)

// Sanitize prepares LLM output for speech synthesis: markdown structure and
// code are stripped, symbolic tokens become spoken equivalents, punctuation
// runs and whitespace collapse. Sanitize is idempotent.
func Sanitize(text string) string {
	s := codeBlockRe.ReplaceAllString(text, " ")
	s = inlineCodeRe.ReplaceAllString(s, " ")
	// Stripping one structure marker can expose another ("**- hi**" hides a
	// bullet behind emphasis), so these passes repeat until nothing changes.
	for {
		prev := s
		s = emphasisRe.ReplaceAllString(s, "")
		s = headerRe.ReplaceAllString(s, "")
		s = bulletRe.ReplaceAllString(s, "")
		if s == prev {
			break
		}
	}
	s = emojiRe.ReplaceAllString(s, "")
	s = spokenTokens.Replace(s)
	s = punctRunRe.ReplaceAllString(s, "$1")
	s = whitespaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
