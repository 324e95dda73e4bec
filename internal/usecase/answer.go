package usecase

import (
	"errors"
	"regexp"
	"strings"

	"lead-assistant/internal/integrations/openai"
)

// ErrNoAnswerText is returned when a response carries no usable text.
var ErrNoAnswerText = errors.New("usecase: response has no answer text")

var (
	citationPattern = regexp.MustCompile(`【\d+:\d+†[^】]+】`)
	markupPattern   = regexp.MustCompile("(\\*\\*|_|~~|`|# |\\* |- )")

	headingPattern = regexp.MustCompile(`(?m)^#{1,3} +\**(.+?)\**[ \t]*$`)
	boldPattern    = regexp.MustCompile(`\*{2,}([^*\n]+?)\*{2,}`)
	strikePattern  = regexp.MustCompile(`~{2,}([^~\n]+?)~{2,}`)
	codePattern    = regexp.MustCompile("(`+)([^`]+?)(`+)")
	bulletPattern  = regexp.MustCompile(`(?m)^([ \t]*)\* `)
)

// ExtractAnswer returns the formatted text of the first output_text block,
// falling back to the aggregated output_text of the response.
func ExtractAnswer(resp *openai.Response) (string, error) {
	if resp == nil {
		return "", ErrNoAnswerText
	}
	text, found := firstOutputText(resp)
	if !found {
		text = resp.OutputText
	}
	text = FormatAnswer(text)
	if strings.TrimSpace(text) == "" {
		return "", ErrNoAnswerText
	}
	return text, nil
}

func firstOutputText(resp *openai.Response) (string, bool) {
	for _, item := range resp.Output {
		if item.Type != openai.ItemMessage {
			continue
		}
		for _, part := range item.Content {
			if part.Type == openai.ContentOutputText {
				return part.Text, true
			}
		}
	}
	return "", false
}

// FormatAnswer strips file citation markers and rewrites markdown into chat
// markup. It is pure and idempotent.
func FormatAnswer(text string) string {
	text = citationPattern.ReplaceAllString(text, "")
	if !markupPattern.MatchString(text) {
		return text
	}
	text = headingPattern.ReplaceAllString(text, "*$1*")
	text = boldPattern.ReplaceAllString(text, "*$1*")
	text = strikePattern.ReplaceAllString(text, "~$1~")
	text = codePattern.ReplaceAllString(text, "```$2```")
	text = bulletPattern.ReplaceAllString(text, "$1- ")
	return text
}
