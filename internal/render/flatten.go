package render

import "regexp"

var (
	emojiMarkup   = regexp.MustCompile(`<a?:(\w+):\d+>`)
	userMention   = regexp.MustCompile(`<@!?(\d+)>`)
	roleMention   = regexp.MustCompile(`<@&(\d+)>`)
	channelMarkup = regexp.MustCompile(`<#(\d+)>`)
)

// Flatten converts chat-platform markup into plain text suitable for file
// attachments, which cannot render it.
func Flatten(text string) string {
	text = emojiMarkup.ReplaceAllString(text, ":$1:")
	text = userMention.ReplaceAllString(text, "@$1")
	text = roleMention.ReplaceAllString(text, "@role:$1")
	text = channelMarkup.ReplaceAllString(text, "#$1")
	return text
}
