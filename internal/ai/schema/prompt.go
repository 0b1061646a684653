package schema

import (
	"fmt"
	"strings"
)

// MaxTags is the most tags a single suggestion may return.
const MaxTags = 5

const DescribeSystemPrompt = `You describe photographs for a personal photo library.
Respond with a single JSON object of the form {"title": string, "description": string}.
The title is at most eight words. The description is one or two plain sentences about
what is visible. Do not speculate about people's identities. Return ONLY JSON.`

const DescribeUserPrompt = "Describe this picture."

const tagsSystemPrompt = `You label photographs for a personal photo library.
Respond with a single JSON object of the form {"tags": [string, ...]} containing at most %d
short, lowercase tags. Return ONLY JSON.`

// TagsSystemPrompt builds the tagging instruction. With allowNew false the
// model is told to choose only from candidates.
func TagsSystemPrompt(candidates []string, allowNew bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, tagsSystemPrompt, MaxTags)
	if len(candidates) > 0 {
		b.WriteString("\nExisting tags: ")
		b.WriteString(strings.Join(candidates, ", "))
		b.WriteString(".")
	}
	if allowNew {
		b.WriteString("\nPrefer existing tags when they fit; you may introduce new ones.")
	} else {
		b.WriteString("\nUse only tags from the existing list.")
	}
	return b.String()
}

const TagsUserPrompt = "Suggest tags for this picture."

// DataURL renders a base64 payload as a data URL.
func DataURL(contentType, b64 string) string {
	if contentType == "" {
		contentType = "image/jpeg"
	}
	return "data:" + contentType + ";base64," + b64
}
