package email

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	goldmarkHTML "github.com/yuin/goldmark/renderer/html"
)

// mdRenderer escapes raw HTML in its input (WithUnsafe is not set).
var mdRenderer = goldmark.New(
	goldmark.WithRendererOptions(
		goldmarkHTML.WithHardWraps(),
	),
)

// RenderMarkdown converts a markdown body to HTML.
// PRE: md is markdown text
// POST: Returns HTML with any raw HTML escaped
func RenderMarkdown(md string) (string, error) {
	var buf bytes.Buffer
	if err := mdRenderer.Convert([]byte(md), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return buf.String(), nil
}

const recoveryTemplate = `# Reset your password

Someone asked to reset the password for **{{email}}** on the absence tracker.

[Choose a new password]({{link}})

The link can be used once and expires in {{ttl}}. If you did not ask for this, you can ignore this email.
`

// RecoveryEmail builds the password recovery message for one recipient.
// PRE: link is an absolute URL
// POST: Returns a request with both HTML and text bodies
func RecoveryEmail(to, link string, ttl time.Duration) (SendRequest, error) {
	md := strings.NewReplacer(
		"{{email}}", escapeMarkdown(to),
		"{{link}}", link,
		"{{ttl}}", humanDuration(ttl),
	).Replace(recoveryTemplate)

	html, err := RenderMarkdown(md)
	if err != nil {
		return SendRequest{}, err
	}
	return SendRequest{
		To:      []string{to},
		Subject: "Reset your password",
		HTML:    html,
		Text: fmt.Sprintf("Reset your password for %s by opening this link (valid for %s):\n\n%s\n",
			to, humanDuration(ttl), link),
	}, nil
}

func escapeMarkdown(s string) string {
	return strings.NewReplacer("*", `\*`, "_", `\_`, "[", `\[`, "]", `\]`, "<", "&lt;", ">", "&gt;").Replace(s)
}

func humanDuration(d time.Duration) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		if d == time.Hour {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", d/time.Hour)
	case d >= time.Minute:
		return fmt.Sprintf("%d minutes", d/time.Minute)
	default:
		return d.String()
	}
}
