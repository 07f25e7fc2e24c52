package audit

import (
	"fmt"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
)

var digestConverter = func() *md.Converter {
	c := md.NewConverter("", true, nil)
	c.Use(plugin.GitHubFlavored())
	return c
}()

// RenderMarkdown renders events (already ordered, most recent first, by
// Timeline) as an operator-facing changelog: one GitHub-flavored
// markdown bullet per event, with a diff summary line where one is
// attached. Any HTML embedded in EventType or Actor (defensive only —
// these are never supposed to carry markup) is converted rather than
// passed through raw, the same normalization prompts get in C5.
func RenderMarkdown(events []Event) (string, error) {
	var body strings.Builder
	for _, ev := range events {
		fmt.Fprintf(&body, "<li><strong>%s</strong> %s on <code>%s/%s</code> by %s (%s)",
			ev.CreatedAt.Format("2006-01-02T15:04:05Z07:00"), ev.EventType, ev.EntityType, ev.EntityID, ev.Actor, ev.TenantID)
		if ev.Diff != nil {
			fmt.Fprintf(&body, " &mdash; +%d/-%d/~%d", ev.Diff.Summary.Added, ev.Diff.Summary.Removed, ev.Diff.Summary.Modified)
		}
		body.WriteString("</li>\n")
	}

	html := "<ul>\n" + body.String() + "</ul>"
	out, err := digestConverter.ConvertString(html)
	if err != nil {
		return "", fmt.Errorf("render timeline digest: %w", err)
	}
	return strings.TrimSpace(out), nil
}
