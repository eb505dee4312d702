// Package render turns transcript messages into renderer-ready HTML.
package render

import (
	"html"
	"strings"
	"time"

	"github.com/gomarkdown/markdown"
	mdhtml "github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
	"github.com/microcosm-cc/bluemonday"

	"github.com/optinbot/widget/internal/model/chat"
)

// TimeLayout is the hour:minute stamp shown under each bubble.
const TimeLayout = "15:04"

// Message is a transcript entry with its display fields filled in.
type Message struct {
	Role      chat.Role `json:"role"`
	Text      string    `json:"text"`
	HTML      string    `json:"html"`
	// Time is the server-side hour:minute; renderers prefer Timestamp in the visitor's locale.
	Time      string    `json:"time"`
	Timestamp time.Time `json:"timestamp"`
}

// Renderer converts bot markdown to sanitised HTML. Visitor text is only escaped.
type Renderer struct {
	policy   *bluemonday.Policy
	location *time.Location
}

// New returns a renderer stamping times in loc (UTC when nil).
func New(loc *time.Location) *Renderer {
	if loc == nil {
		loc = time.UTC
	}

	policy := bluemonday.UGCPolicy().
		AllowElements("p", "br", "ul", "ol", "li", "blockquote", "code", "pre").
		AllowURLSchemes("http", "https", "mailto").
		AllowRelativeURLs(false).
		RequireNoFollowOnLinks(true).
		AddTargetBlankToFullyQualifiedLinks(true)

	return &Renderer{policy: policy, location: loc}
}

// Message renders one entry.
func (r *Renderer) Message(m chat.Message) Message {
	out := Message{
		Role:      m.Role,
		Text:      m.Text,
		Time:      m.Timestamp.In(r.location).Format(TimeLayout),
		Timestamp: m.Timestamp,
	}
	if m.Role == chat.RoleBot {
		out.HTML = r.Markdown(m.Text)
	} else {
		out.HTML = strings.ReplaceAll(html.EscapeString(m.Text), "\n", "<br>")
	}
	return out
}

// Messages renders a transcript in order.
func (r *Renderer) Messages(msgs []chat.Message) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, r.Message(m))
	}
	return out
}

// Markdown converts lightweight markup into sanitised HTML.
func (r *Renderer) Markdown(text string) string {
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.HardLineBreak | parser.NoEmptyLineBeforeBlock)
	doc := p.Parse([]byte(text))

	renderer := mdhtml.NewRenderer(mdhtml.RendererOptions{Flags: mdhtml.CommonFlags | mdhtml.SkipHTML})
	raw := markdown.Render(doc, renderer)

	return strings.TrimSpace(string(r.policy.SanitizeBytes(raw)))
}
