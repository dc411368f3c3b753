// Package render produces fully-rendered per-recipient messages from a
// campaign template using Liquid substitution.
package render

import (
	"crypto/md5"
	"fmt"
	"strings"
	"sync"

	"github.com/osteele/liquid"

	"github.com/dfiore1230/eventschedule-sub000/internal/domain"
)

// Renderer renders campaign content with per-recipient bindings. Parsed
// templates are cached by content hash since every recipient of a campaign
// shares the same template.
type Renderer struct {
	engine *liquid.Engine
	cache  sync.Map // md5(content) -> *liquid.Template
}

// New creates a renderer with the default filter set.
func New() *Renderer {
	engine := liquid.NewEngine()

	// {{ first_name | default: "there" }} for sparse subscriber data.
	engine.RegisterFilter("default", func(value any, fallback string) any {
		if value == nil {
			return fallback
		}
		if s := fmt.Sprintf("%v", value); s == "" || s == "<nil>" {
			return fallback
		}
		return value
	})

	return &Renderer{engine: engine}
}

// Render substitutes bindings into one piece of template content.
// Missing variables render empty rather than failing a whole campaign batch.
func (r *Renderer) Render(content string, bindings map[string]any) (string, error) {
	if content == "" || !strings.Contains(content, "{{") && !strings.Contains(content, "{%") {
		return content, nil
	}

	key := fmt.Sprintf("%x", md5.Sum([]byte(content)))
	var tpl *liquid.Template
	if cached, ok := r.cache.Load(key); ok {
		tpl = cached.(*liquid.Template)
	} else {
		parsed, err := r.engine.ParseString(content)
		if err != nil {
			return "", fmt.Errorf("parse template: %w", err)
		}
		r.cache.Store(key, parsed)
		tpl = parsed
	}

	out, err := tpl.RenderString(bindings)
	if err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return out, nil
}

// Message renders every personalized part of a campaign for one audience
// member and assembles the outgoing message. unsubscribeURL, when non-empty,
// is substituted into the footer and attached as a List-Unsubscribe header.
func (r *Renderer) Message(c *domain.Campaign, m *domain.AudienceMember, footerText, unsubscribeURL string) (domain.EmailMessage, error) {
	bindings := map[string]any{
		"first_name": m.FirstName,
		"last_name":  m.LastName,
		"email":      m.Email,
	}

	subject, err := r.Render(c.Subject, bindings)
	if err != nil {
		return domain.EmailMessage{}, fmt.Errorf("subject: %w", err)
	}
	html, err := r.Render(c.HTMLContent, bindings)
	if err != nil {
		return domain.EmailMessage{}, fmt.Errorf("html body: %w", err)
	}
	text, err := r.Render(c.TextContent, bindings)
	if err != nil {
		return domain.EmailMessage{}, fmt.Errorf("text body: %w", err)
	}

	if footer := buildFooter(footerText, unsubscribeURL); footer != "" {
		html = injectHTMLFooter(html, footer)
		if text != "" {
			text += "\n\n" + footer
		}
	}

	msg := domain.EmailMessage{
		Email:        m.Email,
		SubscriberID: m.SubscriberID,
		CampaignID:   c.ID,
		ListID:       m.ListID,
		FromName:     c.FromName,
		FromEmail:    c.FromEmail,
		ReplyTo:      c.ReplyTo,
		Subject:      subject,
		HTMLContent:  html,
		TextContent:  text,
		Metadata: map[string]string{
			"email_type": string(c.Type),
		},
	}
	if unsubscribeURL != "" {
		msg.Headers = map[string]string{
			"List-Unsubscribe":      fmt.Sprintf("<%s>", unsubscribeURL),
			"List-Unsubscribe-Post": "List-Unsubscribe=One-Click",
		}
	}
	return msg, nil
}

func buildFooter(footerText, unsubscribeURL string) string {
	if footerText == "" && unsubscribeURL == "" {
		return ""
	}
	if footerText == "" {
		footerText = "To stop receiving these emails, unsubscribe here: {{unsubscribe_url}}"
	}
	return strings.ReplaceAll(footerText, "{{unsubscribe_url}}", unsubscribeURL)
}

// injectHTMLFooter appends the footer before </body> when present, otherwise
// at the end of the document.
func injectHTMLFooter(html, footer string) string {
	block := fmt.Sprintf(`<p style="font-size:12px;color:#666;">%s</p>`, footer)
	idx := strings.LastIndex(strings.ToLower(html), "</body>")
	if idx < 0 {
		return html + block
	}
	return html[:idx] + block + html[idx:]
}
