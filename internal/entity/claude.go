package entity

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/ajitpratap0/openclaw-brain/internal/models"
)

// claudePromptTemplate asks for entities of the brain's own types. User text is wrapped
// in an XML tag and escaped so it cannot close the tag.
const claudePromptTemplate = `You are an entity extraction system. Identify the named entities in the text.

For each entity provide:
- name: the entity name exactly as written in the text
- type: one of "product", "company", "person", "concept"
  - product: a named product, module or device
  - company: a named company or organisation
  - person: a named individual
  - concept: a named domain concept or process
- aliases: alternative names or abbreviations (may be empty)

Return a JSON array of entities. If there are none, return [].

<content>%s</content>

Extract entities as JSON array:`

type claudeEntity struct {
	Name    string   `json:"name"`
	Type    string   `json:"type"`
	Aliases []string `json:"aliases"`
}

// ClaudeExtractor recognizes entities with a Claude model. Mentions whose name does
// not occur verbatim in the text carry Start and End of -1.
type ClaudeExtractor struct {
	client *anthropic.Client
	model  string
	logger *slog.Logger
}

// NewClaudeExtractor creates an extractor backed by the Claude API. Extra options,
// such as a base URL for tests, are passed to the client.
func NewClaudeExtractor(apiKey, model string, logger *slog.Logger, opts ...option.RequestOption) *ClaudeExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	c := anthropic.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)...)
	return &ClaudeExtractor{client: &c, model: model, logger: logger}
}

// Extract calls the model and maps its answer onto mentions.
func (e *ClaudeExtractor) Extract(ctx context.Context, text string) ([]models.Mention, error) {
	prompt := fmt.Sprintf(claudePromptTemplate, escapeXML(text))

	resp, err := e.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(e.model),
		MaxTokens: 1024,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
		System: []anthropic.TextBlockParam{
			{Text: "You are a precise entity extraction system. Output only valid JSON."},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("claude entity extraction: %w", err)
	}

	var body string
	for i := range resp.Content {
		if resp.Content[i].Type == "text" {
			body = resp.Content[i].Text
			break
		}
	}
	if body == "" {
		e.logger.Warn("claude entity extraction: empty response")
		return nil, nil
	}
	body = stripCodeFence(body)

	var raw []claudeEntity
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return nil, fmt.Errorf("claude entity extraction: parsing response: %w", err)
	}

	lower := strings.ToLower(text)
	out := make([]models.Mention, 0, len(raw))
	for i := range raw {
		name := strings.TrimSpace(raw[i].Name)
		if name == "" {
			continue
		}
		typ := models.EntityType(raw[i].Type)
		if !typ.IsValid() {
			e.logger.Debug("claude entity extraction: unknown type, using concept", "type", raw[i].Type, "name", name)
			typ = models.EntityTypeConcept
		}
		start, end := -1, -1
		if idx := strings.Index(lower, strings.ToLower(name)); idx >= 0 {
			start, end = idx, idx+len(name)
		}
		var aliases []string
		for _, a := range raw[i].Aliases {
			if a = strings.TrimSpace(a); a != "" && !strings.EqualFold(a, name) {
				aliases = append(aliases, a)
			}
		}
		out = append(out, models.Mention{Name: name, Type: typ, Aliases: aliases, Start: start, End: end})
	}
	e.logger.Debug("claude entity extraction", "count", len(out))
	return out, nil
}

func escapeXML(s string) string {
	var buf strings.Builder
	if err := xml.EscapeText(&buf, []byte(s)); err != nil {
		return s
	}
	return buf.String()
}

// stripCodeFence removes a surrounding ```json fence some models add.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
