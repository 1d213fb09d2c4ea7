package summary

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gollem"
	"github.com/secmon-lab/argos/pkg/domain/model"
)

const maxConcepts = 8

// Summarizer condenses fetched page text into a short summary plus the
// concept labels the page is about.
type Summarizer interface {
	Summarize(ctx context.Context, doc *model.Document) (*Result, error)
}

// Result is the structured output of a summarization call.
type Result struct {
	Summary  string
	Concepts []string
}

type client struct {
	llmClient gollem.LLMClient
}

var _ Summarizer = &client{}

// New creates a Summarizer backed by an LLM client.
func New(llmClient gollem.LLMClient) Summarizer {
	return &client{llmClient: llmClient}
}

type llmResponse struct {
	Summary  string   `json:"summary"`
	Concepts []string `json:"concepts"`
}

func (c *client) Summarize(ctx context.Context, doc *model.Document) (*Result, error) {
	session, err := c.llmClient.NewSession(ctx,
		gollem.WithSessionContentType(gollem.ContentTypeJSON),
		gollem.WithSessionResponseSchema(buildResponseSchema()),
		gollem.WithSessionSystemPrompt(systemPrompt),
	)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create LLM session")
	}

	resp, err := session.GenerateContent(ctx, gollem.Text(buildUserPrompt(doc)))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to generate content from LLM")
	}
	if len(resp.Texts) == 0 {
		return nil, goerr.New("empty LLM response")
	}

	var llmResp llmResponse
	if err := json.Unmarshal([]byte(resp.Texts[0]), &llmResp); err != nil {
		return nil, goerr.Wrap(err, "failed to parse LLM response", goerr.V("response", resp.Texts[0]))
	}

	if strings.TrimSpace(llmResp.Summary) == "" {
		return nil, goerr.New("LLM returned empty summary", goerr.V("url", doc.URL))
	}

	return &Result{
		Summary:  strings.TrimSpace(llmResp.Summary),
		Concepts: normalizeConcepts(llmResp.Concepts),
	}, nil
}

// normalizeConcepts lowercases labels, drops empties and duplicates,
// and caps the list.
func normalizeConcepts(labels []string) []string {
	seen := make(map[string]bool, len(labels))
	out := make([]string, 0, len(labels))
	for _, label := range labels {
		normalized := model.NormalizeConceptLabel(label)
		if normalized == "" || seen[normalized] {
			continue
		}
		seen[normalized] = true
		out = append(out, normalized)
		if len(out) >= maxConcepts {
			break
		}
	}
	return out
}

const systemPrompt = `You are a reading assistant that condenses web pages for a personal knowledge base.
Summarize the page content in 2-4 sentences, focused on what the page actually says rather than site navigation or marketing.
Then list the key concepts (topics, technologies, entities) the page is about as short lowercase labels.`

func buildUserPrompt(doc *model.Document) string {
	var sb strings.Builder
	if doc.Title != "" {
		fmt.Fprintf(&sb, "Title: %s\n", doc.Title)
	}
	fmt.Fprintf(&sb, "URL: %s\n\n", doc.URL)
	sb.WriteString("Content:\n")
	sb.WriteString(doc.Text)
	return sb.String()
}

// buildResponseSchema creates the JSON schema for structured output
func buildResponseSchema() *gollem.Parameter {
	return &gollem.Parameter{
		Title:       "PageSummaryResponse",
		Description: "Summary and key concepts of a web page",
		Type:        gollem.TypeObject,
		Properties: map[string]*gollem.Parameter{
			"summary": {
				Type:        gollem.TypeString,
				Description: "A 2-4 sentence summary of the page content",
				Required:    true,
			},
			"concepts": {
				Type:        gollem.TypeArray,
				Description: "Key concepts the page is about, as short lowercase labels",
				Required:    true,
				Items: &gollem.Parameter{
					Type: gollem.TypeString,
				},
			},
		},
	}
}
