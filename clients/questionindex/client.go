// Package questionindex is the fast tier of question sourcing: a
// Typesense-compatible search index over the question content store.
package questionindex

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/sakirkocak/teknokul-duel/clients"
	"github.com/sakirkocak/teknokul-duel/internal/models"
)

// Client searches the question index.
type Client struct {
	*clients.BaseClient
}

// NewClient creates a question index client for the given server.
func NewClient(baseURL, apiKey string) *Client {
	client := &Client{
		BaseClient: clients.NewBaseClient(baseURL),
	}
	client.SetHeader(APIKeyHeader, apiKey)
	return client
}

// SearchFilter narrows a question search. Grade 0 means any grade; an empty
// or "Karışık" (mixed) subject means any subject.
type SearchFilter struct {
	Grade   int
	Subject string
	Limit   int
}

type searchResponse struct {
	Hits []struct {
		Document models.SourcedQuestion `json:"document"`
	} `json:"hits"`
	Found int `json:"found"`
}

// Search returns up to filter.Limit questions matching the filter. An empty
// result is not an error; the provisioner decides whether to fall back.
func (c *Client) Search(ctx context.Context, filter SearchFilter) ([]models.SourcedQuestion, error) {
	var filterBy []string
	if filter.Grade > 0 {
		filterBy = append(filterBy, fmt.Sprintf("grade:=%d", filter.Grade))
	}
	if subject := normalizeSubject(filter.Subject); subject != "" {
		filterBy = append(filterBy, fmt.Sprintf("subject_name:=%s", subject))
	}

	params := url.Values{}
	params.Set("q", "*")
	params.Set("query_by", "question_text")
	params.Set("per_page", strconv.Itoa(filter.Limit))
	params.Set("include_fields", includeFields)
	if len(filterBy) > 0 {
		params.Set("filter_by", strings.Join(filterBy, " && "))
	}

	body, err := c.Get(ctx, searchEndpoint+"?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("question index search: %w", err)
	}

	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode question index response: %w", err)
	}

	questions := make([]models.SourcedQuestion, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		questions = append(questions, hit.Document)
	}
	return questions, nil
}

// Fetch adapts Search to the sourcing-tier shape shared with the content
// store fallback.
func (c *Client) Fetch(ctx context.Context, grade int, subject string, limit int) ([]models.SourcedQuestion, error) {
	return c.Search(ctx, SearchFilter{Grade: grade, Subject: subject, Limit: limit})
}

// normalizeSubject maps the "mixed" sentinel onto no filter.
func normalizeSubject(subject string) string {
	if subject == "" || subject == "Karışık" {
		return ""
	}
	return subject
}
