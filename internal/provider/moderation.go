package provider

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/param"

	"rolebot/internal/domain"
	"rolebot/internal/metrics"
)

// CheckText runs the moderation endpoint on text. Flagged content yields a
// *domain.ModerationError naming the flagged categories.
func (c *Client) CheckText(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	params := openai.ModerationNewParams{
		Input: openai.ModerationNewParamsInputUnion{OfString: param.NewOpt(text)},
	}

	metrics.ProviderRequests.Inc()
	resp, err := c.api.Moderations.New(ctx, params)
	if err != nil {
		return err
	}

	for _, result := range resp.Results {
		if result.Flagged {
			return &domain.ModerationError{Reason: flaggedCategories(result.Categories)}
		}
	}
	return nil
}

// flaggedCategories renders the set categories as a stable readable string.
// The category struct is reduced through JSON so new categories show up
// without code changes.
func flaggedCategories(categories openai.ModerationCategories) string {
	raw, err := json.Marshal(categories)
	if err != nil {
		return "flagged"
	}
	var set map[string]bool
	if err := json.Unmarshal(raw, &set); err != nil {
		return "flagged"
	}
	var names []string
	for name, flagged := range set {
		if flagged {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return "flagged"
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
