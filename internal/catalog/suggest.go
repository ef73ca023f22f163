package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Suggestion is one hit from the s.to suggest endpoint.
type Suggestion struct {
	Title string `json:"title"`
	Link  string `json:"link"`
}

// Suggest queries the s.to ajax search endpoint and returns its hits in
// ranking order. Only s.to advertises this capability.
func (c *Client) Suggest(ctx context.Context, site Site, query string) ([]Suggestion, error) {
	desc := Describe(site)
	if !desc.Caps.SearchSuggest {
		return nil, fmt.Errorf("site %s has no suggest endpoint", site)
	}

	form := url.Values{}
	form.Set("keyword", query)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, desc.BaseURL+"/ajax/search", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("suggest %q: %w", query, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("suggest %q: unexpected status %d", query, resp.StatusCode)
	}

	var hits []Suggestion
	if err := json.NewDecoder(resp.Body).Decode(&hits); err != nil {
		return nil, fmt.Errorf("suggest %q: decode: %w", query, err)
	}

	// Only series links are usable; the endpoint also returns episodes
	// and genre pages.
	var series []Suggestion
	for _, hit := range hits {
		if desc.SlugFromURL(hit.Link) != "" {
			series = append(series, hit)
		}
	}
	return series, nil
}
