package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/launchpointhq/liveboard/internal/model"
)

// pageSize is the platform's maximum page size for list endpoints.
const pageSize = 1000

// applicationsResponse is the list payload for /applications.
type applicationsResponse struct {
	Applications []model.Application `json:"applications"`
	Cursor       string              `json:"cursor"`
}

// mentorsResponse is the list payload for /mentors.
type mentorsResponse struct {
	Mentors []model.Mentor `json:"mentors"`
	Cursor  string         `json:"cursor"`
}

// ListApplications fetches every application row, following pagination cursors.
func (c *Client) ListApplications(ctx context.Context) ([]model.Application, error) {
	var all []model.Application
	cursor := ""

	for {
		query := url.Values{}
		query.Set("limit", strconv.Itoa(pageSize))
		if cursor != "" {
			query.Set("cursor", cursor)
		}

		body, err := c.doWithRetry(ctx, http.MethodGet, "/applications", query)
		if err != nil {
			return nil, fmt.Errorf("list applications: %w", err)
		}

		var page applicationsResponse
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("parse applications: %w", err)
		}

		all = append(all, page.Applications...)

		if page.Cursor == "" || len(page.Applications) == 0 {
			return all, nil
		}
		cursor = page.Cursor
	}
}

// ListMentors fetches every mentor row, following pagination cursors.
func (c *Client) ListMentors(ctx context.Context) ([]model.Mentor, error) {
	var all []model.Mentor
	cursor := ""

	for {
		query := url.Values{}
		query.Set("limit", strconv.Itoa(pageSize))
		if cursor != "" {
			query.Set("cursor", cursor)
		}

		body, err := c.doWithRetry(ctx, http.MethodGet, "/mentors", query)
		if err != nil {
			return nil, fmt.Errorf("list mentors: %w", err)
		}

		var page mentorsResponse
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("parse mentors: %w", err)
		}

		all = append(all, page.Mentors...)

		if page.Cursor == "" || len(page.Mentors) == 0 {
			return all, nil
		}
		cursor = page.Cursor
	}
}
