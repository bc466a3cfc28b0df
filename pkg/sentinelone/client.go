/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package sentinelone is a read-only client for the SentinelOne management API.
package sentinelone

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	apiPrefix = "/web/api/v2.1"

	sitesPath  = "/sites"
	agentsPath = "/agents"
	risksPath  = "/application-management/risks"

	defaultRequestsPerSecond = 5
	defaultBurst             = 5
	defaultHTTPTimeout       = 60 * time.Second
	maxResponseBytes         = 32 << 20
)

// Config holds the settings for an HTTPClient.
type Config struct {
	// BaseURL is the console root, e.g. https://usea1.sentinelone.net.
	BaseURL  string
	APIToken string

	// RequestsPerSecond and Burst pace outbound requests. Zero selects defaults.
	RequestsPerSecond float64
	Burst             int

	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// HTTPClient implements Client over the REST API.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     zerolog.Logger
}

var _ Client = (*HTTPClient)(nil)

// NewClient validates cfg and returns a ready client.
func NewClient(cfg Config) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: base URL is required", ErrInvalidConfig)
	}

	if cfg.APIToken == "" {
		return nil, fmt.Errorf("%w: API token is required", ErrInvalidConfig)
	}

	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("%w: invalid base URL %q", ErrInvalidConfig, cfg.BaseURL)
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = defaultRequestsPerSecond
	}

	burst := cfg.Burst
	if burst <= 0 {
		burst = defaultBurst
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}

	return &HTTPClient{
		baseURL:    base.String() + apiPrefix,
		token:      cfg.APIToken,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		logger:     cfg.Logger.With().Str("component", "sentinelone").Logger(),
	}, nil
}

// ListSites implements Client.
func (c *HTTPClient) ListSites(_ context.Context, filter SiteFilter) *PageIterator[Site] {
	return NewPageIterator(func(ctx context.Context, cursor string) (*Page[Site], error) {
		query := pageQuery(cursor, filter.PageSize)
		if filter.State != "" {
			query.Set("state", filter.State)
		}

		body, err := c.get(ctx, sitesPath, query)
		if err != nil {
			return nil, err
		}

		var envelope struct {
			Data struct {
				Sites []json.RawMessage `json:"sites"`
			} `json:"data"`
			Pagination pagination `json:"pagination"`
		}

		if err := json.Unmarshal(body, &envelope); err != nil {
			return nil, fmt.Errorf("%w: sites: %w", ErrDecodeResponse, err)
		}

		page := &Page[Site]{}
		page.Items, page.Invalid = decodeRows("site", envelope.Data.Sites, (*wireSite).toSite)
		setPagination(page, envelope.Pagination)

		return page, nil
	})
}

// ListAgents implements Client.
func (c *HTTPClient) ListAgents(_ context.Context, filter AgentFilter) *PageIterator[Agent] {
	return NewPageIterator(func(ctx context.Context, cursor string) (*Page[Agent], error) {
		rows, pag, err := c.getList(ctx, agentsPath, filter.values(cursor))
		if err != nil {
			return nil, err
		}

		page := &Page[Agent]{}
		page.Items, page.Invalid = decodeRows("agent", rows, (*wireAgent).toAgent)
		setPagination(page, pag)

		return page, nil
	})
}

// ListRisks implements Client.
func (c *HTTPClient) ListRisks(_ context.Context, filter RiskFilter) *PageIterator[Risk] {
	return NewPageIterator(func(ctx context.Context, cursor string) (*Page[Risk], error) {
		query := pageQuery(cursor, filter.PageSize)
		if len(filter.SiteIDs) > 0 {
			query.Set("siteIds", strings.Join(filter.SiteIDs, ","))
		}

		rows, pag, err := c.getList(ctx, risksPath, query)
		if err != nil {
			return nil, err
		}

		page := &Page[Risk]{}
		page.Items, page.Invalid = decodeRows("risk", rows, (*wireRisk).toRisk)
		setPagination(page, pag)

		return page, nil
	})
}

// GetAgent fetches a single agent by id.
func (c *HTTPClient) GetAgent(ctx context.Context, id string) (*Agent, error) {
	filter := AgentFilter{IDs: []string{id}, PageSize: 1}

	rows, _, err := c.getList(ctx, agentsPath, filter.values(""))
	if err != nil {
		return nil, err
	}

	agents, invalid := decodeRows("agent", rows, (*wireAgent).toAgent)
	if len(agents) == 0 {
		if len(invalid) > 0 {
			return nil, invalid[0]
		}

		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}

	return &agents[0], nil
}

// CountAgents requests a single-row page and returns the reported total.
func (c *HTTPClient) CountAgents(ctx context.Context, filter AgentFilter) (int, error) {
	filter.PageSize = 1

	_, pag, err := c.getList(ctx, agentsPath, filter.values(""))
	if err != nil {
		return 0, err
	}

	return pag.TotalItems, nil
}

func (c *HTTPClient) getList(ctx context.Context, path string, query url.Values) ([]json.RawMessage, pagination, error) {
	body, err := c.get(ctx, path, query)
	if err != nil {
		return nil, pagination{}, err
	}

	var envelope struct {
		Data       []json.RawMessage `json:"data"`
		Pagination pagination        `json:"pagination"`
	}

	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, pagination{}, fmt.Errorf("%w: %s: %w", ErrDecodeResponse, path, err)
	}

	return envelope.Data, envelope.Pagination, nil
}

// get performs an authenticated GET. Connection-level failures are retried
// once immediately; nothing else is retried here.
func (c *HTTPClient) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("sentinelone: rate limiter: %w", err)
	}

	resp, err := c.send(ctx, path, query)
	if err != nil && ctx.Err() == nil {
		c.logger.Debug().Err(err).Str("path", path).Msg("Retrying request after connection failure")

		resp, err = c.send(ctx, path, query)
	}

	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("sentinelone: GET %s: %w", path, err)
		}

		return nil, fmt.Errorf("%w: GET %s: %w", ErrTransientNetwork, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", ErrTransientNetwork, path, err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, parseAPIError(resp.StatusCode, body)
	}

	return body, nil
}

func (c *HTTPClient) send(ctx context.Context, path string, query url.Values) (*http.Response, error) {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Authorization", "ApiToken "+c.token)
	req.Header.Set("Accept", "application/json")

	return c.httpClient.Do(req)
}

func parseAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Body: string(body)}

	var payload struct {
		Message string `json:"message"`
		Errors  []struct {
			Title  string `json:"title"`
			Detail string `json:"detail"`
		} `json:"errors"`
	}

	if err := json.Unmarshal(body, &payload); err == nil {
		apiErr.Message = payload.Message

		if apiErr.Message == "" && len(payload.Errors) > 0 {
			apiErr.Message = strings.TrimSpace(payload.Errors[0].Title + " " + payload.Errors[0].Detail)
		}
	}

	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}

	return apiErr
}

func (f AgentFilter) values(cursor string) url.Values {
	query := pageQuery(cursor, f.PageSize)

	if len(f.SiteIDs) > 0 {
		query.Set("siteIds", strings.Join(f.SiteIDs, ","))
	}

	if len(f.IDs) > 0 {
		query.Set("ids", strings.Join(f.IDs, ","))
	}

	if f.IsActive != nil {
		query.Set("isActive", strconv.FormatBool(*f.IsActive))
	}

	if f.SortBy != "" {
		query.Set("sortBy", f.SortBy)
	}

	if f.SortOrder != "" {
		query.Set("sortOrder", f.SortOrder)
	}

	return query
}

func pageQuery(cursor string, pageSize int) url.Values {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(ClampPageSize(pageSize)))

	if cursor != "" {
		query.Set("cursor", cursor)
	}

	return query
}

// ClampPageSize bounds a requested page size to 1..MaxPageSize, mapping
// non-positive values to DefaultPageSize.
func ClampPageSize(size int) int {
	switch {
	case size <= 0:
		return DefaultPageSize
	case size > MaxPageSize:
		return MaxPageSize
	default:
		return size
	}
}

func setPagination[T any](page *Page[T], pag pagination) {
	page.TotalItems = pag.TotalItems
	if pag.NextCursor != nil {
		page.NextCursor = *pag.NextCursor
	}
}

func decodeRows[W any, T any](kind string, rows []json.RawMessage, convert func(*W) (T, *ParseError)) ([]T, []*ParseError) {
	items := make([]T, 0, len(rows))

	var invalid []*ParseError

	for _, raw := range rows {
		var wire W

		if err := json.Unmarshal(raw, &wire); err != nil {
			invalid = append(invalid, &ParseError{Kind: kind, Reason: err.Error()})

			continue
		}

		item, perr := convert(&wire)
		if perr != nil {
			invalid = append(invalid, perr)

			continue
		}

		items = append(items, item)
	}

	return items, invalid
}

func (w *wireSite) toSite() (Site, *ParseError) {
	if w.ID == "" {
		return Site{}, &ParseError{Kind: "site", Reason: "missing id"}
	}

	if w.Name == "" {
		return Site{}, &ParseError{Kind: "site", ID: w.ID, Reason: "missing name"}
	}

	return Site{
		ID:             w.ID,
		Name:           w.Name,
		State:          w.State,
		AccountName:    w.AccountName,
		ActiveLicenses: w.ActiveLicenses,
	}, nil
}

func (w *wireAgent) toAgent() (Agent, *ParseError) {
	switch {
	case w.ID == "":
		return Agent{}, &ParseError{Kind: "agent", Reason: "missing id"}
	case w.SiteID == "":
		return Agent{}, &ParseError{Kind: "agent", ID: w.ID, Reason: "missing siteId"}
	case strings.TrimSpace(w.ComputerName) == "":
		return Agent{}, &ParseError{Kind: "agent", ID: w.ID, Reason: "missing computerName"}
	}

	activeThreats := w.ActiveThreats
	if activeThreats < 0 {
		activeThreats = 0
	}

	return Agent{
		ID:             w.ID,
		ComputerName:   strings.TrimSpace(w.ComputerName),
		SiteID:         w.SiteID,
		OSName:         w.OSName,
		OSRevision:     w.OSRevision,
		IsActive:       w.IsActive,
		IsUpToDate:     w.IsUpToDate,
		Infected:       w.Infected,
		ActiveThreats:  activeThreats,
		LastActiveDate: parseTime(w.LastActiveDate),
		ExternalIP:     w.ExternalIP,
		LastIPToMgmt:   w.LastIPToMgmt,
	}, nil
}

func (w *wireRisk) toRisk() (Risk, *ParseError) {
	switch {
	case strings.TrimSpace(w.CVEID) == "":
		return Risk{}, &ParseError{Kind: "risk", ID: w.EndpointName, Reason: "missing cveId"}
	case strings.TrimSpace(w.EndpointName) == "":
		return Risk{}, &ParseError{Kind: "risk", ID: w.CVEID, Reason: "missing endpointName"}
	case w.SiteID == "":
		return Risk{}, &ParseError{Kind: "risk", ID: w.CVEID, Reason: "missing siteId"}
	}

	return Risk{
		CVEID:              strings.ToUpper(strings.TrimSpace(w.CVEID)),
		EndpointID:         w.EndpointID,
		EndpointName:       strings.TrimSpace(w.EndpointName),
		SiteID:             w.SiteID,
		Severity:           w.Severity,
		BaseScore:          w.BaseScore,
		Description:        w.Description,
		ApplicationName:    w.ApplicationName,
		ApplicationVersion: w.ApplicationVersion,
		PublishedDate:      parseTime(w.PublishedDate),
	}, nil
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}

	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}

	t = t.UTC()

	return &t
}
