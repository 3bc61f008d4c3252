package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// RESTSuite builds the standard six sub-collectors against a provider's
// management REST API. The exact vendor endpoints are configuration; every
// collector shares one authorized HTTP client.
type RESTSuite struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// categoryPaths maps each signal category to its collection endpoint.
var categoryPaths = map[Category]string{
	CategoryCost:       "/costs/summary",
	CategoryIdentity:   "/identity/accounts",
	CategoryCompute:    "/compute/inventory",
	CategoryAdvisor:    "/advisor/recommendations",
	CategoryMetrics:    "/metrics/utilization",
	CategoryCompliance: "/compliance/assessments",
}

// NewRESTSuite returns a suite bound to the provider endpoint. The suite is
// both a Preflight and a factory for the six collectors.
func NewRESTSuite(baseURL, token string, timeout time.Duration) (*RESTSuite, error) {
	if _, err := url.Parse(baseURL); err != nil || baseURL == "" {
		return nil, fmt.Errorf("invalid provider base URL %q", baseURL)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RESTSuite{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Collectors returns one collector per signal category.
func (s *RESTSuite) Collectors() []Collector {
	cs := make([]Collector, 0, len(categoryPaths))
	for _, cat := range orderedCategories {
		cs = append(cs, &restCollector{suite: s, category: cat, path: categoryPaths[cat]})
	}
	return cs
}

// Ping checks basic reachability of the provider API. Failure here aborts
// the whole collection run.
func (s *RESTSuite) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	s.authorize(req)
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("provider ping failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("provider ping returned status %d", resp.StatusCode)
	}
	return nil
}

func (s *RESTSuite) authorize(req *http.Request) {
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	req.Header.Set("Accept", "application/json")
}

// restCollector fetches one category endpoint and classifies failures.
type restCollector struct {
	suite    *RESTSuite
	category Category
	path     string
}

func (c *restCollector) Category() Category { return c.category }

func (c *restCollector) Collect(ctx context.Context) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.suite.baseURL+c.path, nil)
	if err != nil {
		return nil, err
	}
	c.suite.authorize(req)

	resp, err := c.suite.httpClient.Do(req)
	if err != nil {
		return nil, &CategoryError{Kind: KindError, Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &CategoryError{Kind: KindError, Message: fmt.Sprintf("failed to read response: %v", err)}
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		if !json.Valid(body) {
			return nil, &CategoryError{Kind: KindError, Message: "provider returned non-JSON body"}
		}
		return json.RawMessage(body), nil
	case resp.StatusCode == http.StatusPaymentRequired,
		resp.StatusCode == http.StatusForbidden && looksLikeEntitlement(body):
		return nil, &CategoryError{
			Kind:    KindSubscriptionRequired,
			Message: fmt.Sprintf("feature not entitled (status %d)", resp.StatusCode),
		}
	default:
		return nil, &CategoryError{
			Kind:    KindError,
			Message: fmt.Sprintf("provider returned status %d", resp.StatusCode),
		}
	}
}

// looksLikeEntitlement inspects a 403 body for entitlement error codes so
// "subscription required" is distinguished from plain authorization errors.
func looksLikeEntitlement(body []byte) bool {
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return false
	}
	switch payload.Error.Code {
	case "SubscriptionRequired", "FeatureNotEntitled", "PlanUpgradeRequired":
		return true
	}
	return false
}
