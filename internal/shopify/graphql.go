package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

type GraphQLError struct {
	Message    string `json:"message"`
	Path       []any  `json:"path,omitempty"`
	Extensions struct {
		Code string `json:"code,omitempty"`
	} `json:"extensions,omitempty"`
}

type GraphQLResponse[T any] struct {
	Data   T              `json:"data"`
	Errors []GraphQLError `json:"errors"`
}

// Client talks to one shop's Admin GraphQL API.
type Client struct {
	ShopDomain  string
	APIVersion  string
	AccessToken string

	HTTPClient *http.Client
}

func NewClient(shopDomain, apiVersion, accessToken string) *Client {
	return &Client{
		ShopDomain:  shopDomain,
		APIVersion:  apiVersion,
		AccessToken: accessToken,
		HTTPClient:  &http.Client{Timeout: 10 * time.Second},
	}
}

func PostGraphQL[T any](ctx context.Context, c *Client, query string, variables any) (*GraphQLResponse[T], int, error) {
	endpoint := fmt.Sprintf("https://%s/admin/api/%s/graphql.json", c.ShopDomain, c.APIVersion)

	body := map[string]any{
		"query":     query,
		"variables": variables,
	}
	b, _ := json.Marshal(body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("content-type", "application/json")
	req.Header.Set("X-Shopify-Access-Token", c.AccessToken)

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	res, err := httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer res.Body.Close()

	raw, _ := io.ReadAll(res.Body)

	var out GraphQLResponse[T]
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, res.StatusCode, err
	}

	return &out, res.StatusCode, nil
}

func firstGraphQLError(errs []GraphQLError) error {
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("shopify graphql: %s", errs[0].Message)
}
