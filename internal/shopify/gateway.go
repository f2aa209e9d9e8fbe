package shopify

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// TokenSource resolves the Admin API access token for a shop. The service
// is multi-tenant; each installed shop has its own offline token.
type TokenSource interface {
	AccessToken(ctx context.Context, shop string) (string, error)
}

// StaticTokenSource maps shop domain -> access token. Suitable for config
// driven deployments and tests.
type StaticTokenSource map[string]string

func (s StaticTokenSource) AccessToken(_ context.Context, shop string) (string, error) {
	tok, ok := s[shop]
	if !ok || strings.TrimSpace(tok) == "" {
		return "", fmt.Errorf("no access token for shop %q", shop)
	}
	return tok, nil
}

// ParseShopTokens parses "shop1.myshopify.com:token1,shop2:token2".
func ParseShopTokens(raw string) StaticTokenSource {
	out := StaticTokenSource{}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		shop, tok, ok := strings.Cut(pair, ":")
		if !ok {
			continue
		}
		out[strings.TrimSpace(shop)] = strings.TrimSpace(tok)
	}
	return out
}

// Gateway hands out per-shop Admin API clients and exposes the two
// operations the popup flows need.
type Gateway struct {
	APIVersion string
	Tokens     TokenSource

	mu      sync.Mutex
	clients map[string]*Client
}

func NewGateway(apiVersion string, tokens TokenSource) *Gateway {
	return &Gateway{
		APIVersion: apiVersion,
		Tokens:     tokens,
		clients:    map[string]*Client{},
	}
}

func (g *Gateway) clientFor(ctx context.Context, shop string) (*Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if c, ok := g.clients[shop]; ok {
		return c, nil
	}
	tok, err := g.Tokens.AccessToken(ctx, shop)
	if err != nil {
		return nil, err
	}
	c := NewClient(shop, g.APIVersion, tok)
	g.clients[shop] = c
	return c, nil
}

func (g *Gateway) CreateDiscountCode(ctx context.Context, shop, prefix string, percentage, expiresInDays int) (string, error) {
	c, err := g.clientFor(ctx, shop)
	if err != nil {
		return "", err
	}
	return c.CreateDiscountCode(ctx, prefix, percentage, expiresInDays)
}

func (g *Gateway) RecommendProducts(ctx context.Context, shop, anchorProductID string, limit int) ([]Product, error) {
	c, err := g.clientFor(ctx, shop)
	if err != nil {
		return nil, err
	}
	return c.RecommendProducts(ctx, anchorProductID, limit)
}
