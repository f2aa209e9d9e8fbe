package shopify

import (
	"context"
	"fmt"
)

// Product is the slim shape the upsell popup renders.
type Product struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Handle string `json:"handle"`
	Image  string `json:"image,omitempty"`
	Price  string `json:"price,omitempty"`
}

const productRecommendationsQuery = `
query productRecommendations($productId: ID!) {
  productRecommendations(productId: $productId) {
    id
    title
    handle
    featuredImage { url }
    priceRangeV2 { minVariantPrice { amount } }
  }
}`

const productsQuery = `
query products($first: Int!, $sortKey: ProductSortKeys!, $reverse: Boolean!) {
  products(first: $first, sortKey: $sortKey, reverse: $reverse) {
    edges {
      node {
        id
        title
        handle
        featuredImage { url }
        priceRangeV2 { minVariantPrice { amount } }
      }
    }
  }
}`

type productNode struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Handle        string `json:"handle"`
	FeaturedImage *struct {
		URL string `json:"url"`
	} `json:"featuredImage"`
	PriceRangeV2 *struct {
		MinVariantPrice struct {
			Amount string `json:"amount"`
		} `json:"minVariantPrice"`
	} `json:"priceRangeV2"`
}

type recommendationsResult struct {
	ProductRecommendations []productNode `json:"productRecommendations"`
}

type productsResult struct {
	Products struct {
		Edges []struct {
			Node productNode `json:"node"`
		} `json:"edges"`
	} `json:"products"`
}

// RecommendProducts is the upsell cascade: related products for the anchor
// first, then best sellers, then newest products. Each tier that errors or
// comes back empty falls through to the next; only an empty final tier is
// an error for the caller.
func (c *Client) RecommendProducts(ctx context.Context, anchorProductID string, limit int) ([]Product, error) {
	if limit <= 0 {
		limit = 4
	}

	if anchorProductID != "" {
		if products, err := c.relatedProducts(ctx, anchorProductID, limit); err == nil && len(products) > 0 {
			return products, nil
		}
	}

	if products, err := c.listProducts(ctx, limit, "BEST_SELLING", false); err == nil && len(products) > 0 {
		return products, nil
	}

	products, err := c.listProducts(ctx, limit, "CREATED_AT", true)
	if err != nil {
		return nil, err
	}
	if len(products) == 0 {
		return nil, fmt.Errorf("shopify recommendations: catalog is empty")
	}
	return products, nil
}

func (c *Client) relatedProducts(ctx context.Context, productID string, limit int) ([]Product, error) {
	resp, status, err := PostGraphQL[recommendationsResult](ctx, c, productRecommendationsQuery, map[string]any{
		"productId": productID,
	})
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("shopify recommendations: status %d", status)
	}
	if err := firstGraphQLError(resp.Errors); err != nil {
		return nil, err
	}

	nodes := resp.Data.ProductRecommendations
	if len(nodes) > limit {
		nodes = nodes[:limit]
	}
	return toProducts(nodes), nil
}

func (c *Client) listProducts(ctx context.Context, limit int, sortKey string, reverse bool) ([]Product, error) {
	resp, status, err := PostGraphQL[productsResult](ctx, c, productsQuery, map[string]any{
		"first":   limit,
		"sortKey": sortKey,
		"reverse": reverse,
	})
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("shopify products: status %d", status)
	}
	if err := firstGraphQLError(resp.Errors); err != nil {
		return nil, err
	}

	nodes := make([]productNode, 0, len(resp.Data.Products.Edges))
	for _, e := range resp.Data.Products.Edges {
		nodes = append(nodes, e.Node)
	}
	return toProducts(nodes), nil
}

func toProducts(nodes []productNode) []Product {
	out := make([]Product, 0, len(nodes))
	for _, n := range nodes {
		p := Product{ID: n.ID, Title: n.Title, Handle: n.Handle}
		if n.FeaturedImage != nil {
			p.Image = n.FeaturedImage.URL
		}
		if n.PriceRangeV2 != nil {
			p.Price = n.PriceRangeV2.MinVariantPrice.Amount
		}
		out = append(out, p)
	}
	return out
}
