package shopify

import (
	"context"
	"crypto/rand"
	"fmt"
	"strings"
	"time"
)

const discountCodeBasicCreate = `
mutation discountCodeBasicCreate($basicCodeDiscount: DiscountCodeBasicInput!) {
  discountCodeBasicCreate(basicCodeDiscount: $basicCodeDiscount) {
    codeDiscountNode {
      id
    }
    userErrors {
      field
      message
    }
  }
}`

type discountCreateResult struct {
	DiscountCodeBasicCreate struct {
		CodeDiscountNode struct {
			ID string `json:"id"`
		} `json:"codeDiscountNode"`
		UserErrors []struct {
			Field   []string `json:"field"`
			Message string   `json:"message"`
		} `json:"userErrors"`
	} `json:"discountCodeBasicCreate"`
}

// CreateDiscountCode issues a one-use percentage code via the Admin API and
// returns the code string. Failures surface to the caller as ordinary
// errors (the route turns them into a 5xx); they are never retried here.
func (c *Client) CreateDiscountCode(ctx context.Context, prefix string, percentage int, expiresInDays int) (string, error) {
	code := GenerateCode(prefix)

	basic := map[string]any{
		"title": code,
		"code":  code,
		"customerGets": map[string]any{
			"value": map[string]any{
				"percentage": float64(percentage) / 100.0,
			},
			"items": map[string]any{"all": true},
		},
		"customerSelection": map[string]any{"all": true},
		"appliesOncePerCustomer": true,
		"usageLimit":             1,
		"startsAt":               time.Now().UTC().Format(time.RFC3339),
	}
	if expiresInDays > 0 {
		basic["endsAt"] = time.Now().UTC().AddDate(0, 0, expiresInDays).Format(time.RFC3339)
	}

	resp, status, err := PostGraphQL[discountCreateResult](ctx, c, discountCodeBasicCreate, map[string]any{
		"basicCodeDiscount": basic,
	})
	if err != nil {
		return "", err
	}
	if status < 200 || status >= 300 {
		return "", fmt.Errorf("shopify discount create: status %d", status)
	}
	if err := firstGraphQLError(resp.Errors); err != nil {
		return "", err
	}
	if ue := resp.Data.DiscountCodeBasicCreate.UserErrors; len(ue) > 0 {
		return "", fmt.Errorf("shopify discount create: %s", ue[0].Message)
	}
	return code, nil
}

// codeAlphabet avoids 0/1/I/O lookalikes.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// GenerateCode builds a code shaped PREFIX-XXXXXXXX. Fake codes handed to
// deflected bots use the exact same generator, so shape alone cannot
// distinguish a real code from a decoy.
func GenerateCode(prefix string) string {
	prefix = strings.ToUpper(strings.TrimSpace(prefix))
	if prefix == "" {
		prefix = "SAVE"
	}

	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return prefix + "-" + string(buf)
}
