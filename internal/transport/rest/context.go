package rest

import "context"

type ctxKeyShop struct{}
type ctxKeyShopUser struct{}

// ShopAuth is the verified identity of an admin request: which shop the
// session token belongs to, and which staff user opened the app.
type ShopAuth struct {
	Shop   string
	UserID string
}

func withShopAuth(ctx context.Context, a ShopAuth) context.Context {
	ctx = context.WithValue(ctx, ctxKeyShop{}, a.Shop)
	ctx = context.WithValue(ctx, ctxKeyShopUser{}, a.UserID)
	return ctx
}

func GetShopAuth(ctx context.Context) (ShopAuth, bool) {
	shop, ok := ctx.Value(ctxKeyShop{}).(string)
	if !ok || shop == "" {
		return ShopAuth{}, false
	}
	user, _ := ctx.Value(ctxKeyShopUser{}).(string)
	return ShopAuth{Shop: shop, UserID: user}, true
}
