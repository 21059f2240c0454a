package shopify

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"orderdash/internal/orders"

	"github.com/shopspring/decimal"
)

// ErrIncompleteOrder marks an upstream record without an id or a parseable
// creation time. Such records are skipped, not stored.
var ErrIncompleteOrder = errors.New("upstream order missing id or createdAt")

// NormalizeOrder maps one upstream order node onto the internal shape. It
// accepts both GraphQL field sets and REST-style snake_case payloads; missing
// optional fields become null or empty.
func NormalizeOrder(shop string, raw json.RawMessage) (orders.Order, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return orders.Order{}, fmt.Errorf("decode order: %w", err)
	}

	id := pickString(m, "id", "admin_graphql_api_id")
	created, ok := parseShopifyTime(pickString(m, "createdAt", "created_at"))
	if id == "" || !ok {
		return orders.Order{}, ErrIncompleteOrder
	}

	o := orders.Order{
		Shop:      shop,
		OrderID:   id,
		Name:      pickString(m, "name"),
		Status:    optional(pickString(m, "displayFinancialStatus", "financial_status", "status")),
		CreatedAt: created,
		LineItems: normalizeLineItems(m),
		Raw:       append(json.RawMessage(nil), raw...),
	}

	amount, currency := extractOrderTotal(m)
	o.TotalPrice = amount
	if currency == "" {
		currency = pickString(m, "currencyCode", "currency")
	}
	o.Currency = optional(currency)
	return o, nil
}

// extractOrderTotal tries the money sets first, then flat amount fields.
func extractOrderTotal(m map[string]any) (*string, string) {
	for _, key := range []string{"currentTotalPriceSet", "totalPriceSet", "current_total_price_set", "total_price_set"} {
		if amt, cur := moneySet(asMap(pickAny(m, key))); amt != nil {
			return amt, cur
		}
	}
	for _, key := range []string{"current_total_price", "total_price", "totalPrice"} {
		if amt := money(pickString(m, key)); amt != nil {
			return amt, ""
		}
	}
	return nil, ""
}

func moneySet(set map[string]any) (*string, string) {
	sm := asMap(pickAny(set, "shopMoney", "shop_money"))
	return money(pickString(sm, "amount")), pickString(sm, "currencyCode", "currency_code")
}

// money keeps the upstream amount verbatim when it is a valid decimal.
func money(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if _, err := decimal.NewFromString(s); err != nil {
		return nil
	}
	return &s
}

func normalizeLineItems(m map[string]any) []orders.LineItem {
	var nodes []any
	if li := asMap(pickAny(m, "lineItems")); len(li) > 0 {
		if edges, ok := li["edges"].([]any); ok {
			for _, e := range edges {
				nodes = append(nodes, asMap(e)["node"])
			}
		} else if ns, ok := li["nodes"].([]any); ok {
			nodes = ns
		}
	} else if ns, ok := pickAny(m, "line_items").([]any); ok {
		nodes = ns
	}

	out := make([]orders.LineItem, 0, len(nodes))
	for _, n := range nodes {
		node := asMap(n)
		if len(node) == 0 {
			continue
		}
		price, _ := moneySet(asMap(pickAny(node, "originalUnitPriceSet", "price_set")))
		if price == nil {
			price = money(pickString(node, "price"))
		}
		out = append(out, orders.LineItem{
			LineItemID: pickString(node, "id", "admin_graphql_api_id"),
			Title:      pickString(node, "title", "name"),
			SKU:        optional(pickString(node, "sku")),
			Quantity:   max(pickInt(node, "quantity"), 0),
			Price:      price,
			Images:     lineItemImages(node),
		})
	}
	return out
}

func lineItemImages(node map[string]any) []orders.Image {
	images := []orders.Image{}
	if img := asMap(pickAny(node, "image")); len(img) > 0 {
		if u := pickString(img, "url", "originalSrc", "src"); u != "" {
			images = append(images, orders.Image{URL: u})
		}
	}
	if list, ok := pickAny(node, "images").([]any); ok {
		for _, it := range list {
			if u := pickString(asMap(it), "url", "originalSrc", "src"); u != "" {
				images = append(images, orders.Image{URL: u})
			}
		}
	}
	return images
}

func parseShopifyTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func pickString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case json.Number:
			return v.String()
		}
	}
	return ""
}

func pickInt(m map[string]any, keys ...string) int {
	for _, k := range keys {
		switch v := m[k].(type) {
		case json.Number:
			if n, err := v.Int64(); err == nil {
				return int(n)
			}
			if f, err := v.Float64(); err == nil {
				return int(f)
			}
		case string:
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				return n
			}
		}
	}
	return 0
}

func pickAny(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func asMap(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}
