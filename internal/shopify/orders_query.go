package shopify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
)

// Schema selects which order document is sent upstream. Stores on older API
// versions only expose the legacy field set.
type Schema string

const (
	SchemaStandard Schema = "standard"
	SchemaLegacy   Schema = "legacy"
)

const (
	// LineItemPageSize is how many line items ride along with each order.
	// Orders with more are completed by OrderLineItems queries.
	LineItemPageSize = 10
	// MaxPageSize keeps an orders page under the 1000-point requested query
	// cost: each order with LineItemPageSize nested items costs about 45.
	MaxPageSize = 20
	// followUpPageSize is the line-item page of the per-order completion query.
	followUpPageSize = 100
	// maxLineItemPages bounds the completion loop for one order.
	maxLineItemPages = 50
)

// Line-item selections per schema. Edges carry cursors so a truncated list
// can be resumed.
var lineItemFields = map[Schema]string{
	SchemaStandard: `
        id
        title
        sku
        quantity
        originalUnitPriceSet { shopMoney { amount currencyCode } }
        image { url }`,
	SchemaLegacy: `
        id
        name
        quantity
        originalUnitPriceSet { shopMoney { amount currencyCode } }
        image { originalSrc }`,
}

var orderFields = map[Schema]string{
	SchemaStandard: `
        id
        name
        createdAt
        displayFinancialStatus
        currencyCode
        totalPriceSet { shopMoney { amount currencyCode } }`,
	SchemaLegacy: `
        id
        name
        createdAt
        displayFinancialStatus
        currentTotalPriceSet { shopMoney { amount currencyCode } }`,
}

const ordersQueryTemplate = `
query Orders($first: Int!, $after: String, $query: String) {
  orders(first: $first, after: $after, query: $query, sortKey: CREATED_AT) {
    edges {
      cursor
      node {%s
        lineItems(first: %d) {
          edges { cursor node {%s
          } }
          pageInfo { hasNextPage endCursor }
        }
      }
    }
    pageInfo { hasNextPage endCursor }
  }
}`

const lineItemsQueryTemplate = `
query OrderLineItems($id: ID!, $after: String) {
  order(id: $id) {
    lineItems(first: %d, after: $after) {
      edges { cursor node {%s
      } }
      pageInfo { hasNextPage endCursor }
    }
  }
}`

var (
	ordersQueries    = map[Schema]string{}
	lineItemsQueries = map[Schema]string{}
)

func init() {
	for _, schema := range []Schema{SchemaStandard, SchemaLegacy} {
		ordersQueries[schema] = fmt.Sprintf(ordersQueryTemplate, orderFields[schema], LineItemPageSize, lineItemFields[schema])
		lineItemsQueries[schema] = fmt.Sprintf(lineItemsQueryTemplate, followUpPageSize, lineItemFields[schema])
	}
	for name, docs := range map[string]map[Schema]string{"orders": ordersQueries, "line items": lineItemsQueries} {
		for schema, q := range docs {
			if _, err := parser.ParseQuery(&ast.Source{Name: string(schema), Input: q}); err != nil {
				panic(fmt.Sprintf("shopify: %s %s query does not parse: %v", schema, name, err))
			}
		}
	}
}

func ParseSchema(s string) (Schema, error) {
	switch Schema(strings.ToLower(strings.TrimSpace(s))) {
	case "", SchemaStandard:
		return SchemaStandard, nil
	case SchemaLegacy:
		return SchemaLegacy, nil
	default:
		return "", fmt.Errorf("unknown order schema %q", s)
	}
}

// OrdersPage is one page of raw order nodes. Nodes carry their complete
// line-item lists; LineItemQueries counts the follow-up requests that took.
type OrdersPage struct {
	Nodes           []json.RawMessage
	HasNextPage     bool
	EndCursor       string
	LineItemQueries int
}

type ordersData struct {
	Orders struct {
		Edges []struct {
			Cursor string          `json:"cursor"`
			Node   json.RawMessage `json:"node"`
		} `json:"edges"`
		PageInfo struct {
			HasNextPage bool    `json:"hasNextPage"`
			EndCursor   *string `json:"endCursor"`
		} `json:"pageInfo"`
	} `json:"orders"`
}

// CreatedSinceFilter renders the search filter for orders created at or
// after since.
func CreatedSinceFilter(since time.Time) string {
	return fmt.Sprintf("created_at:>='%s'", since.UTC().Format(time.RFC3339))
}

// FetchOrdersPage fetches one page of orders created at or after since,
// oldest first. An empty after starts from the beginning.
func (c *Client) FetchOrdersPage(ctx context.Context, shop, accessToken string, since time.Time, after string, first int) (OrdersPage, error) {
	if first < 1 || first > MaxPageSize {
		first = MaxPageSize
	}
	vars := map[string]any{
		"first": first,
		"query": CreatedSinceFilter(since),
	}
	if after != "" {
		vars["after"] = after
	}

	res, err := PostGraphQL[ordersData](ctx, c, shop, accessToken, ordersQueries[c.schema], vars)
	if err != nil {
		return OrdersPage{}, err
	}

	conn := res.Data.Orders
	page := OrdersPage{
		Nodes:       make([]json.RawMessage, 0, len(conn.Edges)),
		HasNextPage: conn.PageInfo.HasNextPage,
	}
	for _, e := range conn.Edges {
		if len(e.Node) == 0 || string(e.Node) == "null" {
			continue
		}
		node, queries, err := c.completeLineItems(ctx, shop, accessToken, e.Node)
		if err != nil {
			return OrdersPage{}, err
		}
		page.LineItemQueries += queries
		page.Nodes = append(page.Nodes, node)
	}
	if conn.PageInfo.EndCursor != nil {
		page.EndCursor = *conn.PageInfo.EndCursor
	}
	if page.EndCursor == "" && len(conn.Edges) > 0 {
		page.EndCursor = conn.Edges[len(conn.Edges)-1].Cursor
	}
	return page, nil
}

type lineItemsData struct {
	Order *struct {
		LineItems lineItemConnection `json:"lineItems"`
	} `json:"order"`
}

type lineItemConnection struct {
	Edges    []json.RawMessage `json:"edges"`
	PageInfo struct {
		HasNextPage bool    `json:"hasNextPage"`
		EndCursor   *string `json:"endCursor"`
	} `json:"pageInfo"`
}

// completeLineItems follows the nested lineItems cursor of one order node
// and splices the remaining edges in, upstream order preserved. Nodes that
// are already complete are returned untouched.
func (c *Client) completeLineItems(ctx context.Context, shop, accessToken string, node json.RawMessage) (json.RawMessage, int, error) {
	var head struct {
		ID        string              `json:"id"`
		LineItems *lineItemConnection `json:"lineItems"`
	}
	if err := json.Unmarshal(node, &head); err != nil || head.LineItems == nil || !head.LineItems.PageInfo.HasNextPage {
		return node, 0, nil
	}
	if head.ID == "" {
		return node, 0, nil
	}

	edges := head.LineItems.Edges
	after := lastCursor(head.LineItems)
	if after == "" {
		return nil, 0, errNoLineItemCursor(head.ID)
	}
	queries := 0
	for {
		if queries >= maxLineItemPages {
			return nil, queries, fmt.Errorf("order %s: more than %d line-item pages", head.ID, maxLineItemPages)
		}
		queries++
		res, err := PostGraphQL[lineItemsData](ctx, c, shop, accessToken, lineItemsQueries[c.schema], map[string]any{
			"id":    head.ID,
			"after": after,
		})
		if err != nil {
			return nil, queries, err
		}
		if res.Data.Order == nil {
			return nil, queries, &UpstreamError{Messages: []string{fmt.Sprintf("order %s not found while reading line items", head.ID)}}
		}
		conn := res.Data.Order.LineItems
		edges = append(edges, conn.Edges...)

		if !conn.PageInfo.HasNextPage {
			break
		}
		next := lastCursor(&conn)
		if next == "" || next == after {
			return nil, queries, errNoLineItemCursor(head.ID)
		}
		after = next
	}

	var m map[string]json.RawMessage
	if err := json.Unmarshal(node, &m); err != nil {
		return nil, queries, fmt.Errorf("decode order %s: %w", head.ID, err)
	}
	merged, err := json.Marshal(map[string]any{
		"edges":    edges,
		"pageInfo": map[string]any{"hasNextPage": false, "endCursor": nil},
	})
	if err != nil {
		return nil, queries, err
	}
	m["lineItems"] = merged
	out, err := json.Marshal(m)
	if err != nil {
		return nil, queries, err
	}
	return out, queries, nil
}

// errNoLineItemCursor reports a line-item list that claims more pages but
// gives nothing to resume from; storing it would truncate the order.
func errNoLineItemCursor(orderID string) error {
	return &UpstreamError{Messages: []string{fmt.Sprintf("order %s: line items have a next page but no cursor", orderID)}}
}

func lastCursor(conn *lineItemConnection) string {
	if conn.PageInfo.EndCursor != nil && *conn.PageInfo.EndCursor != "" {
		return *conn.PageInfo.EndCursor
	}
	if n := len(conn.Edges); n > 0 {
		var e struct {
			Cursor string `json:"cursor"`
		}
		if json.Unmarshal(conn.Edges[n-1], &e) == nil {
			return e.Cursor
		}
	}
	return ""
}
