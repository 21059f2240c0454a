package orders

import (
	"encoding/json"
	"time"
)

// WindowDays is the rolling recency window applied to both sync and reads.
const WindowDays = 60

// Order is one normalized upstream order for one shop.
type Order struct {
	Shop       string          `json:"shop"`
	OrderID    string          `json:"orderId"`
	Name       string          `json:"name,omitempty"`
	Status     *string         `json:"status"`
	TotalPrice *string         `json:"totalPrice"`
	Currency   *string         `json:"currency"`
	CreatedAt  time.Time       `json:"createdAt"`
	LineItems  []LineItem      `json:"lineItems"`
	Raw        json.RawMessage `json:"raw,omitempty"`
	IngestedAt time.Time       `json:"ingestedAt"`
}

// LineItem keeps upstream ordering; it is never re-sorted.
type LineItem struct {
	LineItemID string  `json:"lineItemId" dynamodbav:"LineItemId"`
	Title      string  `json:"title" dynamodbav:"Title"`
	SKU        *string `json:"sku" dynamodbav:"Sku"`
	Quantity   int     `json:"qty" dynamodbav:"Qty"`
	Price      *string `json:"price" dynamodbav:"Price"`
	Images     []Image `json:"images" dynamodbav:"Images"`
}

type Image struct {
	URL string `json:"url" dynamodbav:"Url"`
}

// Filter selects orders for reads. An empty Shop spans all tenants.
type Filter struct {
	Shop  string
	Since time.Time
}

// WindowStart returns now minus the recency window.
func WindowStart(now time.Time) time.Time {
	return now.UTC().AddDate(0, 0, -WindowDays)
}
