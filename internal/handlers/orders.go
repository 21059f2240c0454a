package handlers

import (
	"context"

	"orderdash/internal/config"
	"orderdash/internal/orders"
	"orderdash/internal/tenancy"

	"github.com/aws/aws-lambda-go/events"
	"github.com/sirupsen/logrus"
)

type pageMeta struct {
	Total   int `json:"total"`
	Page    int `json:"page"`
	PerPage int `json:"perPage"`
}

type ordersResponse struct {
	Success bool           `json:"success"`
	Meta    pageMeta       `json:"meta"`
	Orders  []orders.Order `json:"orders"`
}

// listOrders serves the windowed order list. The days parameter is accepted
// for compatibility and ignored; the window is fixed.
func (r *Router) listOrders(ctx context.Context, log *logrus.Entry, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	q := req.QueryStringParameters
	p := orders.ParseListParams(tenancy.NormalizeShop(q["shop"]), q["page"], q["perPage"], q["limit"])

	page, err := r.Orders.List(ctx, p)
	if err != nil {
		config.LogError(log, moduleName, "listOrders", "list orders failed", p.Shop, err)
		return errResp(500, "failed to load orders")
	}
	return jsonResp(200, ordersResponse{
		Success: true,
		Meta:    pageMeta{Total: page.Total, Page: page.Page, PerPage: page.PerPage},
		Orders:  page.Orders,
	})
}
