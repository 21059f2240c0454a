package handlers

import (
	"context"

	"orderdash/internal/config"
	"orderdash/internal/orders"
	"orderdash/internal/tenancy"

	"github.com/aws/aws-lambda-go/events"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type analyticsMeta struct {
	TotalOrders int             `json:"totalOrders"`
	Revenue     decimal.Decimal `json:"revenue"`
	AvgAOV      decimal.Decimal `json:"avgAOV"`
}

type analyticsResponse struct {
	Success    bool                  `json:"success"`
	Meta       analyticsMeta         `json:"meta"`
	Timeseries []orders.DailyRevenue `json:"timeseries"`
}

func (r *Router) analytics(ctx context.Context, log *logrus.Entry, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	shop := tenancy.NormalizeShop(req.QueryStringParameters["shop"])
	sum, err := r.Orders.Summary(ctx, shop)
	if err != nil {
		config.LogError(log, moduleName, "analytics", "analytics failed", shop, err)
		return errResp(500, "failed to compute analytics")
	}
	return jsonResp(200, analyticsResponse{
		Success:    true,
		Meta:       analyticsMeta{TotalOrders: sum.TotalOrders, Revenue: sum.Revenue, AvgAOV: sum.AvgAOV},
		Timeseries: sum.Timeseries,
	})
}
