package handlers

import (
	"context"
	"encoding/json"
	"errors"

	"orderdash/internal/config"
	"orderdash/internal/ordersync"
	"orderdash/internal/shopify"
	"orderdash/internal/tenancy"

	"github.com/aws/aws-lambda-go/events"
	"github.com/sirupsen/logrus"
)

type syncResponse struct {
	Success bool             `json:"success"`
	Result  ordersync.Result `json:"result"`
}

// syncOrders runs a sync synchronously; the caller waits for every page.
func (r *Router) syncOrders(ctx context.Context, log *logrus.Entry, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	if !r.authorized(req) {
		return errResp(403, "forbidden")
	}

	shop := tenancy.NormalizeShop(req.QueryStringParameters["shop"])
	if shop == "" {
		var body struct {
			Shop string `json:"shop"`
		}
		_ = json.Unmarshal(requestBody(req), &body)
		shop = tenancy.NormalizeShop(body.Shop)
	}
	if shop == "" {
		return errResp(400, "missing shop")
	}
	log = log.WithField("shop", shop)

	token, source, err := r.Credentials.Resolve(ctx, shop, "")
	if errors.Is(err, shopify.ErrNoCredential) {
		return syncError(log, ordersync.ErrMissingCredential)
	}
	if err != nil {
		config.LogError(log, moduleName, "syncOrders", "credential lookup failed", shop, err)
		return errResp(500, "failed to resolve credentials")
	}
	log = log.WithField("credential_source", source)

	res, err := r.Sync.Sync(ctx, shop, token)
	if err != nil {
		return syncError(log, err)
	}
	return jsonResp(200, syncResponse{Success: true, Result: res})
}

// syncError is the single translation point from sync failures to responses.
func syncError(log *logrus.Entry, err error) (events.APIGatewayV2HTTPResponse, error) {
	switch {
	case errors.Is(err, ordersync.ErrMissingShop):
		return errResp(400, err.Error())
	case errors.Is(err, ordersync.ErrMissingCredential):
		return errResp(412, err.Error())
	case errors.Is(err, ordersync.ErrSyncInProgress):
		return errResp(409, err.Error())
	}
	config.LogError(log, moduleName, "syncError", "sync failed", nil, err)
	return errResp(500, err.Error())
}
