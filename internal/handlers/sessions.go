package handlers

import (
	"context"
	"encoding/json"
	"strings"

	"orderdash/internal/ordersync"
	"orderdash/internal/shopify"
	"orderdash/internal/tenancy"

	"github.com/aws/aws-lambda-go/events"
	"github.com/sirupsen/logrus"
)

type sessionRequest struct {
	Shop        string `json:"shop"`
	AccessToken string `json:"accessToken"`
	Scope       string `json:"scope"`
}

type sessionResult struct {
	Method string `json:"method"`
	ordersync.Result
}

type sessionResponse struct {
	Success bool          `json:"success"`
	Result  sessionResult `json:"result"`
}

// sessionCreated is called once a merchant session exists. It stores the
// token, subscribes the uninstall webhook, then runs the first sync with the
// session token.
func (r *Router) sessionCreated(ctx context.Context, log *logrus.Entry, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	if !r.authorized(req) {
		return errResp(403, "forbidden")
	}

	var body sessionRequest
	if err := json.Unmarshal(requestBody(req), &body); err != nil {
		return errResp(400, "invalid JSON body")
	}
	shop := tenancy.NormalizeShop(body.Shop)
	if shop == "" {
		return errResp(400, "missing shop")
	}
	token := strings.TrimSpace(body.AccessToken)
	if token == "" {
		return syncError(log, ordersync.ErrMissingCredential)
	}
	log = log.WithField("shop", shop)

	if r.Integrations != nil {
		if err := r.Integrations.Save(ctx, shop, token, body.Scope); err != nil {
			log.WithError(err).Warn("could not store integration token")
		}
	}
	if r.Subscriber != nil && r.WebhookBaseURL != "" {
		address := r.WebhookBaseURL + PathUninstalled
		if err := r.Subscriber.SubscribeUninstall(ctx, shop, token, address); err != nil {
			log.WithError(err).Warn("could not subscribe app/uninstalled")
		}
	}

	res, err := r.Sync.Sync(ctx, shop, token)
	if err != nil {
		return syncError(log, err)
	}
	return jsonResp(200, sessionResponse{
		Success: true,
		Result:  sessionResult{Method: shopify.SourceSession, Result: res},
	})
}
