package handlers

import (
	"context"
	"encoding/json"

	"orderdash/internal/config"
	"orderdash/internal/shopify"
	"orderdash/internal/tenancy"

	"github.com/aws/aws-lambda-go/events"
	"github.com/sirupsen/logrus"
)

// appUninstalled removes every order of the uninstalled shop. Absence of a
// shop is acknowledged so Shopify stops redelivering.
func (r *Router) appUninstalled(ctx context.Context, log *logrus.Entry, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	body := requestBody(req)
	if r.WebhookSecret != "" && !shopify.VerifyWebhookHMAC(body, header(req, "X-Shopify-Hmac-Sha256"), r.WebhookSecret) {
		return errResp(401, "invalid webhook signature")
	}

	shop := tenancy.NormalizeShop(header(req, "X-Shopify-Shop-Domain"))
	if shop == "" {
		var payload struct {
			Domain          string `json:"domain"`
			MyshopifyDomain string `json:"myshopify_domain"`
			Shop            string `json:"shop"`
		}
		_ = json.Unmarshal(body, &payload)
		for _, s := range []string{payload.MyshopifyDomain, payload.Domain, payload.Shop} {
			if shop = tenancy.NormalizeShop(s); shop != "" {
				break
			}
		}
	}
	if shop == "" {
		log.Warn("app/uninstalled without shop; nothing deleted")
		return jsonResp(200, map[string]any{"success": true, "deleted": 0})
	}
	log = log.WithField("shop", shop)

	webhookID := header(req, "X-Shopify-Webhook-Id")
	if r.Deduper != nil {
		dup, err := r.Deduper.Claim(ctx, webhookID, shop, shopify.TopicAppUninstalled)
		if err != nil {
			log.WithError(err).Warn("webhook de-dup unavailable")
		}
		if dup {
			return jsonResp(200, map[string]any{"success": true, "duplicate": true})
		}
	}

	deleted, err := r.Store.DeleteByShop(ctx, shop)
	if err != nil {
		config.LogError(log, moduleName, "appUninstalled", "delete orders for uninstalled shop failed", map[string]any{"shop": shop, "deleted": deleted}, err)
		if r.Deduper != nil {
			if rerr := r.Deduper.Release(ctx, webhookID); rerr != nil {
				log.WithError(rerr).Warn("could not release webhook claim")
			}
		}
		return errResp(500, "failed to delete orders")
	}
	if r.Integrations != nil {
		if err := r.Integrations.Delete(ctx, shop); err != nil {
			log.WithError(err).Warn("could not remove integration")
		}
	}

	log.WithField("deleted", deleted).Info("orders removed for uninstalled shop")
	return jsonResp(200, map[string]any{"success": true, "deleted": deleted})
}
