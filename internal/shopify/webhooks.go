package shopify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const TopicAppUninstalled = "app/uninstalled"

type webhookCreateReq struct {
	Webhook struct {
		Address string `json:"address"`
		Topic   string `json:"topic"`
		Format  string `json:"format"`
	} `json:"webhook"`
}

// SubscribeUninstall registers the app/uninstalled webhook for a shop. An
// existing subscription for the same address is not an error.
func (c *Client) SubscribeUninstall(ctx context.Context, shop, accessToken, address string) error {
	return c.createWebhook(ctx, shop, accessToken, TopicAppUninstalled, address)
}

func (c *Client) createWebhook(ctx context.Context, shop, accessToken, topic, address string) error {
	var payload webhookCreateReq
	payload.Webhook.Address = address
	payload.Webhook.Topic = topic
	payload.Webhook.Format = "json"

	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.adminURL(shop, "webhooks.json"), bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Shopify-Access-Token", accessToken)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return &UpstreamError{Retryable: true, err: err}
	}
	defer res.Body.Close()
	raw, _ := io.ReadAll(res.Body)

	if res.StatusCode == http.StatusUnprocessableEntity && strings.Contains(string(raw), "already been taken") {
		return nil
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return &UpstreamError{
			StatusCode: res.StatusCode,
			Messages:   []string{fmt.Sprintf("create webhook %s: %s", topic, truncate(string(raw), maxErrorBody))},
		}
	}
	return nil
}

// VerifyWebhookHMAC checks X-Shopify-Hmac-Sha256: base64 HMAC-SHA256 of the
// raw body keyed by the app secret.
func VerifyWebhookHMAC(body []byte, header, secret string) bool {
	header = strings.TrimSpace(header)
	if header == "" || secret == "" {
		return false
	}
	got, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// SignWebhook produces the header value VerifyWebhookHMAC accepts.
func SignWebhook(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
