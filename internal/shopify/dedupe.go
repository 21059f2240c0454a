package shopify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const dedupeTTL = 7 * 24 * time.Hour

type DedupeDDB interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// WebhookDeduper records delivered webhook ids so redeliveries are handled
// once. A deduper without a table claims everything.
type WebhookDeduper struct {
	ddb   DedupeDDB
	table string
	now   func() time.Time
}

func NewWebhookDeduper(ddb DedupeDDB, table string) *WebhookDeduper {
	return &WebhookDeduper{ddb: ddb, table: strings.TrimSpace(table), now: time.Now}
}

// Claim returns true when the webhook id was already processed.
func (d *WebhookDeduper) Claim(ctx context.Context, webhookID, shop, topic string) (bool, error) {
	if d == nil || d.table == "" || d.ddb == nil {
		return false, nil
	}
	webhookID = strings.TrimSpace(webhookID)
	if webhookID == "" {
		return false, nil
	}

	now := d.now().UTC()
	_, err := d.ddb.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.table),
		Item: map[string]types.AttributeValue{
			"PK":        &types.AttributeValueMemberS{Value: webhookKey(webhookID)},
			"Shop":      &types.AttributeValueMemberS{Value: shop},
			"Topic":     &types.AttributeValueMemberS{Value: topic},
			"CreatedAt": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
			"ExpiresAt": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", now.Add(dedupeTTL).Unix())},
		},
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		var cfe *types.ConditionalCheckFailedException
		if errors.As(err, &cfe) {
			return true, nil
		}
		return false, fmt.Errorf("ddb claim webhook: %w", err)
	}
	return false, nil
}

// Release forgets a claim so a failed delivery can be processed when Shopify
// retries it.
func (d *WebhookDeduper) Release(ctx context.Context, webhookID string) error {
	if d == nil || d.table == "" || d.ddb == nil || strings.TrimSpace(webhookID) == "" {
		return nil
	}
	_, err := d.ddb.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(d.table),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: webhookKey(strings.TrimSpace(webhookID))},
		},
	})
	if err != nil {
		return fmt.Errorf("ddb release webhook: %w", err)
	}
	return nil
}

func webhookKey(id string) string {
	return fmt.Sprintf("WH#%s", id)
}
