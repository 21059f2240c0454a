package orders

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"orderdash/internal/db"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// sortKeyLayout is fixed width so lexical order matches time order.
const sortKeyLayout = "2006-01-02T15:04:05.000000000Z"

const (
	orderSK          = "ORDER"
	allOrdersPK      = "ORDERS"
	maxQueryPage     = 1000
	maxDeleteRetries = 5
)

type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// orderItem mirrors the DynamoDB item.
// PK     = ORDER#<orderId>
// GSI1PK = SHOP#<shop>, GSI1SK = createdAt
// GSI2PK = ORDERS,      GSI2SK = createdAt
type orderItem struct {
	PK     string `dynamodbav:"PK"`
	SK     string `dynamodbav:"SK"`
	GSI1PK string `dynamodbav:"GSI1PK"`
	GSI1SK string `dynamodbav:"GSI1SK"`
	GSI2PK string `dynamodbav:"GSI2PK"`
	GSI2SK string `dynamodbav:"GSI2SK"`

	Shop       string     `dynamodbav:"Shop"`
	OrderID    string     `dynamodbav:"OrderId"`
	Name       string     `dynamodbav:"Name,omitempty"`
	Status     *string    `dynamodbav:"Status"`
	TotalPrice *string    `dynamodbav:"TotalPrice"`
	Currency   *string    `dynamodbav:"Currency"`
	CreatedAt  string     `dynamodbav:"CreatedAt"`
	LineItems  []LineItem `dynamodbav:"LineItems"`
	Raw        string     `dynamodbav:"Raw,omitempty"`
	IngestedAt string     `dynamodbav:"IngestedAt"`
}

type DynamoStore struct {
	ddb   DDBClient
	table string
	now   func() time.Time
}

func NewDynamoStore(ddb DDBClient, table string) *DynamoStore {
	return &DynamoStore{ddb: ddb, table: table, now: time.Now}
}

func OrderPK(orderID string) string {
	return fmt.Sprintf("ORDER#%s", orderID)
}

func ShopPK(shop string) string {
	return fmt.Sprintf("SHOP#%s", shop)
}

func SortKey(t time.Time) string {
	return t.UTC().Format(sortKeyLayout)
}

// Upsert writes every tracked attribute, replacing any previous version of
// the same order.
func (s *DynamoStore) Upsert(ctx context.Context, o Order) error {
	if err := validateOrder(o); err != nil {
		return err
	}
	o.IngestedAt = s.now().UTC()

	av, err := attributevalue.MarshalMap(toItem(o))
	if err != nil {
		return fmt.Errorf("marshal order %s: %w", o.OrderID, err)
	}
	_, err = s.ddb.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("ddb put order %s: %w", o.OrderID, err)
	}
	return nil
}

func (s *DynamoStore) Count(ctx context.Context, f Filter) (int, error) {
	in := s.windowQuery(f)
	in.Select = types.SelectCount

	total := 0
	for {
		out, err := s.ddb.Query(ctx, in)
		if err != nil {
			return 0, fmt.Errorf("ddb count orders: %w", err)
		}
		total += int(out.Count)
		if len(out.LastEvaluatedKey) == 0 {
			return total, nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func (s *DynamoStore) List(ctx context.Context, f Filter, offset, limit int) ([]Order, error) {
	if offset < 0 {
		offset = 0
	}
	result := make([]Order, 0)
	if limit <= 0 {
		return result, nil
	}

	in := s.windowQuery(f)
	in.ScanIndexForward = aws.Bool(false)

	wanted := offset + limit
	if offset > math.MaxInt-limit {
		wanted = math.MaxInt
	}
	seen := 0
	for {
		in.Limit = aws.Int32(int32(min(wanted-seen, maxQueryPage)))
		out, err := s.ddb.Query(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("ddb list orders: %w", err)
		}

		var items []orderItem
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &items); err != nil {
			return nil, fmt.Errorf("unmarshal orders: %w", err)
		}
		for _, it := range items {
			seen++
			if seen <= offset {
				continue
			}
			o, err := fromItem(it)
			if err != nil {
				return nil, err
			}
			result = append(result, o)
		}

		if seen >= wanted || len(out.LastEvaluatedKey) == 0 {
			return result, nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

// DeleteByShop removes every order of one shop regardless of age.
func (s *DynamoStore) DeleteByShop(ctx context.Context, shop string) (int, error) {
	shop = strings.TrimSpace(shop)
	if shop == "" {
		return 0, fmt.Errorf("delete orders: empty shop")
	}

	in := &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		IndexName:              aws.String(db.OrdersShopIndex),
		KeyConditionExpression: aws.String("GSI1PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: ShopPK(shop)},
		},
		ProjectionExpression: aws.String("PK, SK"),
	}

	deleted := 0
	for {
		out, err := s.ddb.Query(ctx, in)
		if err != nil {
			return deleted, fmt.Errorf("ddb query shop orders: %w", err)
		}

		reqs := make([]types.WriteRequest, 0, len(out.Items))
		for _, it := range out.Items {
			reqs = append(reqs, types.WriteRequest{
				DeleteRequest: &types.DeleteRequest{
					Key: map[string]types.AttributeValue{"PK": it["PK"], "SK": it["SK"]},
				},
			})
		}
		for start := 0; start < len(reqs); start += db.BatchWriteLimit {
			chunk := reqs[start:min(start+db.BatchWriteLimit, len(reqs))]
			if err := s.batchDelete(ctx, chunk); err != nil {
				return deleted, err
			}
			deleted += len(chunk)
		}

		if len(out.LastEvaluatedKey) == 0 {
			return deleted, nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func (s *DynamoStore) batchDelete(ctx context.Context, reqs []types.WriteRequest) error {
	pending := map[string][]types.WriteRequest{s.table: reqs}
	for attempt := 0; attempt <= maxDeleteRetries; attempt++ {
		out, err := s.ddb.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
		if err != nil {
			return fmt.Errorf("ddb batch delete: %w", err)
		}
		if len(out.UnprocessedItems[s.table]) == 0 {
			return nil
		}
		pending = out.UnprocessedItems

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(50*(1<<attempt)) * time.Millisecond):
		}
	}
	return fmt.Errorf("ddb batch delete: %d items left unprocessed", len(pending[s.table]))
}

func (s *DynamoStore) windowQuery(f Filter) *dynamodb.QueryInput {
	index, pkAttr, skAttr, pk := db.OrdersAllIndex, "GSI2PK", "GSI2SK", allOrdersPK
	if f.Shop != "" {
		index, pkAttr, skAttr, pk = db.OrdersShopIndex, "GSI1PK", "GSI1SK", ShopPK(f.Shop)
	}
	return &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		IndexName:              aws.String(index),
		KeyConditionExpression: aws.String(fmt.Sprintf("%s = :pk AND %s >= :since", pkAttr, skAttr)),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":    &types.AttributeValueMemberS{Value: pk},
			":since": &types.AttributeValueMemberS{Value: SortKey(f.Since)},
		},
	}
}

func toItem(o Order) orderItem {
	created := SortKey(o.CreatedAt)
	return orderItem{
		PK:     OrderPK(o.OrderID),
		SK:     orderSK,
		GSI1PK: ShopPK(o.Shop),
		GSI1SK: created,
		GSI2PK: allOrdersPK,
		GSI2SK: created,

		Shop:       o.Shop,
		OrderID:    o.OrderID,
		Name:       o.Name,
		Status:     o.Status,
		TotalPrice: o.TotalPrice,
		Currency:   o.Currency,
		CreatedAt:  created,
		LineItems:  o.LineItems,
		Raw:        string(o.Raw),
		IngestedAt: o.IngestedAt.UTC().Format(time.RFC3339Nano),
	}
}

func fromItem(it orderItem) (Order, error) {
	created, err := time.Parse(sortKeyLayout, it.CreatedAt)
	if err != nil {
		return Order{}, fmt.Errorf("order %s: bad CreatedAt %q: %w", it.OrderID, it.CreatedAt, err)
	}
	ingested, _ := time.Parse(time.RFC3339Nano, it.IngestedAt)

	o := Order{
		Shop:       it.Shop,
		OrderID:    it.OrderID,
		Name:       it.Name,
		Status:     it.Status,
		TotalPrice: it.TotalPrice,
		Currency:   it.Currency,
		CreatedAt:  created,
		LineItems:  it.LineItems,
		IngestedAt: ingested,
	}
	if o.LineItems == nil {
		o.LineItems = []LineItem{}
	}
	for i := range o.LineItems {
		if o.LineItems[i].Images == nil {
			o.LineItems[i].Images = []Image{}
		}
	}
	if it.Raw != "" {
		o.Raw = []byte(it.Raw)
	}
	return o, nil
}
