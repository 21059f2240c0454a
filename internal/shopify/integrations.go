package shopify

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"orderdash/internal/security"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

var (
	ErrIntegrationNotFound = errors.New("shop not connected")
	ErrNoEncryptionKey     = errors.New("TOKEN_ENC_KEY_B64 not set")
)

const integrationSK = "SHOPIFY"

type IntegrationsDDB interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// IntegrationItem mirrors the DynamoDB structure.
// PK = SHOP#<shop>
// SK = SHOPIFY
type IntegrationItem struct {
	PK             string `dynamodbav:"PK"`
	SK             string `dynamodbav:"SK"`
	Shop           string `dynamodbav:"Shop"`
	AccessTokenEnc string `dynamodbav:"AccessTokenEnc"`
	Scope          string `dynamodbav:"Scope,omitempty"`
	CreatedAt      string `dynamodbav:"CreatedAt"`
	LastSyncAt     string `dynamodbav:"LastSyncAt,omitempty"`
	LastImported   int    `dynamodbav:"LastImported,omitempty"`
}

// IntegrationStore keeps one encrypted access token per connected shop.
type IntegrationStore struct {
	ddb    IntegrationsDDB
	table  string
	cipher *security.Cipher
	now    func() time.Time
}

// NewIntegrationStore returns a store; cipher may be nil, in which case
// tokens can be neither saved nor loaded.
func NewIntegrationStore(ddb IntegrationsDDB, table string, cipher *security.Cipher) *IntegrationStore {
	return &IntegrationStore{ddb: ddb, table: strings.TrimSpace(table), cipher: cipher, now: time.Now}
}

func integrationKey(shop string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: ShopKey(shop)},
		"SK": &types.AttributeValueMemberS{Value: integrationSK},
	}
}

func ShopKey(shop string) string {
	return fmt.Sprintf("SHOP#%s", shop)
}

func (s *IntegrationStore) Save(ctx context.Context, shop, accessToken, scope string) error {
	if s.cipher == nil {
		return ErrNoEncryptionKey
	}
	if shop == "" || accessToken == "" {
		return errors.New("missing shop or access token")
	}
	enc, err := s.cipher.Encrypt(accessToken)
	if err != nil {
		return fmt.Errorf("encrypt token: %w", err)
	}
	av, err := attributevalue.MarshalMap(IntegrationItem{
		PK:             ShopKey(shop),
		SK:             integrationSK,
		Shop:           shop,
		AccessTokenEnc: enc,
		Scope:          scope,
		CreatedAt:      s.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	_, err = s.ddb.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("ddb put integration: %w", err)
	}
	return nil
}

// Load returns the decrypted access token and the stored record.
func (s *IntegrationStore) Load(ctx context.Context, shop string) (string, *IntegrationItem, error) {
	if shop == "" {
		return "", nil, errors.New("missing shop domain")
	}
	out, err := s.ddb.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key:       integrationKey(shop),
	})
	if err != nil {
		return "", nil, fmt.Errorf("ddb get integration: %w", err)
	}
	if out.Item == nil {
		return "", nil, ErrIntegrationNotFound
	}

	var integ IntegrationItem
	if err := attributevalue.UnmarshalMap(out.Item, &integ); err != nil {
		return "", nil, err
	}
	enc := strings.TrimSpace(integ.AccessTokenEnc)
	if enc == "" {
		return "", &integ, errors.New("no AccessTokenEnc on record")
	}
	if s.cipher == nil {
		return "", &integ, ErrNoEncryptionKey
	}
	token, err := s.cipher.Decrypt(enc)
	if err != nil {
		return "", &integ, fmt.Errorf("failed to decrypt token: %w", err)
	}
	return token, &integ, nil
}

// Token implements TokenLoader.
func (s *IntegrationStore) Token(ctx context.Context, shop string) (string, error) {
	token, _, err := s.Load(ctx, shop)
	return token, err
}

func (s *IntegrationStore) Delete(ctx context.Context, shop string) error {
	_, err := s.ddb.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key:       integrationKey(shop),
	})
	if err != nil {
		return fmt.Errorf("ddb delete integration: %w", err)
	}
	return nil
}

// RecordSync stamps the last successful sync on the integration record. A
// shop synced with a fallback credential has no record; nothing is created.
func (s *IntegrationStore) RecordSync(ctx context.Context, shop string, at time.Time, imported int) error {
	_, err := s.ddb.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.table),
		Key:                 integrationKey(shop),
		UpdateExpression:    aws.String("SET LastSyncAt=:a, LastImported=:n"),
		ConditionExpression: aws.String("attribute_exists(PK)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":a": &types.AttributeValueMemberS{Value: at.UTC().Format(time.RFC3339)},
			":n": &types.AttributeValueMemberN{Value: strconv.Itoa(imported)},
		},
	})
	var cfe *types.ConditionalCheckFailedException
	if errors.As(err, &cfe) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("ddb record sync: %w", err)
	}
	return nil
}

// Shops lists every connected shop.
func (s *IntegrationStore) Shops(ctx context.Context) ([]string, error) {
	in := &dynamodb.ScanInput{
		TableName:                aws.String(s.table),
		FilterExpression:         aws.String("SK = :sk"),
		ProjectionExpression:     aws.String("#s"),
		ExpressionAttributeNames: map[string]string{"#s": "Shop"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":sk": &types.AttributeValueMemberS{Value: integrationSK},
		},
	}
	var shops []string
	for {
		out, err := s.ddb.Scan(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("ddb scan integrations: %w", err)
		}
		for _, it := range out.Items {
			if v, ok := it["Shop"].(*types.AttributeValueMemberS); ok && strings.TrimSpace(v.Value) != "" {
				shops = append(shops, strings.TrimSpace(v.Value))
			}
		}
		if len(out.LastEvaluatedKey) == 0 {
			return shops, nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}
