package shopify

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"orderdash/internal/security"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

type fakeIntegrationsDDB struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue
}

func newFakeIntegrationsDDB() *fakeIntegrationsDDB {
	return &fakeIntegrationsDDB{items: map[string]map[string]types.AttributeValue{}}
}

func keyOf(m map[string]types.AttributeValue) string {
	pk, _ := m["PK"].(*types.AttributeValueMemberS)
	if pk == nil {
		return ""
	}
	return pk.Value
}

func (f *fakeIntegrationsDDB) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &dynamodb.GetItemOutput{Item: f.items[keyOf(in.Key)]}, nil
}

func (f *fakeIntegrationsDDB) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := keyOf(in.Item)
	if in.ConditionExpression != nil && strings.Contains(*in.ConditionExpression, "attribute_not_exists") {
		if _, ok := f.items[k]; ok {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}
	f.items[k] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeIntegrationsDDB) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[keyOf(in.Key)]
	if !ok {
		return nil, &types.ConditionalCheckFailedException{}
	}
	item["LastSyncAt"] = in.ExpressionAttributeValues[":a"]
	item["LastImported"] = in.ExpressionAttributeValues[":n"]
	return &dynamodb.UpdateItemOutput{}, nil
}

func (f *fakeIntegrationsDDB) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.items, keyOf(in.Key))
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeIntegrationsDDB) Scan(_ context.Context, _ *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := &dynamodb.ScanOutput{}
	for _, it := range f.items {
		out.Items = append(out.Items, it)
	}
	return out, nil
}

func testCipher(t *testing.T) *security.Cipher {
	t.Helper()
	c, err := security.NewCipher(base64.StdEncoding.EncodeToString([]byte(strings.Repeat("z", 32))))
	if err != nil {
		t.Fatalf("cipher: %v", err)
	}
	return c
}

func TestIntegrationStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	ddb := newFakeIntegrationsDDB()
	store := NewIntegrationStore(ddb, "integrations", testCipher(t))

	if err := store.Save(ctx, "a.myshopify.com", "shpat_a", "read_orders"); err != nil {
		t.Fatalf("save: %v", err)
	}
	enc := ddb.items[ShopKey("a.myshopify.com")]["AccessTokenEnc"].(*types.AttributeValueMemberS).Value
	if strings.Contains(enc, "shpat_a") {
		t.Fatalf("token stored in clear")
	}

	token, item, err := store.Load(ctx, "a.myshopify.com")
	if err != nil || token != "shpat_a" || item.Scope != "read_orders" {
		t.Fatalf("load: %q %+v %v", token, item, err)
	}

	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if err := store.RecordSync(ctx, "a.myshopify.com", at, 12); err != nil {
		t.Fatalf("record sync: %v", err)
	}
	_, item, _ = store.Load(ctx, "a.myshopify.com")
	if item.LastSyncAt != "2026-03-01T00:00:00Z" || item.LastImported != 12 {
		t.Fatalf("sync not recorded: %+v", item)
	}
	if err := store.RecordSync(ctx, "unknown", at, 1); err != nil {
		t.Fatalf("record sync on unknown shop should be a no-op, got %v", err)
	}

	shops, err := store.Shops(ctx)
	if err != nil || len(shops) != 1 || shops[0] != "a.myshopify.com" {
		t.Fatalf("shops: %v %v", shops, err)
	}

	if err := store.Delete(ctx, "a.myshopify.com"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, _, err := store.Load(ctx, "a.myshopify.com"); !errors.Is(err, ErrIntegrationNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestIntegrationStoreWithoutKey(t *testing.T) {
	store := NewIntegrationStore(newFakeIntegrationsDDB(), "integrations", nil)
	if err := store.Save(context.Background(), "a", "t", ""); !errors.Is(err, ErrNoEncryptionKey) {
		t.Fatalf("expected ErrNoEncryptionKey, got %v", err)
	}
}

type fakeSSM struct {
	calls int
	value string
}

func (f *fakeSSM) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.calls++
	return &ssm.GetParameterOutput{Parameter: &ssmtypes.Parameter{Name: in.Name, Value: &f.value}}, nil
}

func TestCredentialsResolveOrder(t *testing.T) {
	ctx := context.Background()
	integrations := NewIntegrationStore(newFakeIntegrationsDDB(), "integrations", testCipher(t))
	if err := integrations.Save(ctx, "stored.myshopify.com", "shpat_stored", ""); err != nil {
		t.Fatalf("save: %v", err)
	}
	param := &fakeSSM{value: "shpat_ssm"}

	cases := []struct {
		name       string
		creds      *Credentials
		shop       string
		session    string
		wantToken  string
		wantSource string
	}{
		{"session wins", &Credentials{Integrations: integrations, EnvToken: "shpat_env"}, "stored.myshopify.com", "shpat_session", "shpat_session", SourceSession},
		{"integration", &Credentials{Integrations: integrations, EnvToken: "shpat_env"}, "stored.myshopify.com", "", "shpat_stored", SourceIntegration},
		{"env fallback", &Credentials{Integrations: integrations, EnvToken: "shpat_env"}, "other.myshopify.com", "", "shpat_env", SourceEnv},
		{"ssm fallback", &Credentials{Integrations: integrations, SSM: param, ParamName: "/orderdash/token"}, "other.myshopify.com", "", "shpat_ssm", SourceSSM},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			token, source, err := tc.creds.Resolve(ctx, tc.shop, tc.session)
			if err != nil || token != tc.wantToken || source != tc.wantSource {
				t.Fatalf("got %q/%q/%v, want %q/%q", token, source, err, tc.wantToken, tc.wantSource)
			}
		})
	}

	creds := &Credentials{SSM: param, ParamName: "/p"}
	_, _, _ = creds.Resolve(ctx, "x", "")
	_, _, _ = creds.Resolve(ctx, "x", "")
	if param.calls != 2 {
		t.Fatalf("expected the SSM value to be cached per Credentials, got %d calls", param.calls)
	}

	if _, _, err := (&Credentials{Integrations: integrations}).Resolve(ctx, "nobody", ""); !errors.Is(err, ErrNoCredential) {
		t.Fatalf("expected ErrNoCredential, got %v", err)
	}
}
