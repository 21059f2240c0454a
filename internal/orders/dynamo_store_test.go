package orders

import (
	"context"
	"math"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// fakeDDB understands the handful of key-condition queries the store issues.
type fakeDDB struct {
	mu           sync.Mutex
	items        map[string]map[string]types.AttributeValue
	pageSize     int
	unprocessOne bool
	queries      []*dynamodb.QueryInput
}

func newFakeDDB(pageSize int) *fakeDDB {
	return &fakeDDB{items: map[string]map[string]types.AttributeValue{}, pageSize: pageSize}
}

func attr(item map[string]types.AttributeValue, name string) string {
	if v, ok := item[name].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func (f *fakeDDB) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[attr(in.Item, "PK")] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDDB) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *in
	f.queries = append(f.queries, &copied)

	pkAttr, skAttr := "GSI1PK", "GSI1SK"
	if aws.ToString(in.IndexName) == "GSI2" {
		pkAttr, skAttr = "GSI2PK", "GSI2SK"
	}
	pk := attr(in.ExpressionAttributeValues, ":pk")
	since := attr(in.ExpressionAttributeValues, ":since")

	var matched []map[string]types.AttributeValue
	for _, it := range f.items {
		if attr(it, pkAttr) != pk {
			continue
		}
		if since != "" && attr(it, skAttr) < since {
			continue
		}
		matched = append(matched, it)
	}
	sort.Slice(matched, func(i, j int) bool {
		a, b := attr(matched[i], skAttr), attr(matched[j], skAttr)
		if a == b {
			return attr(matched[i], "PK") < attr(matched[j], "PK")
		}
		return a < b
	})
	if in.ScanIndexForward != nil && !*in.ScanIndexForward {
		for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
			matched[i], matched[j] = matched[j], matched[i]
		}
	}

	start := 0
	if in.ExclusiveStartKey != nil {
		last := attr(in.ExclusiveStartKey, "PK")
		for i, it := range matched {
			if attr(it, "PK") == last {
				start = i + 1
				break
			}
		}
	}
	limit := f.pageSize
	if in.Limit != nil && int(*in.Limit) < limit {
		limit = int(*in.Limit)
	}
	end := min(start+limit, len(matched))
	page := matched[start:end]

	out := &dynamodb.QueryOutput{Count: int32(len(page))}
	if in.Select != types.SelectCount {
		out.Items = page
	}
	if end < len(matched) {
		out.LastEvaluatedKey = map[string]types.AttributeValue{
			"PK": page[len(page)-1]["PK"],
		}
	}
	return out, nil
}

func (f *fakeDDB) BatchWriteItem(_ context.Context, in *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := &dynamodb.BatchWriteItemOutput{UnprocessedItems: map[string][]types.WriteRequest{}}
	for table, reqs := range in.RequestItems {
		for i, r := range reqs {
			if f.unprocessOne && i == 0 {
				f.unprocessOne = false
				out.UnprocessedItems[table] = append(out.UnprocessedItems[table], r)
				continue
			}
			delete(f.items, attr(r.DeleteRequest.Key, "PK"))
		}
	}
	return out, nil
}

func strPtr(s string) *string { return &s }

func testOrder(shop, id string, created time.Time) Order {
	return Order{
		Shop:       shop,
		OrderID:    id,
		Status:     strPtr("PAID"),
		TotalPrice: strPtr("10.00"),
		Currency:   strPtr("USD"),
		CreatedAt:  created,
		LineItems: []LineItem{
			{LineItemID: "li-1", Title: "Hat", Quantity: 1, Price: strPtr("10.00"), Images: []Image{{URL: "https://cdn/h.png"}}},
		},
	}
}

func TestSortKeyIsLexicallyOrdered(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	later := base.Add(500 * time.Millisecond)
	if !(SortKey(base) < SortKey(later)) {
		t.Fatalf("expected %s < %s", SortKey(base), SortKey(later))
	}
	local := later.In(time.FixedZone("x", -5*3600))
	if SortKey(local) != SortKey(later) {
		t.Fatalf("sort key must be zone independent")
	}
}

func TestDynamoStoreUpsertOverwrites(t *testing.T) {
	ctx := context.Background()
	ddb := newFakeDDB(100)
	store := NewDynamoStore(ddb, "orders")
	created := time.Now().Add(-time.Hour)

	first := testOrder("a.myshopify.com", "gid://shopify/Order/1", created)
	if err := store.Upsert(ctx, first); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	second := first
	second.Status = strPtr("REFUNDED")
	second.Raw = []byte(`{"id":"gid://shopify/Order/1"}`)
	if err := store.Upsert(ctx, second); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	if len(ddb.items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(ddb.items))
	}
	got, err := store.List(ctx, Filter{Shop: "a.myshopify.com"}, 0, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || *got[0].Status != "REFUNDED" {
		t.Fatalf("expected overwritten status, got %+v", got)
	}
	if string(got[0].Raw) != `{"id":"gid://shopify/Order/1"}` {
		t.Fatalf("raw not round-tripped: %s", got[0].Raw)
	}
	if !got[0].CreatedAt.Equal(created.UTC().Truncate(time.Nanosecond)) {
		t.Fatalf("createdAt mismatch: %s vs %s", got[0].CreatedAt, created)
	}
	if got[0].LineItems[0].Images[0].URL != "https://cdn/h.png" {
		t.Fatalf("line item images lost: %+v", got[0].LineItems)
	}
}

func TestDynamoStoreRejectsIncompleteOrder(t *testing.T) {
	store := NewDynamoStore(newFakeDDB(10), "orders")
	if err := store.Upsert(context.Background(), Order{Shop: "a", OrderID: "1"}); err != ErrInvalidOrder {
		t.Fatalf("expected ErrInvalidOrder, got %v", err)
	}
}

func TestDynamoStoreListSkipsAcrossPages(t *testing.T) {
	ctx := context.Background()
	ddb := newFakeDDB(2)
	store := NewDynamoStore(ddb, "orders")
	now := time.Now()

	for i, id := range []string{"o1", "o2", "o3", "o4", "o5"} {
		if err := store.Upsert(ctx, testOrder("a", id, now.Add(-time.Duration(i)*time.Hour))); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	got, err := store.List(ctx, Filter{Shop: "a", Since: WindowStart(now)}, 1, 3)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	ids := []string{}
	for _, o := range got {
		ids = append(ids, o.OrderID)
	}
	want := []string{"o2", "o3", "o4"}
	if len(ids) != len(want) {
		t.Fatalf("expected %v, got %v", want, ids)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, ids)
		}
	}
	for _, q := range ddb.queries {
		if aws.ToString(q.IndexName) != "GSI1" {
			t.Fatalf("tenant reads must use GSI1, got %s", aws.ToString(q.IndexName))
		}
	}
}

func TestDynamoStoreCountHonoursWindowAndTenant(t *testing.T) {
	ctx := context.Background()
	ddb := newFakeDDB(2)
	store := NewDynamoStore(ddb, "orders")
	now := time.Now()

	_ = store.Upsert(ctx, testOrder("a", "a1", now.Add(-time.Hour)))
	_ = store.Upsert(ctx, testOrder("a", "a2", now.Add(-2*time.Hour)))
	_ = store.Upsert(ctx, testOrder("a", "a-old", now.AddDate(0, 0, -61)))
	_ = store.Upsert(ctx, testOrder("b", "b1", now.Add(-time.Hour)))

	since := WindowStart(now)
	n, err := store.Count(ctx, Filter{Shop: "a", Since: since})
	if err != nil || n != 2 {
		t.Fatalf("expected 2 for shop a, got %d (%v)", n, err)
	}
	n, err = store.Count(ctx, Filter{Since: since})
	if err != nil || n != 3 {
		t.Fatalf("expected 3 across shops, got %d (%v)", n, err)
	}
}

func TestDynamoStoreDeleteByShop(t *testing.T) {
	ctx := context.Background()
	ddb := newFakeDDB(2)
	ddb.unprocessOne = true
	store := NewDynamoStore(ddb, "orders")
	now := time.Now()

	for _, id := range []string{"a1", "a2", "a3"} {
		_ = store.Upsert(ctx, testOrder("a", id, now.AddDate(0, 0, -90)))
	}
	_ = store.Upsert(ctx, testOrder("b", "b1", now))

	n, err := store.DeleteByShop(ctx, "a")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 deleted, got %d", n)
	}
	if len(ddb.items) != 1 {
		t.Fatalf("expected only shop b to remain, got %d items", len(ddb.items))
	}
	if _, err := store.DeleteByShop(ctx, " "); err == nil {
		t.Fatalf("expected error for empty shop")
	}
}

func TestDynamoStoreListHugeOffset(t *testing.T) {
	ctx := context.Background()
	ddb := newFakeDDB(2)
	store := NewDynamoStore(ddb, "orders")
	now := time.Now()
	for i, id := range []string{"o1", "o2", "o3"} {
		if err := store.Upsert(ctx, testOrder("a", id, now.Add(-time.Duration(i)*time.Hour))); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	got, err := store.List(ctx, Filter{Shop: "a", Since: WindowStart(now)}, math.MaxInt-10, MaxPerPage)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no orders, got %d", len(got))
	}
	for _, q := range ddb.queries {
		if q.Limit != nil && *q.Limit <= 0 {
			t.Fatalf("query sent non-positive limit %d", *q.Limit)
		}
	}
}
