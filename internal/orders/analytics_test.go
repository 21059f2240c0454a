package orders

import (
	"context"
	"testing"
	"time"
)

func TestSummarize(t *testing.T) {
	day1 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)

	a := testOrder("x", "1", day2)
	b := testOrder("x", "2", day1)
	b.TotalPrice = strPtr("5.25")
	c := testOrder("x", "3", day1.Add(time.Hour))
	c.TotalPrice = nil
	d := testOrder("x", "4", day2)
	d.TotalPrice = strPtr("n/a")

	sum := Summarize([]Order{a, b, c, d})
	if sum.TotalOrders != 4 {
		t.Fatalf("expected 4 orders, got %d", sum.TotalOrders)
	}
	if sum.Revenue.String() != "15.25" {
		t.Fatalf("expected revenue 15.25, got %s", sum.Revenue)
	}
	if sum.AvgAOV.String() != "3.81" {
		t.Fatalf("expected avg 3.81, got %s", sum.AvgAOV)
	}
	if len(sum.Timeseries) != 2 || sum.Timeseries[0].Date != "2026-03-01" || sum.Timeseries[1].Date != "2026-03-02" {
		t.Fatalf("unexpected timeseries %+v", sum.Timeseries)
	}
	if sum.Timeseries[0].Orders != 2 || sum.Timeseries[0].Revenue.String() != "5.25" {
		t.Fatalf("unexpected first day %+v", sum.Timeseries[0])
	}
}

func TestSummarizeEmpty(t *testing.T) {
	sum := Summarize(nil)
	if sum.TotalOrders != 0 || !sum.AvgAOV.IsZero() || sum.Timeseries == nil {
		t.Fatalf("unexpected empty summary %+v", sum)
	}
}

func TestServiceSummaryScopesToShop(t *testing.T) {
	now := time.Now()
	store := NewMemoryStore()
	seed(t, store, testOrder("a", "1", now.Add(-time.Hour)), testOrder("b", "2", now.Add(-time.Hour)))
	sum, err := NewService(store).Summary(context.Background(), "a")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.TotalOrders != 1 || sum.Revenue.String() != "10" {
		t.Fatalf("unexpected summary %+v", sum)
	}
}
