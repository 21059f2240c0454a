package orders

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
)

type DailyRevenue struct {
	Date    string          `json:"date"`
	Revenue decimal.Decimal `json:"revenue"`
	Orders  int             `json:"orders"`
}

type Summary struct {
	TotalOrders int             `json:"totalOrders"`
	Revenue     decimal.Decimal `json:"revenue"`
	AvgAOV      decimal.Decimal `json:"avgAOV"`
	Timeseries  []DailyRevenue  `json:"timeseries"`
}

// Summary aggregates the window for one shop (or all shops when empty).
// Orders without a parseable total count toward TotalOrders but add no
// revenue.
func (s *Service) Summary(ctx context.Context, shop string) (Summary, error) {
	window, err := s.Window(ctx, shop)
	if err != nil {
		return Summary{}, err
	}
	return Summarize(window), nil
}

func Summarize(list []Order) Summary {
	sum := Summary{
		TotalOrders: len(list),
		Revenue:     decimal.Zero,
		AvgAOV:      decimal.Zero,
		Timeseries:  []DailyRevenue{},
	}

	byDate := map[string]*DailyRevenue{}
	for _, o := range list {
		day := o.CreatedAt.UTC().Format("2006-01-02")
		d, ok := byDate[day]
		if !ok {
			d = &DailyRevenue{Date: day, Revenue: decimal.Zero}
			byDate[day] = d
		}
		d.Orders++

		if o.TotalPrice == nil {
			continue
		}
		amt, err := decimal.NewFromString(*o.TotalPrice)
		if err != nil {
			continue
		}
		d.Revenue = d.Revenue.Add(amt)
		sum.Revenue = sum.Revenue.Add(amt)
	}

	for _, d := range byDate {
		sum.Timeseries = append(sum.Timeseries, *d)
	}
	sort.Slice(sum.Timeseries, func(i, j int) bool {
		return sum.Timeseries[i].Date < sum.Timeseries[j].Date
	})

	if sum.TotalOrders > 0 {
		sum.AvgAOV = sum.Revenue.DivRound(decimal.NewFromInt(int64(sum.TotalOrders)), 2)
	}
	return sum
}
