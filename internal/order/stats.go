package order

import (
	"sort"

	"github.com/shopspring/decimal"
)

// ProductSales is the quantity sold of one product.
type ProductSales struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Quantity int             `json:"quantity"`
	Revenue  decimal.Decimal `json:"revenue"`
}

// Stats aggregates placed orders for the back-office dashboard.
type Stats struct {
	Orders            int             `json:"orders"`
	ByStatus          map[Status]int  `json:"by_status"`
	Revenue           decimal.Decimal `json:"revenue"`
	DeliveryFees      decimal.Decimal `json:"delivery_fees"`
	AverageOrderValue decimal.Decimal `json:"average_order_value"`
	TopProducts       []ProductSales  `json:"top_products"`
}

// Summarize computes Stats over orders. Cancelled orders count towards
// ByStatus only. topN limits TopProducts; zero keeps all products.
func Summarize(orders []Order, topN int) Stats {
	st := Stats{
		Orders:            len(orders),
		ByStatus:          make(map[Status]int),
		Revenue:           decimal.Zero,
		DeliveryFees:      decimal.Zero,
		AverageOrderValue: decimal.Zero,
		TopProducts:       []ProductSales{},
	}

	sales := make(map[string]*ProductSales)
	counted := 0
	for _, o := range orders {
		st.ByStatus[o.Status]++
		if o.Status == StatusCancelled {
			continue
		}
		counted++
		st.Revenue = st.Revenue.Add(o.GrandTotal)
		st.DeliveryFees = st.DeliveryFees.Add(o.DeliveryFee)
		for _, line := range o.Lines {
			if line.Quantity < 1 {
				continue
			}
			ps, ok := sales[line.ID]
			if !ok {
				ps = &ProductSales{ID: line.ID, Name: line.Name, Revenue: decimal.Zero}
				sales[line.ID] = ps
			}
			ps.Quantity += line.Quantity
			ps.Revenue = ps.Revenue.Add(LineTotal(line))
		}
	}
	if counted > 0 {
		st.AverageOrderValue = st.Revenue.Div(decimal.NewFromInt(int64(counted))).Round(2)
	}

	for _, ps := range sales {
		st.TopProducts = append(st.TopProducts, *ps)
	}
	sort.Slice(st.TopProducts, func(i, j int) bool {
		a, b := st.TopProducts[i], st.TopProducts[j]
		if a.Quantity != b.Quantity {
			return a.Quantity > b.Quantity
		}
		return a.ID < b.ID
	})
	if topN > 0 && len(st.TopProducts) > topN {
		st.TopProducts = st.TopProducts[:topN]
	}
	return st
}
