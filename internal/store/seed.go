package store

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/dukkan-app/dukkan/internal/loyalty"
)

var seedTime = time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

// SeedDefaults loads a small bilingual catalog, delivery fees for the main
// cities and the standard reward catalog.
func (s *MemoryStore) SeedDefaults() {
	categories := []Category{
		{ID: "cat_sweets", Name: "حلويات", NameEn: "Sweets", Position: 1},
		{ID: "cat_bakery", Name: "مخبوزات", NameEn: "Bakery", Position: 2},
		{ID: "cat_drinks", Name: "مشروبات", NameEn: "Drinks", Position: 3},
	}
	for _, c := range categories {
		s.Categories.Set(c.ID, c)
	}

	products := []Product{
		{ID: "prd_kunafa", CategoryID: "cat_sweets", Name: "كنافة", NameEn: "Kunafa",
			Description: "كنافة بالجبن", DescriptionEn: "Cheese kunafa", Price: decimal.NewFromInt(25), Available: true, Featured: true},
		{ID: "prd_baklava", CategoryID: "cat_sweets", Name: "بقلاوة", NameEn: "Baklava",
			Description: "بقلاوة بالفستق", DescriptionEn: "Pistachio baklava", Price: decimal.NewFromInt(40), Available: true},
		{ID: "prd_samoon", CategoryID: "cat_bakery", Name: "صمون", NameEn: "Samoon",
			Description: "خبز صمون طازج", DescriptionEn: "Fresh samoon bread", Price: decimal.NewFromInt(5), Available: true},
		{ID: "prd_kleicha", CategoryID: "cat_bakery", Name: "كليجة", NameEn: "Kleicha",
			Description: "كليجة بالتمر", DescriptionEn: "Date-filled kleicha", Price: decimal.NewFromInt(30), Available: true, Featured: true},
		{ID: "prd_tea", CategoryID: "cat_drinks", Name: "شاي", NameEn: "Tea",
			Price: decimal.NewFromInt(3), Available: true},
		{ID: "prd_laban", CategoryID: "cat_drinks", Name: "لبن", NameEn: "Laban",
			Price: decimal.NewFromInt(4), Available: false},
	}
	for i, p := range products {
		p.CreatedAt = seedTime.Add(time.Duration(i) * time.Minute)
		p.UpdatedAt = p.CreatedAt
		s.Products.Set(p.ID, p)
	}

	fees := []DeliveryFee{
		{City: "بغداد", CityEn: "Baghdad", Fee: decimal.NewFromInt(15), Active: true},
		{City: "البصرة", CityEn: "Basra", Fee: decimal.NewFromInt(25), Active: true},
		{City: "أربيل", CityEn: "Erbil", Fee: decimal.NewFromInt(25), Active: true},
		{City: "الموصل", CityEn: "Mosul", Fee: decimal.NewFromInt(30), Active: false},
	}
	for _, f := range fees {
		s.DeliveryFees.Set(CityKey(f.City), f)
	}

	rewards := []loyalty.Reward{
		{ID: "rwd_discount_5", PointsCost: 100, Description: "خصم ٥ على الطلب القادم", DescriptionEn: "5 off your next order",
			Kind: loyalty.KindDiscount, Value: decimal.NewFromInt(5)},
		{ID: "rwd_free_delivery", PointsCost: 150, Description: "توصيل مجاني", DescriptionEn: "Free delivery",
			Kind: loyalty.KindFreeDelivery},
		{ID: "rwd_free_kunafa", PointsCost: 250, Description: "كنافة مجانية", DescriptionEn: "Free kunafa",
			Kind: loyalty.KindFreeItem, Value: decimal.NewFromInt(25)},
	}
	for _, r := range rewards {
		s.Rewards.Set(r.ID, r)
	}
}
