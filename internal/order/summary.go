package order

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Locale selects the language of a rendered summary.
type Locale string

const (
	LocaleArabic  Locale = "ar"
	LocaleEnglish Locale = "en"
)

// ParseLocale maps a request value, such as a locale field or an
// Accept-Language header, to a supported locale. Anything that does not
// start with English falls back to Arabic.
func ParseLocale(s string) Locale {
	tag, _, _ := strings.Cut(strings.TrimSpace(s), ",")
	if i := strings.IndexAny(tag, "-_;"); i >= 0 {
		tag = tag[:i]
	}
	if strings.EqualFold(strings.TrimSpace(tag), string(LocaleEnglish)) {
		return LocaleEnglish
	}
	return LocaleArabic
}

type labels struct {
	title, name, phone, address, items, subtotal, delivery, total, notes, pickup string
}

var summaryLabels = map[Locale]labels{
	LocaleArabic: {
		title:    "طلب جديد",
		name:     "الاسم",
		phone:    "الهاتف",
		address:  "العنوان",
		items:    "الطلبات",
		subtotal: "المجموع",
		delivery: "التوصيل",
		total:    "الإجمالي",
		notes:    "ملاحظات",
		pickup:   "استلام من المحل",
	},
	LocaleEnglish: {
		title:    "New order",
		name:     "Name",
		phone:    "Phone",
		address:  "Address",
		items:    "Items",
		subtotal: "Subtotal",
		delivery: "Delivery",
		total:    "Total",
		notes:    "Notes",
		pickup:   "Store pickup",
	},
}

// Summary is everything the handoff message shows.
type Summary struct {
	OrderID      string
	CustomerName string
	Phone        string
	City         string
	Address      string
	Notes        string
	Lines        []CartLine
	Currency     string
}

// FormatSummary renders a deterministic order message for an external chat
// channel. Malformed lines are skipped the same way ComputeTotal skips them.
func FormatSummary(s Summary, deliveryFee decimal.Decimal, locale Locale) string {
	lb, ok := summaryLabels[locale]
	if !ok {
		lb = summaryLabels[LocaleArabic]
	}
	total := ComputeTotal(s.Lines, deliveryFee)

	var b strings.Builder
	b.WriteString(lb.title)
	if s.OrderID != "" {
		fmt.Fprintf(&b, " #%s", s.OrderID)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "%s: %s\n", lb.name, s.CustomerName)
	fmt.Fprintf(&b, "%s: %s\n", lb.phone, s.Phone)
	if addr := joinAddress(s.City, s.Address); addr != "" {
		fmt.Fprintf(&b, "%s: %s\n", lb.address, addr)
	} else {
		fmt.Fprintf(&b, "%s: %s\n", lb.address, lb.pickup)
	}

	fmt.Fprintf(&b, "\n%s:\n", lb.items)
	n := 0
	for _, line := range s.Lines {
		if line.Quantity < 1 || line.UnitPrice.IsNegative() {
			continue
		}
		n++
		fmt.Fprintf(&b, "%d. %s × %d = %s\n", n, lineName(line, locale), line.Quantity, money(LineTotal(line), s.Currency))
	}

	b.WriteString("\n")
	fmt.Fprintf(&b, "%s: %s\n", lb.subtotal, money(total.Subtotal, s.Currency))
	fmt.Fprintf(&b, "%s: %s\n", lb.delivery, money(total.DeliveryFee, s.Currency))
	fmt.Fprintf(&b, "%s: %s", lb.total, money(total.GrandTotal, s.Currency))
	if notes := strings.TrimSpace(s.Notes); notes != "" {
		fmt.Fprintf(&b, "\n%s: %s", lb.notes, notes)
	}
	return b.String()
}

func lineName(line CartLine, locale Locale) string {
	if locale == LocaleEnglish && line.NameEn != "" {
		return line.NameEn
	}
	if line.Name == "" {
		return line.NameEn
	}
	return line.Name
}

func joinAddress(city, address string) string {
	city, address = strings.TrimSpace(city), strings.TrimSpace(address)
	switch {
	case city == "":
		return address
	case address == "":
		return city
	}
	return city + " - " + address
}

func money(d decimal.Decimal, currency string) string {
	if currency == "" {
		return d.StringFixed(2)
	}
	return d.StringFixed(2) + " " + currency
}
