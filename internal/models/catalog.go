package models

import "strings"

// Product catalog. Prices are in Argentine pesos, no decimals.
const (
	ProductCapsulas = "Cápsulas"
	ProductSemillas = "Semillas"
	ProductGotas    = "Gotas"
)

// Plan durations offered for every product.
const (
	Plan60  = 60
	Plan120 = 120
)

// Surcharge and logistics constants. AdicionalMAXAmount is the flat
// cash-on-delivery surcharge added once whenever any cart line uses the
// 60-day plan; it is not multiplied per 60-day line.
const (
	AdicionalMAXAmount = 6000
	CostoLogistico     = 18000
)

// priceTable maps product → plan days → price.
var priceTable = map[string]map[int]int{
	ProductCapsulas: {Plan60: 46900, Plan120: 66900},
	ProductSemillas: {Plan60: 36900, Plan120: 49900},
	ProductGotas:    {Plan60: 48900, Plan120: 68900},
}

// ProductPrice returns the catalog price for a product+plan pair. The
// second return is false for unknown combinations.
func ProductPrice(product string, planDays int) (int, bool) {
	plans, ok := priceTable[product]
	if !ok {
		return 0, false
	}
	p, ok := plans[planDays]
	return p, ok
}

// Products returns the catalog product names in presentation order.
func Products() []string {
	return []string{ProductCapsulas, ProductSemillas, ProductGotas}
}

// productAliases maps lower-cased customer vocabulary to catalog products.
// "nueces" is what customers call the seed product.
var productAliases = map[string][]string{
	ProductCapsulas: {"capsula", "cápsula", "capsulas", "cápsulas", "pastilla", "pastillas", "comprimido"},
	ProductSemillas: {"semilla", "semillas", "nuez", "nueces", "nuez de la india"},
	ProductGotas:    {"gota", "gotas", "gotitas", "liquido", "líquido"},
}

// MatchProduct scans text for a product mention and returns the canonical
// catalog name, or "" when nothing matches.
func MatchProduct(text string) string {
	lower := strings.ToLower(text)
	for _, product := range Products() {
		for _, alias := range productAliases[product] {
			if strings.Contains(lower, alias) {
				return product
			}
		}
	}
	return ""
}

// CartTotal sums the line prices plus the flat surcharge when any line is
// on the 60-day plan. It returns the total and the surcharge applied.
func CartTotal(cart []CartItem) (total, surcharge int) {
	for _, item := range cart {
		total += item.Price
		if item.PlanDays == Plan60 {
			surcharge = AdicionalMAXAmount
		}
	}
	return total + surcharge, surcharge
}
