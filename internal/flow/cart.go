package flow

import (
	"regexp"
	"strings"

	"github.com/herbalis/salesbot/internal/models"
)

// conjunctionRe splits a plan-choice message into per-item segments so
// mixed-cart orders like "120 dias de capsulas y 60 de nueces" parse into
// separate lines.
var conjunctionRe = regexp.MustCompile(`(?i)\s+y\s+|\s*\+\s*|,`)

var planRe = regexp.MustCompile(`\b(60|120)\b`)

// parseCart extracts cart lines from a plan-choice message. Each segment
// needs a plan number; a segment without its own product mention inherits
// the previous segment's product, then the already selected product.
func parseCart(text, selectedProduct string) []models.CartItem {
	var cart []models.CartItem
	lastProduct := selectedProduct

	for _, segment := range conjunctionRe.Split(text, -1) {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}
		planMatch := planRe.FindString(segment)
		if planMatch == "" {
			// A product-only segment still updates the running product so
			// "capsulas y semillas de 60" attributes the plan correctly.
			if p := models.MatchProduct(segment); p != "" {
				lastProduct = p
			}
			continue
		}
		plan := models.Plan60
		if planMatch == "120" {
			plan = models.Plan120
		}
		product := models.MatchProduct(segment)
		if product == "" {
			product = lastProduct
		}
		if product == "" {
			continue
		}
		price, ok := models.ProductPrice(product, plan)
		if !ok {
			continue
		}
		cart = append(cart, models.CartItem{Product: product, PlanDays: plan, Price: price})
		lastProduct = product
	}
	return cart
}

// applyCart installs a parsed cart on the state and recomputes totals.
func applyCart(state *models.ConversationState, cart []models.CartItem) {
	state.Cart = cart
	state.SelectedProduct = cart[0].Product
	state.SelectedPlan = cart[0].PlanDays
	total, surcharge := models.CartTotal(cart)
	state.TotalPrice = total
	state.AdicionalMAX = surcharge
	state.ContraMAX = surcharge > 0
}

// singleItemCart builds a one-line cart from the selected product and plan
// when the customer never phrased a multi-item order.
func singleItemCart(product string, plan int) []models.CartItem {
	price, ok := models.ProductPrice(product, plan)
	if !ok {
		return nil
	}
	return []models.CartItem{{Product: product, PlanDays: plan, Price: price}}
}
