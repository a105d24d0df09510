package flow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/herbalis/salesbot/internal/genai"
	"github.com/herbalis/salesbot/internal/models"
)

// handleStep runs the scripted logic for the current funnel stage.
func (e *Engine) handleStep(ctx context.Context, state *models.ConversationState, text string) (bool, error) {
	switch state.Step {
	case models.StepGreeting:
		return e.handleGreeting(ctx, state)
	case models.StepWaitingWeight:
		return e.handleWaitingWeight(ctx, state, text)
	case models.StepWaitingPreference:
		return e.handleWaitingPreference(ctx, state, text)
	case models.StepWaitingPriceOK:
		return e.handleWaitingPriceOK(ctx, state, text)
	case models.StepWaitingPlanChoice:
		return e.handleWaitingPlanChoice(ctx, state, text)
	case models.StepWaitingOK:
		return e.handleWaitingOK(ctx, state, text)
	case models.StepWaitingData:
		return e.handleWaitingData(ctx, state, text)
	case models.StepWaitingAdminOK:
		return true, e.sendNode(ctx, state, "admin_hold")
	case models.StepWaitingFinalOK:
		return e.handleFinalConfirmation(ctx, state, text)
	case models.StepCompleted:
		return e.handleCompleted(ctx, state, text)
	}
	return false, nil
}

// sendNode sends a scripted node's response and follows its transition.
func (e *Engine) sendNode(ctx context.Context, state *models.ConversationState, key string) error {
	node, err := e.kb.Node(key)
	if err != nil {
		return err
	}
	e.send(ctx, state, node.Response)
	if node.NextStep != "" {
		state.TransitionTo(node.NextStep, e.clock.Now())
	}
	return nil
}

// productNodeKey maps a catalog product to its per-product script node.
func productNodeKey(prefix, product string) string {
	switch product {
	case models.ProductCapsulas:
		return prefix + "_capsulas"
	case models.ProductSemillas:
		return prefix + "_semillas"
	case models.ProductGotas:
		return prefix + "_gotas"
	}
	return ""
}

func (e *Engine) handleGreeting(ctx context.Context, state *models.ConversationState) (bool, error) {
	return true, e.sendNode(ctx, state, "greeting")
}

// handleWaitingWeight advances on an explicit number, jumps straight to a
// product preference when one is mentioned, skips ahead after repeated
// refusals, and only then asks the AI whether an implicit goal was given.
func (e *Engine) handleWaitingWeight(ctx context.Context, state *models.ConversationState, text string) (bool, error) {
	if _, ok := extractNumber(text); ok {
		return true, e.sendNode(ctx, state, "recommendation")
	}
	if product := models.MatchProduct(text); product != "" {
		return e.selectProduct(ctx, state, product)
	}
	state.WeightRefusals++
	if isWeightRefusal(text) || state.WeightRefusals >= 2 {
		e.logger.Info("Engine.handleWaitingWeight: skipping to preference after refusals", "phone", state.Phone)
		return true, e.sendNode(ctx, state, "recommendation")
	}

	res := e.aiChat(ctx, state, text, "Saber cuántos kilos quiere bajar el cliente, o qué producto le interesa.")
	if res.GoalMet {
		state.WeightRefusals = 0
		return true, e.sendNode(ctx, state, "recommendation")
	}
	e.sendUnlessRepeat(ctx, state, res.Response)
	return true, nil
}

// selectProduct records the preference and sends the product pitch.
func (e *Engine) selectProduct(ctx context.Context, state *models.ConversationState, product string) (bool, error) {
	state.SelectedProduct = product
	key := productNodeKey("preference", product)
	if key == "" {
		return false, fmt.Errorf("no preference node for product %q", product)
	}
	return true, e.sendNode(ctx, state, key)
}

func (e *Engine) handleWaitingPreference(ctx context.Context, state *models.ConversationState, text string) (bool, error) {
	if product := models.MatchProduct(text); product != "" {
		return e.selectProduct(ctx, state, product)
	}

	res := e.aiChat(ctx, state, text, "Saber qué presentación quiere el cliente: Cápsulas, Semillas o Gotas.")
	if res.ExtractedData != nil {
		if product := models.MatchProduct(*res.ExtractedData); product != "" {
			return e.selectProduct(ctx, state, product)
		}
	}
	e.sendUnlessRepeat(ctx, state, res.Response)
	return true, nil
}

func (e *Engine) handleWaitingPriceOK(ctx context.Context, state *models.ConversationState, text string) (bool, error) {
	if asksForPrice(text) || isAffirmative(text) {
		key := productNodeKey("price", state.SelectedProduct)
		if key == "" {
			// No product chosen yet: the price question answers itself by
			// walking back one step.
			return true, e.sendNode(ctx, state, "recommendation")
		}
		return true, e.sendNode(ctx, state, key)
	}
	if isNegative(text) {
		e.pauseAndAlert(ctx, state, "🙅 Cliente rechazó ver precios", text)
		return true, nil
	}

	res := e.aiChat(ctx, state, text, "Que el cliente quiera ver los precios de los planes.")
	if res.GoalMet {
		if key := productNodeKey("price", state.SelectedProduct); key != "" {
			return true, e.sendNode(ctx, state, key)
		}
	}
	e.sendUnlessRepeat(ctx, state, res.Response)
	return true, nil
}

// handleWaitingPlanChoice parses single and mixed-cart plan selections.
// The AI fallback may report a mid-step product switch via the
// CHANGE_PRODUCT marker in its extracted data.
func (e *Engine) handleWaitingPlanChoice(ctx context.Context, state *models.ConversationState, text string) (bool, error) {
	if cart := parseCart(text, state.SelectedProduct); len(cart) > 0 {
		applyCart(state, cart)
		return true, e.sendNode(ctx, state, "closing")
	}

	if product := models.MatchProduct(text); wantsProductChange(text, state.SelectedProduct, product) {
		state.SelectedProduct = product
		if key := productNodeKey("price", product); key != "" {
			return true, e.sendNode(ctx, state, key)
		}
	}

	res := e.aiChat(ctx, state, text, "Que el cliente elija el plan de 60 o el de 120 días.")
	if res.ExtractedData != nil {
		if rest, ok := strings.CutPrefix(*res.ExtractedData, "CHANGE_PRODUCT:"); ok {
			if product := models.MatchProduct(rest); product != "" && product != state.SelectedProduct {
				state.SelectedProduct = product
				e.logger.Info("Engine.handleWaitingPlanChoice: product changed mid-step",
					"phone", state.Phone, "product", product)
				if key := productNodeKey("price", product); key != "" {
					return true, e.sendNode(ctx, state, key)
				}
			}
		}
	}
	e.sendUnlessRepeat(ctx, state, res.Response)
	return true, nil
}

func (e *Engine) handleWaitingOK(ctx context.Context, state *models.ConversationState, text string) (bool, error) {
	if isPickupRequest(text) {
		e.pauseAndAlert(ctx, state, "🏪 Cliente pide retiro en persona", text)
		return true, nil
	}
	if isQuestion(text) {
		res := e.aiChat(ctx, state, text, "Que el cliente confirme que quiere avanzar con el pedido.")
		e.sendUnlessRepeat(ctx, state, res.Response)
		return true, nil
	}
	if isAffirmative(text) {
		return true, e.sendNode(ctx, state, "data_request")
	}
	if isNegative(text) {
		e.pauseAndAlert(ctx, state, "🙅 Cliente rechazó el pedido", text)
		return true, nil
	}

	res := e.aiChat(ctx, state, text, "Que el cliente confirme que quiere avanzar con el pedido.")
	if res.GoalMet {
		return true, e.sendNode(ctx, state, "data_request")
	}
	e.sendUnlessRepeat(ctx, state, res.Response)
	return true, nil
}

const maxAddressAttempts = 3

// handleWaitingData accumulates delivery data across turns. It cannot run
// without a chosen product and plan; when those are missing the user is
// redirected to the right earlier step instead.
func (e *Engine) handleWaitingData(ctx context.Context, state *models.ConversationState, text string) (bool, error) {
	if state.SelectedProduct == "" {
		e.logger.Warn("Engine.handleWaitingData: no product selected, redirecting", "phone", state.Phone)
		return true, e.sendNode(ctx, state, "recommendation")
	}
	if state.SelectedPlan == 0 && len(state.Cart) == 0 {
		e.logger.Warn("Engine.handleWaitingData: no plan selected, redirecting", "phone", state.Phone)
		return true, e.sendNode(ctx, state, productNodeKey("price", state.SelectedProduct))
	}

	if product := models.MatchProduct(text); wantsProductChange(text, state.SelectedProduct, product) {
		state.SelectedProduct = product
		state.Cart = nil
		state.SelectedPlan = 0
		return true, e.sendNode(ctx, state, productNodeKey("price", product))
	}

	if !looksLikeAddress(text) {
		res := e.aiChat(ctx, state, text, "Que el cliente pase sus datos de envío: nombre, calle y número, ciudad y código postal.")
		e.sendUnlessRepeat(ctx, state, res.Response)
		return true, nil
	}

	extracted, err := e.model.ExtractAddress(ctx, text)
	if err != nil {
		return false, fmt.Errorf("address extraction: %w", err)
	}
	if state.PartialAddress == nil {
		state.PartialAddress = &models.PartialAddress{}
	}
	state.PartialAddress.Merge(extracted)
	state.AddressAttempts++

	if !state.PartialAddress.Complete() {
		if state.AddressAttempts >= maxAddressAttempts {
			e.pauseAndAlert(ctx, state, "📋 No pude tomar los datos de envío", text)
			return true, nil
		}
		e.send(ctx, state, "¡Gracias! Ya tengo algunos datos 🙌 Solo me falta: *"+strings.Join(missingFields(state.PartialAddress), ", ")+"*. ¿Me los pasás?")
		return true, nil
	}

	result := e.validator.Validate(ctx, *state.PartialAddress)
	if !result.CPValid && state.PartialAddress.PostalCode != nil {
		if state.AddressAttempts >= maxAddressAttempts {
			e.pauseAndAlert(ctx, state, "📋 Código postal inválido tras varios intentos", text)
			return true, nil
		}
		state.PartialAddress.PostalCode = nil
		e.send(ctx, state, "El código postal no me figura como válido 🤔 ¿Me lo pasás de nuevo? Son 4 números, por ejemplo 1425.")
		return true, nil
	}
	if result.Province != "" && state.PartialAddress.Province == nil {
		state.PartialAddress.Province = &result.Province
	}
	if result.MapsValid != nil && !*result.MapsValid {
		e.logger.Warn("Engine.handleWaitingData: geocoder could not confirm address",
			"phone", state.Phone, "warnings", strings.Join(result.Warnings, "; "))
	}

	e.finishDataCollection(ctx, state)
	return true, nil
}

// finishDataCollection prices the cart, snapshots the pending order, and
// parks the conversation for human review.
func (e *Engine) finishDataCollection(ctx context.Context, state *models.ConversationState) {
	if len(state.Cart) == 0 {
		state.Cart = singleItemCart(state.SelectedProduct, state.SelectedPlan)
	}
	total, surcharge := models.CartTotal(state.Cart)
	state.TotalPrice = total
	state.AdicionalMAX = surcharge
	state.ContraMAX = surcharge > 0
	if state.PartialAddress != nil && state.PartialAddress.Name != nil && state.Name == "" {
		state.Name = *state.PartialAddress.Name
	}

	state.PendingOrder = &models.PendingOrder{
		Cart:      append([]models.CartItem(nil), state.Cart...),
		Address:   *state.PartialAddress,
		Total:     total,
		CreatedAt: e.clock.Now(),
	}
	state.TransitionTo(models.StepWaitingAdminOK, e.clock.Now())

	e.send(ctx, state, "¡Listo, ya tengo todo! 😊 Te confirmo el despacho en un ratito.")
	if e.alerts != nil {
		e.alerts.Raise("🛒 Pedido listo para revisar", state.Phone, state.Name,
			OrderDetails(state), state.PendingOrder, nil)
	}
}

// missingFields lists the still-empty address fields in customer wording.
func missingFields(a *models.PartialAddress) []string {
	var missing []string
	if a.Name == nil || *a.Name == "" {
		missing = append(missing, "nombre completo")
	}
	if a.Street == nil || *a.Street == "" {
		missing = append(missing, "calle y número")
	}
	if a.City == nil || *a.City == "" {
		missing = append(missing, "ciudad")
	}
	if a.PostalCode == nil || *a.PostalCode == "" {
		missing = append(missing, "código postal")
	}
	return missing
}

// handleFinalConfirmation closes the sale. A deferred-delivery date takes
// priority over a plain yes; anything unrecognized still finalizes the
// order but flags it for manual review, so a sale is never dropped here.
func (e *Engine) handleFinalConfirmation(ctx context.Context, state *models.ConversationState, text string) (bool, error) {
	if date, ok := postdatedDate(text); ok {
		state.Postdated = date
		e.finalizeOrder(ctx, state, models.OrderStatusPostdated)
		e.send(ctx, state, "¡Anotado! 📌 Postdatamos el despacho para que te llegue a partir del "+date+". Cuando lo despachemos te pasamos el código de seguimiento. ¡Gracias por confiar en Herbalis! 🌱")
		return true, nil
	}
	if isAffirmative(text) {
		e.finalizeOrder(ctx, state, models.OrderStatusPending)
		e.send(ctx, state, "¡Excelente! Tu pedido ya fue ingresado 🚀 En las próximas 24/48hs hábiles te enviamos el código de seguimiento. ¡Gracias por confiar en Herbalis! 🌱")
		return true, nil
	}

	e.finalizeOrder(ctx, state, models.OrderStatusPending)
	e.send(ctx, state, "¡Gracias! Tu pedido quedó registrado 🙌 Cualquier detalle te escribimos por acá.")
	if e.alerts != nil {
		e.alerts.Raise("⚠️ Respuesta inesperada en confirmación final", state.Phone, state.Name,
			"Mensaje: "+text+"\nEl pedido se registró igual; revisar manualmente.", state.PendingOrder, nil)
	}
	return true, nil
}

// finalizeOrder records the order in the ledger and moves to post-sale.
func (e *Engine) finalizeOrder(ctx context.Context, state *models.ConversationState, status models.OrderStatus) {
	order := OrderFromState(state, status, e.clock.Now())
	if e.orders != nil {
		e.orders.Append(order)
	}
	state.TransitionTo(models.StepCompleted, e.clock.Now())
	e.logger.Info("Engine.finalizeOrder: order recorded",
		"phone", state.Phone, "order", order.ID, "status", status, "total", order.Total)
}

// OrderFromState builds the durable order record from a conversation. The
// scheduler's auto-approve pass uses it as well.
func OrderFromState(state *models.ConversationState, status models.OrderStatus, now time.Time) models.Order {
	order := models.Order{
		ID:        uuid.NewString(),
		UserPhone: state.Phone,
		UserName:  state.Name,
		Cart:      append([]models.CartItem(nil), state.Cart...),
		Total:     state.TotalPrice,
		Status:    status,
		Postdated: state.Postdated,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if state.PendingOrder != nil {
		order.Cart = append([]models.CartItem(nil), state.PendingOrder.Cart...)
		order.Address = state.PendingOrder.Address
		order.Total = state.PendingOrder.Total
	}
	return order
}

// handleCompleted is post-sale mode: the customer already paid for service
// so nothing here pauses the bot.
func (e *Engine) handleCompleted(ctx context.Context, state *models.ConversationState, text string) (bool, error) {
	action, err := e.model.ClassifyPostSale(ctx, text, state.History)
	if err != nil {
		e.logger.Warn("Engine.handleCompleted: classification failed", "phone", state.Phone, "error", err)
		action = genai.PostSaleGeneral
	}

	switch action {
	case genai.PostSaleShipping:
		e.send(ctx, state, "Tu pedido viaja por Correo Argentino y demora entre 7 y 10 días hábiles desde el despacho 📦 Apenas tengamos el código de seguimiento te lo pasamos por acá.")
	case genai.PostSaleNeedAdmin:
		e.send(ctx, state, "Ya le paso tu consulta a mi compañero para que te responda personalmente 🙏")
		if e.alerts != nil {
			e.alerts.Raise("📮 Cliente post-venta necesita atención", state.Phone, state.Name, text, nil, nil)
		}
	case genai.PostSaleRePurchase:
		state.ResetOrderFields()
		state.TransitionTo(models.StepWaitingPreference, e.clock.Now())
		e.send(ctx, state, "¡Qué bueno que quieras volver a pedir! 😊 ¿Con qué presentación avanzamos esta vez: Cápsulas, Semillas o Gotas?")
	default:
		res := e.aiChat(ctx, state, text, "Atender amablemente a un cliente que ya completó su compra.")
		e.sendUnlessRepeat(ctx, state, res.Response)
	}
	return true, nil
}
