package flow

import (
	"regexp"
	"strconv"
	"strings"
)

// The yes/no classifiers are intentionally conservative: anything with a
// question mark, more than six words, or hedging vocabulary is left for
// the AI to interpret instead of being force-classified.

var affirmativeTokens = map[string]bool{
	"si": true, "sí": true, "sisi": true, "sii": true,
	"dale": true, "ok": true, "oka": true, "okey": true,
	"bueno": true, "listo": true, "genial": true, "perfecto": true,
	"obvio": true, "claro": true, "confirmo": true, "quiero": true,
	"avancemos": true, "de una": true, "dale si": true,
}

var negativeTokens = map[string]bool{
	"no": true, "nop": true, "nah": true, "no gracias": true,
	"no quiero": true, "mejor no": true, "paso": true,
}

var hedgingWords = []string{
	"pero", "no se", "no sé", "nose", "primero", "duda", "dudas",
	"despues", "después", "luego", "capaz", "quizas", "quizás",
	"depende", "todavia", "todavía",
}

func normalizeShort(text string) string {
	s := strings.ToLower(strings.TrimSpace(text))
	return strings.Trim(s, "!¡.…, ")
}

func isAmbiguous(text string) bool {
	if strings.Contains(text, "?") || strings.Contains(text, "¿") {
		return true
	}
	if len(strings.Fields(text)) > 6 {
		return true
	}
	lower := strings.ToLower(text)
	for _, h := range hedgingWords {
		if strings.Contains(lower, h) {
			return true
		}
	}
	return false
}

// isAffirmative reports a confident yes. Ambiguous input never classifies.
func isAffirmative(text string) bool {
	if isAmbiguous(text) {
		return false
	}
	return affirmativeTokens[normalizeShort(text)]
}

// isNegative reports a confident no.
func isNegative(text string) bool {
	if isAmbiguous(text) {
		return false
	}
	return negativeTokens[normalizeShort(text)]
}

func isQuestion(text string) bool {
	return strings.Contains(text, "?") || strings.Contains(text, "¿")
}

var numberRe = regexp.MustCompile(`\d+`)

// extractNumber returns the first integer in the text.
func extractNumber(text string) (int, bool) {
	m := numberRe.FindString(text)
	if m == "" {
		return 0, false
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return 0, false
	}
	return n, true
}

var weightRefusalRe = regexp.MustCompile(`(?i)(no\s+s[eé]\b|prefiero no|no te (lo )?digo|no quiero decir|mucho|bastante|un poco|la panza)`)

// isWeightRefusal matches vague or evasive answers to the weight question.
func isWeightRefusal(text string) bool {
	return weightRefusalRe.MatchString(text)
}

// Safety interrupt vocabulary: minors, pregnancy, breastfeeding.
var safetyRiskRe = regexp.MustCompile(`(?i)(embaraz|lactancia|amamant|menor de edad|mi hij[oa]|para mi hij|niñ[oa]s?\b)`)

var ageRe = regexp.MustCompile(`(?i)\b(?:tengo|tiene|teng[oa]\s+yo)\s+(\d{1,2})\s*años`)

var adultRe = regexp.MustCompile(`(?i)(mayor de edad|soy adult[oa]|es adult[oa]|ya es mayor)`)

// disclosedAge extracts an explicit "tengo/tiene NN años" statement.
func disclosedAge(text string) (int, bool) {
	m := ageRe.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	age, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return age, true
}

// isAdultDisclosure reports an explicit statement that the consumer is an
// adult, which permanently resolves the safety interrupt.
func isAdultDisclosure(text string) bool {
	if age, ok := disclosedAge(text); ok {
		return age >= 18
	}
	return adultRe.MatchString(text)
}

// isSafetyRisk reports vocabulary that must preempt normal step logic.
func isSafetyRisk(text string) bool {
	if age, ok := disclosedAge(text); ok && age < 18 {
		return true
	}
	return safetyRiskRe.MatchString(text)
}

var deliveryDayRe = regexp.MustCompile(`(?i)\b(lunes|martes|mi[eé]rcoles|jueves|viernes|s[aá]bado|domingo|fin de semana)\b`)

var deliveryIntentRe = regexp.MustCompile(`(?i)(lleg|entrega|entregan|recib|env[ií]|despach|correo|reparto)`)

// asksForDeliveryDay matches questions about receiving on a specific day
// of the week, which the courier cannot guarantee.
func asksForDeliveryDay(text string) bool {
	return deliveryDayRe.MatchString(text) && deliveryIntentRe.MatchString(text)
}

// Postdated delivery: a day number plus a Spanish month name.
var postdatedRe = regexp.MustCompile(`(?i)\b(\d{1,2})\s*(?:de\s+|del\s+)?(enero|febrero|marzo|abril|mayo|junio|julio|agosto|septiembre|setiembre|octubre|noviembre|diciembre)\b`)

// postdatedDate extracts a deferred-delivery date mention, e.g. "15 de marzo".
func postdatedDate(text string) (string, bool) {
	m := postdatedRe.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1] + " de " + strings.ToLower(m[2]), true
}

var pickupRe = regexp.MustCompile(`(?i)(retir|sucursal|pasar a buscar|ir a buscar|punto de entrega|local)`)

// isPickupRequest matches customers asking to pick up instead of receiving
// a shipment; there is no pickup option, so a human takes over.
func isPickupRequest(text string) bool {
	return pickupRe.MatchString(text)
}

var changeProductRe = regexp.MustCompile(`(?i)(mejor|cambi|en vez de|prefiero|quiero las?|pasame? a)`)

// wantsProductChange matches mid-funnel product switches combined with a
// concrete product mention.
func wantsProductChange(text, currentProduct string, mentioned string) bool {
	if mentioned == "" || mentioned == currentProduct {
		return false
	}
	return changeProductRe.MatchString(text)
}

var priceIntentRe = regexp.MustCompile(`(?i)(precio|sale|cuesta|cu[aá]nto|valor|pasame los planes)`)

func asksForPrice(text string) bool {
	return priceIntentRe.MatchString(text)
}

var streetHintRe = regexp.MustCompile(`(?i)\b(calle|av\.?|avenida|pasaje|ruta|barrio|manzana|casa|piso|depto|dpto|km)\b`)

// looksLikeAddress distinguishes address-shaped text (digits, street
// keywords, or comma-separated segments) from questions and objections.
func looksLikeAddress(text string) bool {
	if isQuestion(text) {
		return false
	}
	if numberRe.MatchString(text) {
		return true
	}
	if streetHintRe.MatchString(text) {
		return true
	}
	return strings.Count(text, ",") >= 2
}
