package genai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/shared"

	"github.com/herbalis/salesbot/internal/models"
)

// ChatResult is the structured contract every conversational call returns.
// Malformed model output degrades to {Response: rawText, GoalMet: false}.
type ChatResult struct {
	Response      string  `json:"respuesta"`
	GoalMet       bool    `json:"goalMet"`
	ExtractedData *string `json:"extractedData"`
}

// historyMessages converts transcript entries to chat messages. Admin and
// system entries become system messages so operator guidance steers the
// model without appearing as customer turns.
func historyMessages(history []models.HistoryEntry) []openai.ChatCompletionMessageParamUnion {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(history))
	for _, h := range history {
		switch h.Role {
		case models.RoleUser:
			msgs = append(msgs, openai.UserMessage(h.Content))
		case models.RoleBot:
			msgs = append(msgs, openai.AssistantMessage(h.Content))
		default:
			msgs = append(msgs, openai.SystemMessage(h.Content))
		}
	}
	return msgs
}

// Chat asks the model to answer the customer while pursuing a goal. The
// reply is requested as JSON {respuesta, goalMet, extractedData}; when the
// model ignores the format the raw text is returned with GoalMet false.
func (c *Client) Chat(ctx context.Context, systemPrompt, goal string, history []models.HistoryEntry, userMessage string) (ChatResult, error) {
	var sb strings.Builder
	sb.WriteString(systemPrompt)
	if goal != "" {
		sb.WriteString("\n\nObjetivo actual: ")
		sb.WriteString(goal)
	}
	sb.WriteString("\n\nRespondé SOLO con un objeto JSON: " +
		`{"respuesta": "<texto para el cliente>", "goalMet": <true|false>, "extractedData": <string|null>}`)

	msgs := []openai.ChatCompletionMessageParamUnion{openai.SystemMessage(sb.String())}
	msgs = append(msgs, historyMessages(history)...)
	msgs = append(msgs, openai.UserMessage(userMessage))

	cacheKey := sb.String() + "|" + flattenHistory(history) + "|" + userMessage
	raw, err := c.invoke(ctx, cacheKey, func(ctx context.Context) (string, error) {
		return c.completion(ctx, openai.ChatCompletionNewParams{
			Model:    c.model,
			Messages: msgs,
			ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
				OfJSONObject: openai.Ptr(shared.NewResponseFormatJSONObjectParam()),
			},
		})
	})
	if err != nil {
		return ChatResult{}, err
	}
	return parseChatResult(raw), nil
}

// parseChatResult decodes the structured reply, degrading gracefully.
func parseChatResult(raw string) ChatResult {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var res ChatResult
	if err := json.Unmarshal([]byte(cleaned), &res); err != nil || res.Response == "" {
		return ChatResult{Response: raw}
	}
	if res.ExtractedData != nil && strings.TrimSpace(*res.ExtractedData) == "" {
		res.ExtractedData = nil
	}
	return res
}

// extractedAddress is the model's address-extraction reply shape.
type extractedAddress struct {
	Nombre    *string `json:"nombre"`
	Calle     *string `json:"calle"`
	Ciudad    *string `json:"ciudad"`
	CP        *string `json:"cp"`
	Provincia *string `json:"provincia"`
}

// ExtractAddress pulls delivery-address fields out of free text. It
// returns (nil, nil) when the text contains no usable address data.
func (c *Client) ExtractAddress(ctx context.Context, text string) (*models.PartialAddress, error) {
	system := "Extraé los datos de envío del mensaje del cliente. Respondé SOLO con JSON: " +
		`{"nombre": <string|null>, "calle": <string|null>, "ciudad": <string|null>, "cp": <string|null>, "provincia": <string|null>}. ` +
		"Usá null para cada campo que no aparezca. Si el mensaje no contiene ningún dato de envío, respondé todos los campos en null."

	raw, err := c.invoke(ctx, "addr|"+text, func(ctx context.Context) (string, error) {
		return c.completion(ctx, openai.ChatCompletionNewParams{
			Model: c.model,
			Messages: []openai.ChatCompletionMessageParamUnion{
				openai.SystemMessage(system),
				openai.UserMessage(text),
			},
			ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
				OfJSONObject: openai.Ptr(shared.NewResponseFormatJSONObjectParam()),
			},
			Temperature: openai.Float(0),
		})
	})
	if err != nil {
		return nil, err
	}

	var ext extractedAddress
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &ext); err != nil {
		c.logger.Warn("Client.ExtractAddress: malformed extraction reply", "raw", raw)
		return nil, nil
	}
	addr := &models.PartialAddress{
		Name:       nonEmpty(ext.Nombre),
		Street:     nonEmpty(ext.Calle),
		City:       nonEmpty(ext.Ciudad),
		PostalCode: nonEmpty(ext.CP),
		Province:   nonEmpty(ext.Provincia),
	}
	if addr.Name == nil && addr.Street == nil && addr.City == nil && addr.PostalCode == nil && addr.Province == nil {
		return nil, nil
	}
	return addr, nil
}

func nonEmpty(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	return s
}

// TranscribeAudio converts a voice note to text with Whisper.
func (c *Client) TranscribeAudio(ctx context.Context, audio io.Reader) (string, error) {
	if c.audio == nil {
		return "", fmt.Errorf("Client.TranscribeAudio: transcription service not configured")
	}
	return c.invoke(ctx, "", func(ctx context.Context) (string, error) {
		resp, err := c.audio.New(ctx, openai.AudioTranscriptionNewParams{
			Model: openai.AudioModelWhisper1,
			File:  audio,
		})
		if err != nil {
			return "", err
		}
		return resp.Text, nil
	})
}

// Summarize condenses a transcript into a short digest used when history
// is compacted.
func (c *Client) Summarize(ctx context.Context, history []models.HistoryEntry) (string, error) {
	flat := flattenHistory(history)
	return c.invoke(ctx, "sum|"+flat, func(ctx context.Context) (string, error) {
		return c.completion(ctx, openai.ChatCompletionNewParams{
			Model: c.model,
			Messages: []openai.ChatCompletionMessageParamUnion{
				openai.SystemMessage("Resumí esta conversación de ventas en 2-3 oraciones. " +
					"Conservá: qué producto le interesa al cliente, qué plan, datos de envío mencionados, y objeciones pendientes."),
				openai.UserMessage(flat),
			},
			Temperature: openai.Float(0.2),
		})
	})
}

// RewriteSuggestion polishes a human operator's instruction into a message
// ready to send to the customer. On any model failure the raw instruction
// comes back unchanged, so an operator's intent is never lost.
func (c *Client) RewriteSuggestion(ctx context.Context, instruction string, history []models.HistoryEntry) string {
	msgs := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage("Sos un vendedor cordial por WhatsApp. Convertí la instrucción del supervisor " +
			"en un mensaje breve y natural para el cliente, en el mismo tono de la conversación. " +
			"Respondé solo con el texto del mensaje."),
	}
	msgs = append(msgs, historyMessages(history)...)
	msgs = append(msgs, openai.UserMessage("Instrucción del supervisor: "+instruction))

	out, err := c.invoke(ctx, "", func(ctx context.Context) (string, error) {
		return c.completion(ctx, openai.ChatCompletionNewParams{Model: c.model, Messages: msgs})
	})
	if err != nil {
		c.logger.Warn("Client.RewriteSuggestion: rewrite failed, relaying raw instruction", "error", err)
		return instruction
	}
	return strings.TrimSpace(out)
}

// PostSaleAction classifies a message from a customer who already completed
// a purchase.
type PostSaleAction string

const (
	PostSaleGeneral    PostSaleAction = "GENERAL"
	PostSaleShipping   PostSaleAction = "SHIPPING"
	PostSaleNeedAdmin  PostSaleAction = "NEED_ADMIN"
	PostSaleRePurchase PostSaleAction = "RE_PURCHASE"
)

// ClassifyPostSale decides how to handle a post-sale message. Unrecognized
// model output falls back to GENERAL so the customer always gets an answer.
func (c *Client) ClassifyPostSale(ctx context.Context, message string, history []models.HistoryEntry) (PostSaleAction, error) {
	msgs := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage("El cliente ya completó una compra. Clasificá su mensaje en una sola palabra:\n" +
			"GENERAL (saludo o charla), SHIPPING (pregunta por el envío o demora), " +
			"NEED_ADMIN (problema o reclamo que requiere una persona), RE_PURCHASE (quiere comprar de nuevo).\n" +
			"Respondé SOLO con la palabra."),
	}
	msgs = append(msgs, historyMessages(history)...)
	msgs = append(msgs, openai.UserMessage(message))

	raw, err := c.invoke(ctx, "", func(ctx context.Context) (string, error) {
		return c.completion(ctx, openai.ChatCompletionNewParams{
			Model:       c.model,
			Messages:    msgs,
			Temperature: openai.Float(0),
		})
	})
	if err != nil {
		return "", err
	}
	switch action := PostSaleAction(strings.ToUpper(strings.TrimSpace(raw))); action {
	case PostSaleGeneral, PostSaleShipping, PostSaleNeedAdmin, PostSaleRePurchase:
		return action, nil
	default:
		c.logger.Warn("Client.ClassifyPostSale: unrecognized classification", "raw", raw)
		return PostSaleGeneral, nil
	}
}

// SafetyReply produces the response for a safety-flagged message (minors,
// pregnancy, medical risk) without selling.
func (c *Client) SafetyReply(ctx context.Context, message string, history []models.HistoryEntry) (string, error) {
	msgs := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage("El mensaje del cliente menciona una posible situación de riesgo " +
			"(menor de edad, embarazo o condición médica). Respondé con empatía, aclarando que el producto " +
			"es solo para adultos sanos y que ante cualquier duda consulte a su médico. No intentes vender. " +
			"Si el cliente aclara que es mayor de edad, agradecé la aclaración. Respondé solo con el texto del mensaje."),
	}
	msgs = append(msgs, historyMessages(history)...)
	msgs = append(msgs, openai.UserMessage(message))

	return c.invoke(ctx, "", func(ctx context.Context) (string, error) {
		return c.completion(ctx, openai.ChatCompletionNewParams{Model: c.model, Messages: msgs})
	})
}

// DailyReport turns raw activity figures into a short operator digest.
func (c *Client) DailyReport(ctx context.Context, activity string) (string, error) {
	return c.invoke(ctx, "", func(ctx context.Context) (string, error) {
		return c.completion(ctx, openai.ChatCompletionNewParams{
			Model: c.model,
			Messages: []openai.ChatCompletionMessageParamUnion{
				openai.SystemMessage("Redactá un resumen ejecutivo breve (máximo 6 líneas) de la actividad " +
					"del día de un bot de ventas por WhatsApp, a partir de estos datos:"),
				openai.UserMessage(activity),
			},
		})
	})
}

func flattenHistory(history []models.HistoryEntry) string {
	var sb strings.Builder
	for _, h := range history {
		sb.WriteString(string(h.Role))
		sb.WriteString(": ")
		sb.WriteString(h.Content)
		sb.WriteString("\n")
	}
	return sb.String()
}
