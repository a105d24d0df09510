// Package knowledge holds the externally editable conversation script: the
// per-step flow nodes, the FAQ list, and the step redirect nudges. The
// engine reads it as configuration; edits arrive through the dashboard and
// are persisted with an atomic write.
package knowledge

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/herbalis/salesbot/internal/models"
)

//go:embed default_knowledge.json
var defaultKnowledge []byte

// FlowNode is one scripted step: the response to send, where to go next,
// and the keywords that match it (for preference-style nodes).
type FlowNode struct {
	Response string      `json:"response"`
	NextStep models.Step `json:"nextStep,omitempty"`
	Match    []string    `json:"match,omitempty"`
}

// FAQ is a globally matched question with an optional forced step change.
type FAQ struct {
	Keywords    []string    `json:"keywords"`
	Response    string      `json:"response"`
	TriggerStep models.Step `json:"triggerStep,omitempty"`
}

// Base is the full knowledge document.
type Base struct {
	Flow      map[string]FlowNode    `json:"flow"`
	FAQ       []FAQ                  `json:"faq"`
	Redirects map[models.Step]string `json:"redirects,omitempty"`
}

// Store owns the knowledge document and its persistence path.
type Store struct {
	mu   sync.RWMutex
	base Base
	path string
}

// Load reads the knowledge base from path, falling back to the embedded
// default when the file does not exist. Price placeholders like
// {{PRICE_CAPSULAS_60}} are substituted from the catalog on load.
func Load(path string) (*Store, error) {
	raw := defaultKnowledge
	if path != "" {
		if data, err := os.ReadFile(path); err == nil {
			raw = data
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read knowledge file: %w", err)
		}
	}

	var base Base
	if err := json.Unmarshal([]byte(substitutePrices(string(raw))), &base); err != nil {
		return nil, fmt.Errorf("failed to parse knowledge base: %w", err)
	}
	if len(base.Flow) == 0 {
		return nil, fmt.Errorf("knowledge base has no flow nodes")
	}
	return &Store{base: base, path: path}, nil
}

// substitutePrices replaces {{PRICE_<PRODUCT>_<PLAN>}} placeholders with
// formatted catalog prices, plus the surcharge and logistics constants.
func substitutePrices(s string) string {
	pairs := []struct{ tag, product string }{
		{"CAPSULAS", models.ProductCapsulas},
		{"SEMILLAS", models.ProductSemillas},
		{"GOTAS", models.ProductGotas},
	}
	for _, p := range pairs {
		for _, plan := range []int{models.Plan60, models.Plan120} {
			if price, ok := models.ProductPrice(p.product, plan); ok {
				tag := fmt.Sprintf("{{PRICE_%s_%d}}", p.tag, plan)
				s = strings.ReplaceAll(s, tag, FormatPrice(price))
			}
		}
	}
	s = strings.ReplaceAll(s, "{{ADICIONAL_MAX}}", FormatPrice(models.AdicionalMAXAmount))
	s = strings.ReplaceAll(s, "{{COSTO_LOGISTICO}}", FormatPrice(models.CostoLogistico))
	return s
}

// FormatPrice renders pesos with a dot thousands separator ("46.900").
func FormatPrice(amount int) string {
	digits := fmt.Sprintf("%d", amount)
	if len(digits) <= 3 {
		return digits
	}
	var sb strings.Builder
	lead := len(digits) % 3
	if lead > 0 {
		sb.WriteString(digits[:lead])
	}
	for i := lead; i < len(digits); i += 3 {
		if sb.Len() > 0 {
			sb.WriteString(".")
		}
		sb.WriteString(digits[i : i+3])
	}
	return sb.String()
}

// Node returns the flow node for a script key.
func (s *Store) Node(key string) (FlowNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	node, ok := s.base.Flow[key]
	if !ok {
		return FlowNode{}, fmt.Errorf("%w: %s", models.ErrKnowledgeStepNotFound, key)
	}
	return node, nil
}

// MatchFAQ returns the first FAQ whose keywords appear in the lower-cased
// text; list order decides ties.
func (s *Store) MatchFAQ(text string) (FAQ, bool) {
	lower := strings.ToLower(text)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, faq := range s.base.FAQ {
		for _, kw := range faq.Keywords {
			if strings.Contains(lower, kw) {
				return faq, true
			}
		}
	}
	return FAQ{}, false
}

// Redirect returns the nudge phrase that pulls a conversation back to its
// current step after an FAQ detour.
func (s *Store) Redirect(step models.Step) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.base.Redirects[step]
}

// Snapshot returns a deep copy of the document for the dashboard editor.
func (s *Store) Snapshot() Base {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := Base{
		Flow:      make(map[string]FlowNode, len(s.base.Flow)),
		FAQ:       append([]FAQ(nil), s.base.FAQ...),
		Redirects: make(map[models.Step]string, len(s.base.Redirects)),
	}
	for k, v := range s.base.Flow {
		out.Flow[k] = v
	}
	for k, v := range s.base.Redirects {
		out.Redirects[k] = v
	}
	return out
}

// Replace swaps in an edited document and persists it atomically: the new
// content is written to a temp file and renamed over the original, so a
// crash never leaves a half-written script.
func (s *Store) Replace(base Base) error {
	if len(base.Flow) == 0 {
		return fmt.Errorf("refusing to save knowledge base with no flow nodes")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.base = base
	if s.path == "" {
		return nil
	}

	data, err := json.MarshalIndent(base, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal knowledge base: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".knowledge-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp knowledge file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write temp knowledge file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close temp knowledge file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace knowledge file: %w", err)
	}
	return nil
}
