package knowledge

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/herbalis/salesbot/internal/models"
)

func TestFormatPrice(t *testing.T) {
	tests := []struct {
		in   int
		want string
	}{
		{0, "0"},
		{900, "900"},
		{6000, "6.000"},
		{46900, "46.900"},
		{109800, "109.800"},
		{1234567, "1.234.567"},
	}
	for _, tt := range tests {
		if got := FormatPrice(tt.in); got != tt.want {
			t.Errorf("FormatPrice(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLoadEmbeddedDefault(t *testing.T) {
	s, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	greeting, err := s.Node("greeting")
	if err != nil {
		t.Fatalf("Node(greeting): %v", err)
	}
	if greeting.NextStep != models.StepWaitingWeight {
		t.Errorf("greeting.NextStep = %q", greeting.NextStep)
	}

	// Placeholders must be substituted with formatted catalog prices.
	price, err := s.Node("price_capsulas")
	if err != nil {
		t.Fatalf("Node(price_capsulas): %v", err)
	}
	if strings.Contains(price.Response, "{{") {
		t.Errorf("unsubstituted placeholder in %q", price.Response)
	}
	if !strings.Contains(price.Response, "46.900") || !strings.Contains(price.Response, "66.900") {
		t.Errorf("capsule prices missing from %q", price.Response)
	}

	if _, err := s.Node("no_such_node"); err == nil {
		t.Error("unknown node must return an error")
	}
}

func TestMatchFAQOrderAndCase(t *testing.T) {
	s, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	faq, ok := s.MatchFAQ("Hola, ¿CUÁNTO TARDA en llegar?")
	if !ok {
		t.Fatal("shipping FAQ should match")
	}
	if !strings.Contains(faq.Response, "Correo Argentino") {
		t.Errorf("unexpected FAQ: %q", faq.Response)
	}
	if _, ok := s.MatchFAQ("mensaje sin coincidencias"); ok {
		t.Error("unrelated text must not match any FAQ")
	}
}

func TestRedirects(t *testing.T) {
	s, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Redirect(models.StepWaitingPlanChoice) == "" {
		t.Error("plan-choice redirect missing")
	}
	if s.Redirect(models.StepCompleted) != "" {
		t.Error("completed step should have no redirect")
	}
}

func TestReplacePersistsAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "knowledge.json")

	s, err := Load(path) // file absent, embedded default
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	edited := s.Snapshot()
	node := edited.Flow["greeting"]
	node.Response = "¡Hola! Script editado."
	edited.Flow["greeting"] = node
	if err := s.Replace(edited); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("persisted file missing: %v", err)
	}
	var onDisk Base
	if err := json.Unmarshal(data, &onDisk); err != nil {
		t.Fatalf("persisted file not valid JSON: %v", err)
	}
	if onDisk.Flow["greeting"].Response != "¡Hola! Script editado." {
		t.Error("edit not persisted")
	}

	// Reload must see the edit.
	s2, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	g, _ := s2.Node("greeting")
	if g.Response != "¡Hola! Script editado." {
		t.Error("reload did not pick up the edit")
	}

	if err := s.Replace(Base{}); err == nil {
		t.Error("empty document must be rejected")
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	s, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	snap := s.Snapshot()
	node := snap.Flow["greeting"]
	node.Response = "mutado"
	snap.Flow["greeting"] = node

	g, _ := s.Node("greeting")
	if g.Response == "mutado" {
		t.Error("Snapshot must not alias internal state")
	}
}
