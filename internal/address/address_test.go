package address

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/herbalis/salesbot/internal/models"
)

func strPtr(s string) *string { return &s }

func TestValidateCP(t *testing.T) {
	tests := []struct {
		name     string
		cp       string
		valid    bool
		cleaned  string
		province string
	}{
		{"CABA", "1425", true, "1425", "Buenos Aires / CABA"},
		{"Santa Fe", "2000", true, "2000", "Santa Fe"},
		{"CPA format with letters", "X5000ABC", true, "5000", "Córdoba / San Luis / Mendoza"},
		{"spaces stripped", " 7600 ", true, "7600", "Buenos Aires (Costa / Sur)"},
		{"upper bound", "9999", true, "9999", "Chubut / Santa Cruz / Tierra del Fuego"},
		{"lower bound", "1000", true, "1000", "Buenos Aires / CABA"},
		{"too short", "123", false, "", ""},
		{"too long", "12345", false, "", ""},
		{"below range", "0999", false, "", ""},
		{"empty", "", false, "", ""},
		{"letters only", "abcd", false, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ValidateCP(tt.cp)
			if got.Valid != tt.valid {
				t.Fatalf("ValidateCP(%q).Valid = %v, want %v (%s)", tt.cp, got.Valid, tt.valid, got.Err)
			}
			if !tt.valid {
				if got.Err == "" {
					t.Error("invalid CP must carry an error message")
				}
				return
			}
			if got.Cleaned != tt.cleaned || got.Province != tt.province {
				t.Errorf("ValidateCP(%q) = (%q, %q), want (%q, %q)", tt.cp, got.Cleaned, got.Province, tt.cleaned, tt.province)
			}
		})
	}
}

// Every valid 4-digit code must map to exactly one province band.
func TestProvinceLookupIsTotal(t *testing.T) {
	for n := 1000; n <= 9999; n++ {
		res := ValidateCP(fmt.Sprintf("%04d", n))
		if !res.Valid {
			t.Fatalf("CP %d unexpectedly invalid: %s", n, res.Err)
		}
		if res.Province == "" || res.Province == "Desconocida" {
			t.Fatalf("CP %d has no province band", n)
		}
	}
}

type fakeGeocoder struct {
	result GeocodeResult
	err    error
	calls  int
}

func (f *fakeGeocoder) Geocode(ctx context.Context, address string) (GeocodeResult, error) {
	f.calls++
	return f.result, f.err
}

func TestValidatePipeline(t *testing.T) {
	addr := models.PartialAddress{
		Street:     strPtr("Av. Mitre 120"),
		City:       strPtr("Rosario"),
		PostalCode: strPtr("2000"),
	}

	t.Run("geocoder confirms", func(t *testing.T) {
		geo := &fakeGeocoder{result: GeocodeResult{Resolved: true, Formatted: "Av. Mitre 120, Rosario, Santa Fe, Argentina", CountryMatches: true}}
		res := NewValidator(geo, nil).Validate(context.Background(), addr)
		if !res.CPValid || res.Province != "Santa Fe" {
			t.Errorf("CP check failed: %+v", res)
		}
		if res.MapsValid == nil || !*res.MapsValid {
			t.Error("MapsValid should be true")
		}
		if geo.calls != 1 {
			t.Errorf("geocoder called %d times", geo.calls)
		}
	})

	t.Run("geocoder unavailable skips silently", func(t *testing.T) {
		geo := &fakeGeocoder{err: models.ErrGeocodeUnavailable}
		res := NewValidator(geo, nil).Validate(context.Background(), addr)
		if !res.CPValid {
			t.Error("CP should still validate")
		}
		if res.MapsValid != nil {
			t.Error("unavailable geocoder must leave MapsValid nil")
		}
		for _, w := range res.Warnings {
			if strings.Contains(w, "mapa") {
				t.Errorf("unavailable geocoder must not add a maps warning: %q", w)
			}
		}
	})

	t.Run("wrong country flags invalid", func(t *testing.T) {
		geo := &fakeGeocoder{result: GeocodeResult{Resolved: true, Formatted: "Somewhere, Chile", CountryMatches: false}}
		res := NewValidator(geo, nil).Validate(context.Background(), addr)
		if res.MapsValid == nil || *res.MapsValid {
			t.Error("address outside Argentina must flag MapsValid false")
		}
	})

	t.Run("not found flags invalid", func(t *testing.T) {
		geo := &fakeGeocoder{result: GeocodeResult{Resolved: false}}
		res := NewValidator(geo, nil).Validate(context.Background(), addr)
		if res.MapsValid == nil || *res.MapsValid {
			t.Error("unresolved address must flag MapsValid false")
		}
	})

	t.Run("nil geocoder skips secondary check", func(t *testing.T) {
		res := NewValidator(nil, nil).Validate(context.Background(), addr)
		if res.MapsValid != nil {
			t.Error("nil geocoder must leave MapsValid nil")
		}
	})

	t.Run("invalid CP adds warning without blocking", func(t *testing.T) {
		bad := models.PartialAddress{Street: strPtr("x"), City: strPtr("y"), PostalCode: strPtr("99")}
		res := NewValidator(nil, nil).Validate(context.Background(), bad)
		if res.CPValid {
			t.Error("CP 99 must be invalid")
		}
		if len(res.Warnings) == 0 {
			t.Error("invalid CP must add a warning")
		}
	})

	t.Run("missing CP adds warning", func(t *testing.T) {
		res := NewValidator(nil, nil).Validate(context.Background(), models.PartialAddress{Street: strPtr("x"), City: strPtr("y")})
		if len(res.Warnings) != 1 {
			t.Errorf("missing CP warnings = %v", res.Warnings)
		}
	})
}
