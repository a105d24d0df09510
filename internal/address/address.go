// Package address validates Argentine delivery addresses: postal-code
// format and province inference, plus an optional geocoding cross-check.
//
// Validation is pure with respect to conversation state; a geocoding
// outage degrades to "unknown" rather than blocking the order.
package address

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/herbalis/salesbot/internal/models"
)

// cpBand maps a postal-code range to the provinces it covers.
type cpBand struct {
	min, max int
	province string
}

// Official Argentine CP ranges.
var cpBands = []cpBand{
	{1000, 1999, "Buenos Aires / CABA"},
	{2000, 2999, "Santa Fe"},
	{3000, 3699, "Entre Ríos / Corrientes / Misiones"},
	{3700, 3899, "Chaco / Formosa"},
	{4000, 4699, "Tucumán / Salta / Jujuy / Catamarca / Santiago del Estero"},
	{4700, 4999, "Catamarca / La Rioja"},
	{5000, 5999, "Córdoba / San Luis / Mendoza"},
	{6000, 6999, "Buenos Aires (Interior)"},
	{7000, 7999, "Buenos Aires (Costa / Sur)"},
	{8000, 8999, "Buenos Aires (Sur) / La Pampa / Neuquén / Río Negro"},
	{9000, 9999, "Chubut / Santa Cruz / Tierra del Fuego"},
}

// CPResult is the outcome of a postal-code check.
type CPResult struct {
	Valid    bool
	Cleaned  string
	Province string
	Err      string
}

// ValidateCP checks a 4-digit Argentine postal code. CPA-format values
// like "X5000ABC" are reduced to their digits before checking.
func ValidateCP(cp string) CPResult {
	if strings.TrimSpace(cp) == "" {
		return CPResult{Err: "no se proporcionó código postal"}
	}
	var b strings.Builder
	for _, r := range cp {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	cleaned := b.String()
	if len(cleaned) != 4 {
		return CPResult{Err: fmt.Sprintf("el CP debe tener 4 dígitos (recibí %q)", cp)}
	}
	num, _ := strconv.Atoi(cleaned)
	if num < 1000 {
		return CPResult{Err: fmt.Sprintf("CP fuera de rango: %d", num)}
	}
	for _, band := range cpBands {
		if num >= band.min && num <= band.max {
			return CPResult{Valid: true, Cleaned: cleaned, Province: band.province}
		}
	}
	// Unreachable for 4-digit values >= 1000; kept as a guard.
	return CPResult{Valid: true, Cleaned: cleaned, Province: "Desconocida"}
}

// GeocodeResult is the outcome of resolving an address with an external
// geocoder.
type GeocodeResult struct {
	Resolved       bool
	Formatted      string
	CountryMatches bool
}

// Geocoder resolves a free-form address string. Implementations return
// models.ErrGeocodeUnavailable when the service cannot answer at all;
// that condition must never be treated as an invalid address.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (GeocodeResult, error)
}

// Result is the outcome of the full validation pipeline.
type Result struct {
	CPValid       bool
	CPCleaned     string
	Province      string
	MapsValid     *bool // nil when geocoding was skipped or unavailable
	MapsFormatted string
	Warnings      []string
}

// Validator runs the validation pipeline. A nil Geocoder disables the
// secondary check.
type Validator struct {
	geocoder Geocoder
	logger   *slog.Logger
}

// NewValidator creates a Validator. geocoder may be nil.
func NewValidator(geocoder Geocoder, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{geocoder: geocoder, logger: logger}
}

// Validate checks the postal code and, when street and city are present
// and a geocoder is configured, cross-checks the full address.
func (v *Validator) Validate(ctx context.Context, addr models.PartialAddress) Result {
	var res Result

	if addr.PostalCode != nil && *addr.PostalCode != "" {
		cp := ValidateCP(*addr.PostalCode)
		res.CPValid = cp.Valid
		res.Province = cp.Province
		if cp.Valid {
			res.CPCleaned = cp.Cleaned
		} else {
			res.CPCleaned = *addr.PostalCode
			res.Warnings = append(res.Warnings, "CP inválido: "+cp.Err)
		}
	} else {
		res.Warnings = append(res.Warnings, "falta código postal")
	}

	if v.geocoder == nil || addr.Street == nil || addr.City == nil || *addr.Street == "" || *addr.City == "" {
		return res
	}

	full := *addr.Street + ", " + *addr.City
	if addr.PostalCode != nil && *addr.PostalCode != "" {
		full += ", " + *addr.PostalCode
	}
	full += ", Argentina"

	geo, err := v.geocoder.Geocode(ctx, full)
	switch {
	case errors.Is(err, models.ErrGeocodeUnavailable):
		// Service outage or missing key: skip silently, MapsValid stays nil.
		v.logger.Debug("Validator.Validate: geocoding unavailable, skipping", "error", err)
	case err != nil:
		v.logger.Warn("Validator.Validate: geocoding failed", "error", err)
	case !geo.Resolved:
		valid := false
		res.MapsValid = &valid
		res.Warnings = append(res.Warnings, "no se encontró la dirección en el mapa")
	case !geo.CountryMatches:
		valid := false
		res.MapsValid = &valid
		res.MapsFormatted = geo.Formatted
		res.Warnings = append(res.Warnings, "la dirección no parece estar en Argentina")
	default:
		valid := true
		res.MapsValid = &valid
		res.MapsFormatted = geo.Formatted
	}
	return res
}
