package address

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/herbalis/salesbot/internal/models"
)

const geocodeEndpoint = "https://maps.googleapis.com/maps/api/geocode/json"

// GoogleMapsGeocoder resolves addresses through the Google Maps Geocoding
// API, biased to Argentina.
type GoogleMapsGeocoder struct {
	apiKey string
	client *http.Client
}

// NewGoogleMapsGeocoder creates a geocoder. An empty apiKey yields a
// geocoder that always reports unavailable, so callers can wire it
// unconditionally.
func NewGoogleMapsGeocoder(apiKey string) *GoogleMapsGeocoder {
	return &GoogleMapsGeocoder{
		apiKey: apiKey,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

type geocodeResponse struct {
	Status  string `json:"status"`
	Results []struct {
		FormattedAddress  string `json:"formatted_address"`
		AddressComponents []struct {
			ShortName string   `json:"short_name"`
			Types     []string `json:"types"`
		} `json:"address_components"`
	} `json:"results"`
}

// Geocode implements Geocoder.
func (g *GoogleMapsGeocoder) Geocode(ctx context.Context, address string) (GeocodeResult, error) {
	if g.apiKey == "" {
		return GeocodeResult{}, models.ErrGeocodeUnavailable
	}

	q := url.Values{}
	q.Set("address", address)
	q.Set("key", g.apiKey)
	q.Set("region", "ar")
	q.Set("language", "es")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, geocodeEndpoint+"?"+q.Encode(), nil)
	if err != nil {
		return GeocodeResult{}, fmt.Errorf("failed to build geocode request: %w", err)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return GeocodeResult{}, fmt.Errorf("%w: %v", models.ErrGeocodeUnavailable, err)
	}
	defer resp.Body.Close()

	var body geocodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return GeocodeResult{}, fmt.Errorf("%w: decoding response: %v", models.ErrGeocodeUnavailable, err)
	}

	switch body.Status {
	case "OK":
		if len(body.Results) == 0 {
			return GeocodeResult{}, nil
		}
		r := body.Results[0]
		inAR := false
		for _, c := range r.AddressComponents {
			if c.ShortName != "AR" {
				continue
			}
			for _, t := range c.Types {
				if t == "country" {
					inAR = true
				}
			}
		}
		return GeocodeResult{Resolved: true, Formatted: r.FormattedAddress, CountryMatches: inAR}, nil
	case "ZERO_RESULTS":
		return GeocodeResult{}, nil
	default:
		return GeocodeResult{}, fmt.Errorf("%w: geocode status %s", models.ErrGeocodeUnavailable, body.Status)
	}
}
