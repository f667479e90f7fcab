package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"googlemaps.github.io/maps"
)

const (
	mapboxBaseURL       = "https://api.mapbox.com"
	nominatimBaseURL    = "https://nominatim.openstreetmap.org"
	nominatimUserAgent  = "blotterdesk/1.0"
	geocoderHTTPTimeout = 10 * time.Second
)

// GeocodeResult is the address found for a map pin.
type GeocodeResult struct {
	Address  string `json:"address"`
	Locality string `json:"locality"`
	Postcode string `json:"postcode"`
}

// Label is the single-line address stored on a report.
func (r *GeocodeResult) Label() string {
	if r == nil {
		return ""
	}
	parts := []string{}
	for _, part := range []string{r.Address, r.Locality} {
		part = strings.TrimSpace(part)
		if part != "" && !strings.Contains(strings.Join(parts, ", "), part) {
			parts = append(parts, part)
		}
	}
	return strings.Join(parts, ", ")
}

// Geocoder resolves coordinates to an address. A nil result with a nil error
// means nothing was found.
type Geocoder interface {
	Geocode(ctx context.Context, lat, lng float64) (*GeocodeResult, error)
}

// MapboxGeocoder uses the Mapbox v6 reverse endpoint.
type MapboxGeocoder struct {
	AccessToken string
	BaseURL     string
	Client      *http.Client
}

func (g *MapboxGeocoder) Geocode(ctx context.Context, lat, lng float64) (*GeocodeResult, error) {
	if g.AccessToken == "" {
		return nil, errors.New("mapbox access token missing")
	}

	query := url.Values{}
	query.Set("longitude", fmt.Sprintf("%f", lng))
	query.Set("latitude", fmt.Sprintf("%f", lat))
	query.Set("access_token", g.AccessToken)
	query.Set("types", "address,street,neighborhood")
	query.Set("limit", "1")
	u := strings.TrimRight(valueOr(g.BaseURL, mapboxBaseURL), "/") + "/search/geocode/v6/reverse?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := httpClientOrDefault(g.Client).Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("mapbox error (%d): %s", resp.StatusCode, string(body))
	}

	var data struct {
		Features []struct {
			Properties struct {
				FullAddress string `json:"full_address"`
				Context     struct {
					Place struct {
						Name string `json:"name"`
					} `json:"place"`
					Postcode struct {
						Name string `json:"name"`
					} `json:"postcode"`
				} `json:"context"`
			} `json:"properties"`
		} `json:"features"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, err
	}
	if len(data.Features) == 0 {
		return nil, nil
	}

	feat := data.Features[0]
	return &GeocodeResult{
		Address:  feat.Properties.FullAddress,
		Locality: feat.Properties.Context.Place.Name,
		Postcode: feat.Properties.Context.Postcode.Name,
	}, nil
}

// NominatimGeocoder uses OSM Nominatim. The public instance allows one
// request per second and requires a User-Agent.
type NominatimGeocoder struct {
	UserAgent string
	BaseURL   string
	Client    *http.Client

	mu       sync.Mutex
	lastCall time.Time
}

func (g *NominatimGeocoder) wait(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if elapsed := time.Since(g.lastCall); elapsed < time.Second {
		timer := time.NewTimer(time.Second - elapsed)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	g.lastCall = time.Now()
	return nil
}

func (g *NominatimGeocoder) Geocode(ctx context.Context, lat, lng float64) (*GeocodeResult, error) {
	if err := g.wait(ctx); err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("format", "jsonv2")
	query.Set("lat", fmt.Sprintf("%f", lat))
	query.Set("lon", fmt.Sprintf("%f", lng))
	query.Set("addressdetails", "1")
	u := strings.TrimRight(valueOr(g.BaseURL, nominatimBaseURL), "/") + "/reverse?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", valueOr(g.UserAgent, nominatimUserAgent))

	resp, err := httpClientOrDefault(g.Client).Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("nominatim error: %d", resp.StatusCode)
	}

	var data struct {
		Address struct {
			Road        string `json:"road"`
			HouseNumber string `json:"house_number"`
			Suburb      string `json:"suburb"`
			City        string `json:"city"`
			Town        string `json:"town"`
			Village     string `json:"village"`
			Postcode    string `json:"postcode"`
		} `json:"address"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, err
	}

	locality := data.Address.City
	if locality == "" {
		locality = data.Address.Town
	}
	if locality == "" {
		locality = data.Address.Village
	}

	addr := data.Address.Road
	if data.Address.HouseNumber != "" {
		addr = strings.TrimSpace(data.Address.HouseNumber + " " + addr)
	}
	if data.Address.Suburb != "" {
		if addr == "" {
			addr = data.Address.Suburb
		} else {
			addr = addr + ", " + data.Address.Suburb
		}
	}
	if addr == "" && locality == "" {
		return nil, nil
	}

	return &GeocodeResult{
		Address:  addr,
		Locality: locality,
		Postcode: data.Address.Postcode,
	}, nil
}

// GoogleGeocoder uses the Google Maps reverse geocoding API.
type GoogleGeocoder struct {
	client *maps.Client
}

func NewGoogleGeocoder(apiKey string, opts ...maps.ClientOption) (*GoogleGeocoder, error) {
	opts = append([]maps.ClientOption{maps.WithAPIKey(apiKey), maps.WithHTTPClient(&http.Client{Timeout: geocoderHTTPTimeout})}, opts...)
	client, err := maps.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("google maps client: %w", err)
	}
	return &GoogleGeocoder{client: client}, nil
}

func (g *GoogleGeocoder) Geocode(ctx context.Context, lat, lng float64) (*GeocodeResult, error) {
	results, err := g.client.ReverseGeocode(ctx, &maps.GeocodingRequest{
		LatLng: &maps.LatLng{Lat: lat, Lng: lng},
	})
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}

	first := results[0]
	res := &GeocodeResult{Address: first.FormattedAddress}
	for _, component := range first.AddressComponents {
		for _, kind := range component.Types {
			switch kind {
			case "locality":
				res.Locality = component.LongName
			case "postal_code":
				res.Postcode = component.LongName
			}
		}
	}
	return res, nil
}

// FallbackGeocoder asks Primary first and Secondary when Primary fails or
// finds nothing.
type FallbackGeocoder struct {
	Primary   Geocoder
	Secondary Geocoder
	Log       *slog.Logger
}

func (g *FallbackGeocoder) Geocode(ctx context.Context, lat, lng float64) (*GeocodeResult, error) {
	res, err := g.Primary.Geocode(ctx, lat, lng)
	if err == nil && res != nil {
		return res, nil
	}
	if err != nil && g.Log != nil {
		g.Log.Warn("primary geocoder failed, using fallback", "err", err)
	}
	return g.Secondary.Geocode(ctx, lat, lng)
}

// newGeocoder builds the configured provider chain; "none" disables lookups.
func newGeocoder(cfg *Config, logger *slog.Logger) (Geocoder, error) {
	client := &http.Client{Timeout: geocoderHTTPTimeout}
	nominatim := &NominatimGeocoder{UserAgent: nominatimUserAgent, Client: client}

	switch cfg.GeocoderProvider {
	case "none":
		return nil, nil
	case "nominatim":
		return nominatim, nil
	case "mapbox":
		if cfg.MapboxAccessToken == "" {
			return nil, errors.New("MAPBOX_ACCESS_TOKEN is required for the mapbox geocoder")
		}
		return &MapboxGeocoder{AccessToken: cfg.MapboxAccessToken, Client: client}, nil
	case "google":
		google, err := NewGoogleGeocoder(cfg.GoogleMapsAPIKey)
		if err != nil {
			return nil, err
		}
		return google, nil
	}

	var chain Geocoder = nominatim
	if cfg.MapboxAccessToken != "" {
		chain = &FallbackGeocoder{Primary: &MapboxGeocoder{AccessToken: cfg.MapboxAccessToken, Client: client}, Secondary: chain, Log: logger}
	}
	if cfg.GoogleMapsAPIKey != "" {
		google, err := NewGoogleGeocoder(cfg.GoogleMapsAPIKey)
		if err != nil {
			return nil, err
		}
		chain = &FallbackGeocoder{Primary: google, Secondary: chain, Log: logger}
	}
	return chain, nil
}

func httpClientOrDefault(client *http.Client) *http.Client {
	if client != nil {
		return client
	}
	return &http.Client{Timeout: geocoderHTTPTimeout}
}

func valueOr(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
