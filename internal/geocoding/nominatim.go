// Geotimeline - Location History Timeline Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geotimeline

package geocoding

import (
	"context"
	"strings"

	"github.com/goccy/go-json"

	"github.com/tomtom215/geotimeline/internal/models"
)

const NominatimName = "nominatim"

// Nominatim queries the OSM Nominatim reverse endpoint.
type Nominatim struct {
	httpProvider
}

// NewNominatim returns a Nominatim provider. The usage policy requires an
// identifying User-Agent.
func NewNominatim(cfg ProviderConfig, userAgent string) *Nominatim {
	if cfg.URL == "" {
		cfg.URL = "https://nominatim.openstreetmap.org"
	}
	return &Nominatim{httpProvider: newHTTPProvider(NominatimName, cfg, userAgent)}
}

type nominatimResponse struct {
	Error       string           `json:"error"`
	Name        string           `json:"name"`
	DisplayName string           `json:"display_name"`
	Type        string           `json:"type"`
	Category    string           `json:"category"`
	Address     nominatimAddress `json:"address"`
	GeoJSON     *struct {
		Type        string          `json:"type"`
		Coordinates json.RawMessage `json:"coordinates"`
	} `json:"geojson"`
}

type nominatimAddress struct {
	Amenity       string `json:"amenity"`
	Shop          string `json:"shop"`
	Tourism       string `json:"tourism"`
	Leisure       string `json:"leisure"`
	Building      string `json:"building"`
	HouseNumber   string `json:"house_number"`
	Road          string `json:"road"`
	Neighbourhood string `json:"neighbourhood"`
	Suburb        string `json:"suburb"`
	City          string `json:"city"`
	Town          string `json:"town"`
	Village       string `json:"village"`
	CountryCode   string `json:"country_code"`
}

func (n *Nominatim) Reverse(ctx context.Context, lat, lon float64) (*models.GeocodeResult, error) {
	q := coordQuery(lat, lon)
	q.Set("format", "jsonv2")
	q.Set("zoom", "18")
	q.Set("addressdetails", "1")
	q.Set("polygon_geojson", "1")

	var resp nominatimResponse
	ok, err := n.getJSON(ctx, "/reverse", q, &resp)
	if err != nil || !ok {
		return nil, err
	}
	// "Unable to geocode" is Nominatim's way of saying nothing is there.
	if resp.Error != "" {
		return nil, nil
	}

	res := &models.GeocodeResult{
		Provider:    NominatimName,
		Name:        resp.placeName(),
		Address:     resp.DisplayName,
		City:        firstNonEmpty(resp.Address.City, resp.Address.Town, resp.Address.Village),
		CountryCode: strings.ToUpper(resp.Address.CountryCode),
		Type:        resp.Type,
	}
	if resp.GeoJSON != nil && resp.GeoJSON.Type == "Polygon" {
		var rings [][][]float64
		if json.Unmarshal(resp.GeoJSON.Coordinates, &rings) == nil && len(rings) > 0 {
			res.Polygon = geoJSONRing(rings[0])
		}
	}
	if res.Empty() {
		return nil, nil
	}
	return res, nil
}

// placeName picks the most specific human name Nominatim returned.
func (r *nominatimResponse) placeName() string {
	a := &r.Address
	if name := firstNonEmpty(r.Name, a.Amenity, a.Shop, a.Tourism, a.Leisure, a.Building); name != "" {
		return name
	}
	if a.Road != "" && a.HouseNumber != "" {
		return a.Road + " " + a.HouseNumber
	}
	return firstNonEmpty(a.Road, a.Neighbourhood, a.Suburb)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
