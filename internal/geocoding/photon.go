// Geotimeline - Location History Timeline Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geotimeline

package geocoding

import (
	"context"
	"strings"

	"github.com/tomtom215/geotimeline/internal/models"
)

const PhotonName = "photon"

// Photon queries a Photon instance, which answers with a GeoJSON
// FeatureCollection.
type Photon struct {
	httpProvider
}

func NewPhoton(cfg ProviderConfig, userAgent string) *Photon {
	if cfg.URL == "" {
		cfg.URL = "https://photon.komoot.io"
	}
	return &Photon{httpProvider: newHTTPProvider(PhotonName, cfg, userAgent)}
}

type photonResponse struct {
	Features []struct {
		Properties photonProperties `json:"properties"`
	} `json:"features"`
}

type photonProperties struct {
	Name        string `json:"name"`
	Street      string `json:"street"`
	HouseNumber string `json:"housenumber"`
	Postcode    string `json:"postcode"`
	City        string `json:"city"`
	District    string `json:"district"`
	CountryCode string `json:"countrycode"`
	OSMKey      string `json:"osm_key"`
	OSMValue    string `json:"osm_value"`
}

func (p *Photon) Reverse(ctx context.Context, lat, lon float64) (*models.GeocodeResult, error) {
	q := coordQuery(lat, lon)
	q.Set("limit", "1")

	var resp photonResponse
	ok, err := p.getJSON(ctx, "/reverse", q, &resp)
	if err != nil || !ok || len(resp.Features) == 0 {
		return nil, err
	}

	props := resp.Features[0].Properties
	res := &models.GeocodeResult{
		Provider:    PhotonName,
		Name:        props.Name,
		Address:     props.address(),
		City:        firstNonEmpty(props.City, props.District),
		CountryCode: strings.ToUpper(props.CountryCode),
		Type:        props.OSMValue,
	}
	if res.Name == "" && props.Street != "" {
		res.Name = strings.TrimSpace(props.Street + " " + props.HouseNumber)
	}
	if res.Empty() {
		return nil, nil
	}
	return res, nil
}

// address formats "street number, postcode city" leaving out missing parts.
func (p *photonProperties) address() string {
	street := strings.TrimSpace(p.Street + " " + p.HouseNumber)
	town := strings.TrimSpace(p.Postcode + " " + p.City)
	switch {
	case street != "" && town != "":
		return street + ", " + town
	case street != "":
		return street
	default:
		return town
	}
}
