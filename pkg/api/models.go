package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

// StationCode is a station identifier. The API sends it as a string in some
// payloads and as a bare number in others; both decode to the same value.
type StationCode string

func (c *StationCode) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*c = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("error decoding station code: %w", err)
		}
		*c = StationCode(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("error decoding station code: %w", err)
	}
	*c = StationCode(n.String())
	return nil
}

// StationLocation is the location block attached to a station record.
// Distance is in kilometres from the queried point and is absent on
// station-by-code lookups.
type StationLocation struct {
	Distance  *float64 `json:"distance,omitempty"`
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
}

// Station is a fuel station as returned by the nearby endpoint.
type Station struct {
	Code              StationCode     `json:"code"`
	Brand             string          `json:"brand"`
	Name              string          `json:"name"`
	Address           string          `json:"address"`
	Location          StationLocation `json:"location"`
	IsAdBlueAvailable *bool           `json:"isAdBlueAvailable,omitempty"`
}

// Price is a single price quote for one fuel type at one station.
type Price struct {
	StationCode StationCode         `json:"stationcode"`
	FuelType    string              `json:"fueltype"`
	Price       decimal.NullDecimal `json:"price"`
	LastUpdated string              `json:"lastupdated"`
}

// PricesPayload is the response body of the nearby and station endpoints.
type PricesPayload struct {
	Stations []Station `json:"stations"`
	Prices   []Price   `json:"prices"`
}

// RefItem is one entry of a reference list. Fuel types carry a code; brands
// only a name.
type RefItem struct {
	Code string `json:"code,omitempty"`
	Name string `json:"name"`
}

// RefList wraps the items of one reference list.
type RefList struct {
	Items []RefItem `json:"items"`
}

// StationList wraps the stations of the reference data.
type StationList struct {
	Items []Station `json:"items"`
}

// ReferenceData is the response body of the lovs endpoints.
type ReferenceData struct {
	Brands     RefList     `json:"brands"`
	FuelTypes  RefList     `json:"fueltypes"`
	Stations   StationList `json:"stations"`
	SortFields RefList     `json:"sortfields"`
}

// NearbyRequest is the JSON body of a nearby search. The upstream API
// expects coordinates and radius as strings.
type NearbyRequest struct {
	FuelType      string   `json:"fueltype"`
	Brands        []string `json:"brand"`
	NamedLocation string   `json:"namedlocation"`
	Latitude      string   `json:"latitude"`
	Longitude     string   `json:"longitude"`
	RadiusKm      string   `json:"radius"`
	SortBy        string   `json:"sortby"`
	SortAscending string   `json:"sortascending"`
}

// JoinedRecord is a price enriched with the matching station's metadata.
// Station fields are empty when no station matched the price's code.
type JoinedRecord struct {
	StationCode       string              `json:"stationcode"`
	FuelType          string              `json:"fueltype"`
	Price             decimal.NullDecimal `json:"price"`
	LastUpdated       string              `json:"lastupdated"`
	Brand             string              `json:"brand,omitempty"`
	Name              string              `json:"name,omitempty"`
	Address           string              `json:"address,omitempty"`
	Distance          *float64            `json:"distance,omitempty"`
	Location          *StationLocation    `json:"location,omitempty"`
	IsAdBlueAvailable *bool               `json:"isAdBlueAvailable,omitempty"`
}

// PriceString formats the price for display, "-" when the API sent null.
func (r JoinedRecord) PriceString() string {
	if !r.Price.Valid {
		return "-"
	}
	return r.Price.Decimal.String()
}

// tokenResponse is the OAuth client-credentials response.
type tokenResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresIn   flexInt64 `json:"expires_in"`
	TokenType   string    `json:"token_type,omitempty"`
}

// flexInt64 accepts a JSON number or a numeric string. Set reports whether
// the field was present and non-empty.
type flexInt64 struct {
	Value int64
	Set   bool
}

func (f *flexInt64) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	s := string(data)
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			return nil
		}
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid integer %q: %w", s, err)
	}
	f.Value = v
	f.Set = true
	return nil
}
