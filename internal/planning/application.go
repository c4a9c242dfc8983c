package planning

import (
	"encoding/json"
	"strings"
)

// Application is a single planning application normalized from any portal.
type Application struct {
	ID           string   `json:"id"`
	Council      string   `json:"council"`
	Desc         string   `json:"desc"`
	Addr         string   `json:"addr"`
	Postcode     string   `json:"postcode"`
	Lat          *float64 `json:"lat,omitempty"`
	Lng          *float64 `json:"lng,omitempty"`
	DateReceived Date     `json:"date_received"`
	Status       string   `json:"status"`
	Link         string   `json:"link"`
}

// Key identifies an application across runs and councils.
type Key struct {
	Council string
	ID      string
}

// Key returns the dedup key of the application.
func (a Application) Key() Key {
	return Key{Council: a.Council, ID: a.ID}
}

// HasCoords reports whether both coordinates are set.
func (a Application) HasCoords() bool {
	return a.Lat != nil && a.Lng != nil
}

// SetCoords assigns both coordinates.
func (a *Application) SetCoords(lat, lng float64) {
	a.Lat = &lat
	a.Lng = &lng
}

// ClearCoords removes both coordinates.
func (a *Application) ClearCoords() {
	a.Lat = nil
	a.Lng = nil
}

// Sector returns the shard sector of the application, or "" when the
// application has no usable postcode.
func (a Application) Sector() string {
	return Sector(a.Postcode)
}

// UnmarshalJSON decodes an application and enforces that coordinates are
// present together or not at all.
func (a *Application) UnmarshalJSON(data []byte) error {
	type plain Application
	var decoded plain
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err //nolint:wrapcheck // surfaced verbatim to json callers
	}
	*a = Application(decoded)
	if !a.HasCoords() {
		a.ClearCoords()
	}
	return nil
}

// Normalize trims free-text fields and canonicalizes the postcode in place.
func (a *Application) Normalize() {
	a.ID = strings.TrimSpace(a.ID)
	a.Desc = collapseSpace(a.Desc)
	a.Addr = collapseSpace(a.Addr)
	a.Status = collapseSpace(a.Status)
	if pc, ok := NormalizePostcode(a.Postcode); ok {
		a.Postcode = pc
	} else if pc, ok := ExtractPostcode(a.Addr); ok {
		a.Postcode = pc
	} else {
		a.Postcode = ""
	}
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
