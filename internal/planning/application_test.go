package planning

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestApplicationJSONOmitsMissingCoords(t *testing.T) {
	t.Parallel()

	app := Application{
		ID:           "24/00012/FUL",
		Council:      "portsmouth",
		Desc:         "Single storey rear extension",
		Addr:         "1 High Street, Portsmouth",
		Postcode:     "PO1 2AB",
		DateReceived: NewDate(2024, time.May, 2),
		Status:       "Pending Consideration",
		Link:         "https://example.gov.uk/app/1",
	}
	data, err := json.Marshal(app)
	require.NoError(t, err)
	require.NotContains(t, string(data), `"lat"`)
	require.Contains(t, string(data), `"date_received":"2024-05-02"`)

	app.SetCoords(50.8, -1.09)
	data, err = json.Marshal(app)
	require.NoError(t, err)

	var decoded Application
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, app, decoded)
}

func TestApplicationUnmarshalDropsHalfCoords(t *testing.T) {
	t.Parallel()

	var app Application
	require.NoError(t, json.Unmarshal([]byte(`{"id":"A","lat":50.1,"date_received":"2024-01-01"}`), &app))
	require.False(t, app.HasCoords())
	require.Nil(t, app.Lat)
}

func TestApplicationNormalize(t *testing.T) {
	t.Parallel()

	app := Application{
		ID:     " 24/1 ",
		Desc:   "Change of use\n\t from  shop",
		Addr:   "Flat 2,  10 Albert Road, Southsea PO5 2SE",
		Status: " Granted ",
	}
	app.Normalize()
	require.Equal(t, "24/1", app.ID)
	require.Equal(t, "Change of use from shop", app.Desc)
	require.Equal(t, "PO5 2SE", app.Postcode)
	require.Equal(t, "Granted", app.Status)
	require.Equal(t, "PO5", app.Sector())
}

func TestClassifyStatus(t *testing.T) {
	t.Parallel()

	cases := map[string]StatusClass{
		"Application Refused":       StatusRefused,
		"WITHDRAWN":                 StatusWithdrawn,
		"Granted with conditions":   StatusApproved,
		"Approved":                  StatusApproved,
		"Pending Consideration":     StatusPending,
		"Registered":                StatusPending,
		"Appeal lodged":             StatusOther,
		"":                          StatusOther,
	}
	for raw, want := range cases {
		require.Equal(t, want, ClassifyStatus(raw), raw)
	}
}
