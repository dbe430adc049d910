package weather_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nimbus-ai/nimbus/tools/weather"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetAlerts(t *testing.T) {
	t.Run("formats_alerts", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/alerts/active/area/CA", r.URL.Path)
			assert.Equal(t, "weather-app/1.0", r.Header.Get("User-Agent"))
			assert.Equal(t, "application/geo+json", r.Header.Get("Accept"))
			fmt.Fprint(w, `{
				"features": [
					{"properties": {"event": "Flood Warning", "areaDesc": "San Diego County", "severity": "Severe", "description": "Heavy rain expected.", "instruction": "Move to higher ground."}},
					{"properties": {"event": "Wind Advisory", "areaDesc": "Coastal areas"}}
				]
			}`)
		}))
		defer srv.Close()

		svc := weather.New(weather.WithNWSBaseURL(srv.URL))
		out, err := svc.GetAlerts(context.Background(), &weather.AlertsRequest{State: "CA"})
		require.NoError(t, err)

		expected := "Event: Flood Warning\n" +
			"Area: San Diego County\n" +
			"Severity: Severe\n" +
			"Description: Heavy rain expected.\n" +
			"Instructions: Move to higher ground.\n" +
			"---\n" +
			"Event: Wind Advisory\n" +
			"Area: Coastal areas\n" +
			"Severity: Unknown\n" +
			"Description: No description available\n" +
			"Instructions: No specific instructions provided"
		assert.Equal(t, expected, out)
	})

	t.Run("no_alerts", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprint(w, `{"features": []}`)
		}))
		defer srv.Close()

		svc := weather.New(weather.WithNWSBaseURL(srv.URL))
		out, err := svc.GetAlerts(context.Background(), &weather.AlertsRequest{State: "CA"})
		require.NoError(t, err)
		assert.Equal(t, "No active alerts found for CA.", out)
	})

	t.Run("upstream_failure_reported_as_text", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		svc := weather.New(weather.WithNWSBaseURL(srv.URL))
		out, err := svc.GetAlerts(context.Background(), &weather.AlertsRequest{State: "CA"})
		require.NoError(t, err)
		assert.Equal(t, "Unable to fetch alerts or no alerts found.", out)
	})
}

func TestGetLatLong(t *testing.T) {
	t.Run("rounds_coordinates_up", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			assert.Equal(t, "san diego", q.Get("locate"))
			assert.Equal(t, "JSON", q.Get("geoit"))
			assert.Equal(t, "US", q.Get("region"))
			fmt.Fprint(w, `{"latt": "32.71553", "longt": "-117.16104"}`)
		}))
		defer srv.Close()

		svc := weather.New(weather.WithGeocodeBaseURL(srv.URL))
		out, err := svc.GetLatLong(context.Background(), &weather.GeocodeRequest{Place: "san diego"})
		require.NoError(t, err)
		assert.Equal(t, "Latitude=32.7156, Longitude=-117.161", out)
	})

	t.Run("missing_coordinates", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprint(w, `{"error": {"description": "Supply a valid query."}}`)
		}))
		defer srv.Close()

		svc := weather.New(weather.WithGeocodeBaseURL(srv.URL))
		out, err := svc.GetLatLong(context.Background(), &weather.GeocodeRequest{Place: "atlantis"})
		require.NoError(t, err)
		assert.Equal(t, "No location data found for atlantis", out)
	})

	t.Run("upstream_failure_reported_as_text", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		svc := weather.New(weather.WithGeocodeBaseURL(srv.URL))
		out, err := svc.GetLatLong(context.Background(), &weather.GeocodeRequest{Place: "seattle"})
		require.NoError(t, err)
		assert.Contains(t, out, "Geocoding error for seattle")
	})
}

func TestGetForecast(t *testing.T) {
	t.Run("formats_first_periods", func(t *testing.T) {
		mux := http.NewServeMux()
		srv := httptest.NewServer(mux)
		defer srv.Close()

		mux.HandleFunc("/points/", func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/points/32.7156,-117.161", r.URL.Path)
			fmt.Fprintf(w, `{"properties": {"forecast": "%s/gridpoints/SGX/54,20/forecast"}}`, srv.URL)
		})
		mux.HandleFunc("/gridpoints/SGX/54,20/forecast", func(w http.ResponseWriter, _ *http.Request) {
			// Seven periods; only the first five are reported.
			fmt.Fprint(w, `{"properties": {"periods": [
				{"name": "Tonight", "temperature": 61, "temperatureUnit": "F", "windSpeed": "5 mph", "windDirection": "W", "detailedForecast": "Partly cloudy."},
				{"name": "Monday", "temperature": 72, "temperatureUnit": "F", "windSpeed": "10 mph", "windDirection": "NW", "detailedForecast": "Sunny."},
				{"name": "Monday Night", "temperature": 60, "temperatureUnit": "F", "windSpeed": "5 mph", "windDirection": "W", "detailedForecast": "Clear."},
				{"name": "Tuesday", "temperature": 74, "temperatureUnit": "F", "windSpeed": "10 mph", "windDirection": "NW", "detailedForecast": "Sunny."},
				{"name": "Tuesday Night", "temperature": 61, "temperatureUnit": "F", "windSpeed": "5 mph", "windDirection": "W", "detailedForecast": "Clear."},
				{"name": "Wednesday", "temperature": 75, "temperatureUnit": "F", "windSpeed": "10 mph", "windDirection": "NW", "detailedForecast": "Sunny."},
				{"name": "Wednesday Night", "temperature": 62, "temperatureUnit": "F", "windSpeed": "5 mph", "windDirection": "W", "detailedForecast": "Clear."}
			]}}`)
		})

		svc := weather.New(weather.WithNWSBaseURL(srv.URL))
		out, err := svc.GetForecast(context.Background(), &weather.ForecastRequest{Latitude: 32.7156, Longitude: -117.161})
		require.NoError(t, err)

		assert.Contains(t, out, "Tonight:\nTemperature: 61°F\nWind: 5 mph W\nForecast: Partly cloudy.")
		assert.Contains(t, out, "Tuesday Night:")
		assert.NotContains(t, out, "Wednesday:")
		assert.NotContains(t, out, "Wednesday Night:")
	})

	t.Run("points_failure_reported_as_text", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()

		svc := weather.New(weather.WithNWSBaseURL(srv.URL))
		out, err := svc.GetForecast(context.Background(), &weather.ForecastRequest{Latitude: 0, Longitude: 0})
		require.NoError(t, err)
		assert.Equal(t, "Unable to fetch forecast data for this location.", out)
	})

	t.Run("forecast_failure_reported_as_text", func(t *testing.T) {
		mux := http.NewServeMux()
		srv := httptest.NewServer(mux)
		defer srv.Close()

		mux.HandleFunc("/points/", func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprintf(w, `{"properties": {"forecast": "%s/gridpoints/broken/forecast"}}`, srv.URL)
		})
		mux.HandleFunc("/gridpoints/broken/forecast", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		})

		svc := weather.New(weather.WithNWSBaseURL(srv.URL))
		out, err := svc.GetForecast(context.Background(), &weather.ForecastRequest{Latitude: 1, Longitude: 2})
		require.NoError(t, err)
		assert.Equal(t, "Unable to fetch detailed forecast data.", out)
	})
}
