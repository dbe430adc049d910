// Package weather implements the weather tool set: active alerts by US
// state, place geocoding, and point forecasts from the National Weather
// Service.
package weather

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xlog"
	"github.com/nimbus-ai/nimbus/mcp"
	"github.com/tidwall/gjson"
)

var logger = xlog.NewPackageLogger("github.com/nimbus-ai/nimbus/tools", "weather")

const (
	geocodeAPIBase = "https://geocode.xyz"
	nwsAPIBase     = "https://api.weather.gov"
	userAgent      = "weather-app/1.0"

	// forecastPeriods caps how many forecast periods are reported.
	forecastPeriods = 5
)

// AlertsRequest asks for active alerts in one US state.
type AlertsRequest struct {
	State string `json:"state" jsonschema:"description=Two-letter US state code (e.g. CA, NY)"`
}

// GeocodeRequest asks for the coordinates of a US place.
type GeocodeRequest struct {
	Place string `json:"place" jsonschema:"description=City name in US, for example san diego, santa cruz, seattle"`
}

// ForecastRequest asks for the forecast at a coordinate.
type ForecastRequest struct {
	Latitude  float64 `json:"latitude" jsonschema:"description=Latitude of the location"`
	Longitude float64 `json:"longitude" jsonschema:"description=Longitude of the location"`
}

// Option configures the Service.
type Option func(*Service)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Service) {
		s.client = client
	}
}

// WithNWSBaseURL overrides the National Weather Service endpoint.
func WithNWSBaseURL(base string) Option {
	return func(s *Service) {
		s.nwsBase = base
	}
}

// WithGeocodeBaseURL overrides the geocoding endpoint.
func WithGeocodeBaseURL(base string) Option {
	return func(s *Service) {
		s.geocodeBase = base
	}
}

// Service calls the upstream weather APIs. Lookup failures are reported as
// tool output text, not as errors, so the model can read and react to them.
type Service struct {
	client      *http.Client
	nwsBase     string
	geocodeBase string
}

// New creates a weather Service.
func New(opts ...Option) *Service {
	s := &Service{
		client:      &http.Client{Timeout: 30 * time.Second},
		nwsBase:     nwsAPIBase,
		geocodeBase: geocodeAPIBase,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds the weather tools to the given server.
func Register(s *mcp.Server, svc *Service) error {
	if err := mcp.RegisterTool(s, "get_alerts", "Get weather alerts for a US state.", svc.GetAlerts); err != nil {
		return err
	}
	if err := mcp.RegisterTool(s, "get_lat_long", "Get latitude and longitude for a given city in US.", svc.GetLatLong); err != nil {
		return err
	}
	return mcp.RegisterTool(s, "get_forecast", "Get weather forecast for a location.", svc.GetForecast)
}

// GetAlerts returns the active alerts for a US state, one block per alert.
func (s *Service) GetAlerts(ctx context.Context, req *AlertsRequest) (string, error) {
	addr := fmt.Sprintf("%s/alerts/active/area/%s", s.nwsBase, req.State)
	logger.ContextKV(ctx, xlog.DEBUG, "status", "fetching_alerts", "state", req.State)

	data, err := s.getJSON(ctx, addr, "application/geo+json")
	if err != nil || !data.Get("features").Exists() {
		return "Unable to fetch alerts or no alerts found.", nil
	}

	features := data.Get("features").Array()
	if len(features) == 0 {
		return fmt.Sprintf("No active alerts found for %s.", req.State), nil
	}

	alerts := make([]string, 0, len(features))
	for _, feature := range features {
		alerts = append(alerts, formatAlert(feature))
	}
	return strings.Join(alerts, "\n---\n"), nil
}

// GetLatLong geocodes a US place name, rounding coordinates up to four
// decimal places.
func (s *Service) GetLatLong(ctx context.Context, req *GeocodeRequest) (string, error) {
	logger.ContextKV(ctx, xlog.DEBUG, "status", "geocoding", "place", req.Place)

	params := url.Values{
		"locate": []string{strings.TrimSpace(req.Place)},
		"geoit":  []string{"JSON"},
		"region": []string{"US"},
	}
	addr := fmt.Sprintf("%s/?%s", s.geocodeBase, params.Encode())

	data, err := s.getJSON(ctx, addr, "")
	if err != nil {
		msg := fmt.Sprintf("Geocoding error for %s: %s", req.Place, err.Error())
		logger.ContextKV(ctx, xlog.ERROR, "status", "geocoding_failed", "place", req.Place, "err", err.Error())
		return msg, nil
	}

	latt := data.Get("latt")
	longt := data.Get("longt")
	if !latt.Exists() || !longt.Exists() {
		return fmt.Sprintf("No location data found for %s", req.Place), nil
	}

	lat := roundUpCoordinate(latt.Float(), 4)
	lon := roundUpCoordinate(longt.Float(), 4)
	return fmt.Sprintf("Latitude=%v, Longitude=%v", lat, lon), nil
}

// GetForecast resolves the NWS gridpoint for a coordinate and reports the
// next few forecast periods.
func (s *Service) GetForecast(ctx context.Context, req *ForecastRequest) (string, error) {
	addr := fmt.Sprintf("%s/points/%v,%v", s.nwsBase, req.Latitude, req.Longitude)
	logger.ContextKV(ctx, xlog.DEBUG, "status", "fetching_forecast", "lat", req.Latitude, "lon", req.Longitude)

	data, err := s.getJSON(ctx, addr, "application/geo+json")
	if err != nil {
		return "Unable to fetch forecast data for this location.", nil
	}

	forecastURL := data.Get("properties.forecast").String()
	if forecastURL == "" {
		return "Unable to fetch forecast data for this location.", nil
	}

	forecast, err := s.getJSON(ctx, forecastURL, "application/geo+json")
	if err != nil {
		return "Unable to fetch detailed forecast data.", nil
	}

	periods := forecast.Get("properties.periods").Array()
	if len(periods) > forecastPeriods {
		periods = periods[:forecastPeriods]
	}
	forecasts := make([]string, 0, len(periods))
	for _, period := range periods {
		forecasts = append(forecasts, formatPeriod(period))
	}
	return strings.Join(forecasts, "\n---\n"), nil
}

func (s *Service) getJSON(ctx context.Context, addr, accept string) (gjson.Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, addr, nil)
	if err != nil {
		return gjson.Result{}, errors.WithStack(err)
	}
	req.Header.Set("User-Agent", userAgent)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return gjson.Result{}, errors.WithStack(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return gjson.Result{}, errors.Newf("unexpected status %d from %s", resp.StatusCode, addr)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, errors.WithStack(err)
	}
	return gjson.ParseBytes(body), nil
}

func formatAlert(feature gjson.Result) string {
	props := feature.Get("properties")
	return fmt.Sprintf("Event: %s\nArea: %s\nSeverity: %s\nDescription: %s\nInstructions: %s",
		stringOr(props, "event", "Unknown"),
		stringOr(props, "areaDesc", "Unknown"),
		stringOr(props, "severity", "Unknown"),
		stringOr(props, "description", "No description available"),
		stringOr(props, "instruction", "No specific instructions provided"),
	)
}

func formatPeriod(period gjson.Result) string {
	return fmt.Sprintf("%s:\nTemperature: %v\u00b0%s\nWind: %s %s\nForecast: %s",
		period.Get("name").String(),
		period.Get("temperature").Value(),
		period.Get("temperatureUnit").String(),
		period.Get("windSpeed").String(),
		period.Get("windDirection").String(),
		period.Get("detailedForecast").String(),
	)
}

func stringOr(props gjson.Result, key, fallback string) string {
	if v := props.Get(key); v.Exists() && v.String() != "" {
		return v.String()
	}
	return fallback
}

// roundUpCoordinate rounds up to the given number of decimal places.
func roundUpCoordinate(value float64, decimalPlaces int) float64 {
	multiplier := math.Pow(10, float64(decimalPlaces))
	return math.Ceil(value*multiplier) / multiplier
}
