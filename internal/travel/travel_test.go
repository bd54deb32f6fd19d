package travel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	xerrors "TravelAgent-Chain/internal/errors"
)

func TestWeatherLiveFormatsImperialReading(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("q") != "Paris" || q.Get("appid") != "key" || q.Get("units") != "imperial" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{"main":{"temp":68.5},"weather":[{"description":"clear sky"}]}`))
	}))
	defer srv.Close()

	c := NewWeatherClient(WeatherConfig{APIKey: "key", Endpoint: srv.URL, HTTPClient: srv.Client()})
	if c.Mode() != "live" {
		t.Fatalf("expected live mode")
	}
	got, err := c.Current(context.Background(), "Paris")
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if got != "The weather in Paris is 68.5°F with clear sky." {
		t.Fatalf("unexpected weather %q", got)
	}
}

func TestWeatherFallsBackToDemo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	live := NewWeatherClient(WeatherConfig{APIKey: "bad", Endpoint: srv.URL, HTTPClient: srv.Client()})
	got, err := live.Current(context.Background(), "Tokyo")
	if err != nil || !strings.HasPrefix(got, "The weather in Tokyo is") || !strings.HasSuffix(got, "(demo data)") {
		t.Fatalf("expected demo fallback, got %q %v", got, err)
	}

	demo := NewWeatherClient(WeatherConfig{})
	again, _ := demo.Current(context.Background(), "Tokyo")
	if demo.Mode() != "demo" || again != got {
		t.Fatalf("demo weather should be deterministic: %q vs %q", again, got)
	}
	if _, err := demo.Current(context.Background(), " "); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("empty location should be rejected, got %v", err)
	}
}

func newAmadeusServer(t *testing.T, tokens *atomic.Int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/security/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.PostForm.Get("grant_type") != "client_credentials" || r.PostForm.Get("client_id") != "id" || r.PostForm.Get("client_secret") != "secret" {
			t.Errorf("unexpected token request %v", r.PostForm)
		}
		tokens.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok","token_type":"Bearer","expires_in":1799}`))
	})
	authed := func(h http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer tok" {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			h(w, r)
		}
	}
	mux.HandleFunc("/v2/shopping/flight-offers", authed(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("originLocationCode") != "JFK" || r.URL.Query().Get("adults") != "1" {
			t.Errorf("unexpected flight query %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{"data":[
			{"id":"1","validatingAirlineCodes":["AF"],"price":{"total":"512.30","currency":"USD"}},
			{"id":"2","validatingAirlineCodes":["DL"],"price":{"total":"498.00","currency":"USD"}}]}`))
	}))
	mux.HandleFunc("/v1/reference-data/locations", authed(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("subType") {
		case "AIRPORT":
			if r.URL.Query().Get("keyword") == "XXX" {
				_, _ = w.Write([]byte(`{"data":[]}`))
				return
			}
			_, _ = w.Write([]byte(`{"data":[{"name":"CHARLES DE GAULLE","iataCode":"CDG","address":{"cityName":"PARIS","countryName":"FRANCE"}}]}`))
		case "CITY":
			_, _ = w.Write([]byte(`{"data":[{"name":"PARIS","geoCode":{"latitude":48.85,"longitude":2.35}}]}`))
		}
	}))
	mux.HandleFunc("/v2/shopping/hotel-offers", authed(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("latitude") != "48.85" || r.URL.Query().Get("radiusUnit") != "KM" {
			t.Errorf("unexpected hotel query %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{"data":[
			{"hotel":{"name":"Hotel Lutetia","rating":"5"},"offers":[{"price":{"total":"420.00","currency":"EUR"}}]},
			{"hotel":{"name":"Ibis Centre"},"offers":[]}]}`))
	}))
	mux.HandleFunc("/v1/reference-data/locations/pois", authed(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"name":"Louvre Museum","category":"SIGHTS"},{"name":"Le Marais"}]}`))
	}))
	return httptest.NewServer(mux)
}

func TestAmadeusSearchUsesClientCredentials(t *testing.T) {
	var tokens atomic.Int32
	srv := newAmadeusServer(t, &tokens)
	defer srv.Close()

	client, err := NewAmadeusClient(AmadeusConfig{ClientID: "id", ClientSecret: "secret", BaseURL: srv.URL, HTTPClient: srv.Client()})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	s := NewSearch(client)
	ctx := context.Background()

	flights, err := s.Flights(ctx, "jfk", "cdg", "2025-06-01", 0)
	if err != nil {
		t.Fatalf("flights: %v", err)
	}
	want := "Found 2 flights from JFK to CDG on 2025-06-01:\n1. AF - $512.30\n2. DL - $498.00"
	if flights != want {
		t.Fatalf("unexpected flights:\n%s", flights)
	}

	airport, _ := s.Airport(ctx, "cdg")
	if airport != "Airport: CHARLES DE GAULLE (CDG)\nLocation: PARIS, FRANCE" {
		t.Fatalf("unexpected airport %q", airport)
	}
	missing, _ := s.Airport(ctx, "XXX")
	if missing != "No airport found with code XXX." {
		t.Fatalf("unexpected missing airport %q", missing)
	}

	hotels, _ := s.Hotels(ctx, "Paris", "2025-06-01", "2025-06-04", 2)
	if !strings.HasPrefix(hotels, "Found 2 hotels in Paris:\n1. Hotel Lutetia (5★) - 420.00 EUR") ||
		!strings.Contains(hotels, "2. Ibis Centre (N/A★) - Price not available") {
		t.Fatalf("unexpected hotels:\n%s", hotels)
	}

	activities, _ := s.Activities(ctx, "Paris")
	if activities != "Popular activities in Paris:\n1. Louvre Museum (SIGHTS)\n2. Le Marais (Attraction)" {
		t.Fatalf("unexpected activities:\n%s", activities)
	}
	if n := tokens.Load(); n != 1 {
		t.Fatalf("token should be fetched once and reused, got %d", n)
	}
}

func TestAmadeusRequiresCredentials(t *testing.T) {
	if _, err := NewAmadeusClient(AmadeusConfig{ClientID: "id"}); xerrors.CodeOf(err) != xerrors.CodeInitializationFailure {
		t.Fatalf("expected initialization failure, got %v", err)
	}
}

func TestDemoSearchIsDeterministic(t *testing.T) {
	s := NewSearch(nil)
	ctx := context.Background()
	a, _ := s.Flights(ctx, "JFK", "LAX", "2025-07-04", 1)
	b, _ := s.Flights(ctx, "JFK", "LAX", "2025-07-04", 1)
	if a != b || !strings.HasPrefix(a, "Found 3 flights from JFK to LAX on 2025-07-04:\n1. ") {
		t.Fatalf("unexpected demo flights:\n%s", a)
	}
	airport, _ := s.Airport(ctx, "LHR")
	if !strings.HasPrefix(airport, "Airport: HEATHROW AIRPORT (LHR)\nLocation: LONDON, UNITED KINGDOM") {
		t.Fatalf("unexpected demo airport %q", airport)
	}
	activities, _ := s.Activities(ctx, "Rome")
	if !strings.Contains(activities, "1. Colosseum (SIGHTS)") {
		t.Fatalf("unexpected demo activities %q", activities)
	}
	if _, err := s.Flights(ctx, "JFK", "", "2025-07-04", 1); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("missing destination should fail, got %v", err)
	}
	if !KnownAirport("cdg") || KnownAirport("ABC") {
		t.Fatalf("known airport table mismatch")
	}
}

func TestRecommendations(t *testing.T) {
	got := Recommendations("new york")
	if !strings.HasPrefix(got, "Travel recommendations for new york:\nPopular attractions in New York: Statue of Liberty") {
		t.Fatalf("unexpected recommendations %q", got)
	}
	generic := Recommendations("Lisbon")
	if !strings.HasPrefix(generic, "Travel recommendations for Lisbon: This is a great city to explore!") {
		t.Fatalf("unexpected generic recommendations %q", generic)
	}
}

func TestCalculateCost(t *testing.T) {
	report := CalculateCost("1. AF - $1,250.50\n2. DL - $900", "Hotel Lutetia $420 per night", "")
	b := report.Breakdown
	if b.Flights != 1250.50 || b.Hotels != 420 || b.Activities != 0 {
		t.Fatalf("unexpected breakdown %+v", b)
	}
	if b.TotalFees != 0.22 || b.GrandTotal != 1670.72 {
		t.Fatalf("unexpected totals %+v", b)
	}
	if report.Summary != "Total travel cost: $1670.50 + $0.220 USDC in booking fees = $1670.72 total" {
		t.Fatalf("unexpected summary %q", report.Summary)
	}

	raw, _ := json.Marshal(CalculateCost("no prices here", "", "tour $30"))
	var decoded map[string]any
	_ = json.Unmarshal(raw, &decoded)
	breakdown := decoded["breakdown"].(map[string]any)
	if breakdown["flights"].(float64) != 0 || breakdown["total_fees"].(float64) != 0.055 {
		t.Fatalf("unexpected json %s", raw)
	}
	if breakdown["booking_fees"].(map[string]any)["activity_search"].(float64) != 0.005 {
		t.Fatalf("missing fee table %s", raw)
	}
}
