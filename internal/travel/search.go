package travel

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"

	xerrors "TravelAgent-Chain/internal/errors"
	"TravelAgent-Chain/pkg/logger"
)

const demoNote = "\n(demo data)"

// Airport 是内置机场表中的一项。
type Airport struct {
	Name    string
	City    string
	Country string
}

var knownAirports = map[string]Airport{
	"JFK": {"John F Kennedy International Airport", "New York", "United States"},
	"LGA": {"LaGuardia Airport", "New York", "United States"},
	"LAX": {"Los Angeles International Airport", "Los Angeles", "United States"},
	"SFO": {"San Francisco International Airport", "San Francisco", "United States"},
	"ORD": {"O'Hare International Airport", "Chicago", "United States"},
	"MIA": {"Miami International Airport", "Miami", "United States"},
	"CDG": {"Charles de Gaulle Airport", "Paris", "France"},
	"LHR": {"Heathrow Airport", "London", "United Kingdom"},
	"NRT": {"Narita International Airport", "Tokyo", "Japan"},
	"HND": {"Haneda Airport", "Tokyo", "Japan"},
	"FCO": {"Leonardo da Vinci Fiumicino Airport", "Rome", "Italy"},
	"AMS": {"Amsterdam Airport Schiphol", "Amsterdam", "Netherlands"},
	"FRA": {"Frankfurt Airport", "Frankfurt", "Germany"},
	"MAD": {"Adolfo Suarez Madrid-Barajas Airport", "Madrid", "Spain"},
	"BCN": {"Barcelona-El Prat Airport", "Barcelona", "Spain"},
	"DXB": {"Dubai International Airport", "Dubai", "United Arab Emirates"},
	"SIN": {"Singapore Changi Airport", "Singapore", "Singapore"},
	"SYD": {"Sydney Kingsford Smith Airport", "Sydney", "Australia"},
}

// KnownAirport 报告 code 是否为内置机场表中的 IATA 代码。
func KnownAirport(code string) bool {
	_, ok := knownAirports[strings.ToUpper(strings.TrimSpace(code))]
	return ok
}

// Search 提供航班、机场、酒店和景点查询。amadeus 为 nil 时全部走演示数据。
type Search struct {
	amadeus *AmadeusClient
	log     *slog.Logger
}

// NewSearch 创建查询服务。
func NewSearch(amadeus *AmadeusClient) *Search {
	return &Search{amadeus: amadeus, log: logger.Named("travel.search")}
}

// Mode 返回 live 或 demo。
func (s *Search) Mode() string {
	if s == nil || s.amadeus == nil {
		return "demo"
	}
	return "live"
}

func (s *Search) fallback(op string, err error) {
	s.log.Warn("Amadeus 调用失败，使用演示数据", slog.String("op", op), slog.Any("error", err))
}

// Flights 查询航班，最多列出 5 条。
func (s *Search) Flights(ctx context.Context, origin, destination, date string, adults int) (string, error) {
	origin = strings.ToUpper(strings.TrimSpace(origin))
	destination = strings.ToUpper(strings.TrimSpace(destination))
	date = strings.TrimSpace(date)
	if origin == "" || destination == "" || date == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "origin、destination 与 date 均为必填")
	}
	if s.amadeus != nil {
		offers, err := s.amadeus.FlightOffers(ctx, origin, destination, date, adults)
		if err == nil {
			return formatFlights(origin, destination, date, offers), nil
		}
		s.fallback("flight-offers", err)
	}
	return formatFlights(origin, destination, date, demoFlights(origin, destination, date)) + demoNote, nil
}

func formatFlights(origin, destination, date string, offers []FlightOffer) string {
	if len(offers) == 0 {
		return fmt.Sprintf("No flights found from %s to %s on %s.", origin, destination, date)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d flights from %s to %s on %s:\n", len(offers), origin, destination, date)
	for i, o := range offers {
		if i == 5 {
			break
		}
		if i > 0 {
			b.WriteByte('\n')
		}
		price := o.Price
		if price == "" {
			price = "Price not available"
		}
		fmt.Fprintf(&b, "%d. %s - $%s", i+1, o.Airline, price)
	}
	return b.String()
}

var demoAirlines = []string{"AF", "BA", "DL", "UA", "LH", "JL", "AZ"}

func demoFlights(origin, destination, date string) []FlightOffer {
	seed := hashOf(origin + destination + date)
	out := make([]FlightOffer, 0, 3)
	for i := 0; i < 3; i++ {
		price := 300 + float64((seed>>(i*4))%600) + 0.5*float64(i)
		out = append(out, FlightOffer{
			ID:       fmt.Sprintf("DEMO-%s%s-%d", origin, destination, i+1),
			Airline:  demoAirlines[(int(seed)+i)%len(demoAirlines)],
			Price:    fmt.Sprintf("%.2f", price),
			Currency: "USD",
		})
	}
	return out
}

// Airport 按 IATA 代码查询机场信息。
func (s *Search) Airport(ctx context.Context, code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "airport_code 不能为空")
	}
	if s.amadeus != nil {
		locs, err := s.amadeus.Locations(ctx, code, "AIRPORT")
		if err == nil {
			if len(locs) == 0 {
				return fmt.Sprintf("No airport found with code %s.", code), nil
			}
			l := locs[0]
			return formatAirport(l.Name, l.IATACode, l.CityName, l.CountryName), nil
		}
		s.fallback("locations", err)
	}
	a, ok := knownAirports[code]
	if !ok {
		return fmt.Sprintf("No airport found with code %s.", code) + demoNote, nil
	}
	return formatAirport(strings.ToUpper(a.Name), code, strings.ToUpper(a.City), strings.ToUpper(a.Country)) + demoNote, nil
}

func formatAirport(name, code, city, country string) string {
	return fmt.Sprintf("Airport: %s (%s)\nLocation: %s, %s", name, code, city, country)
}

// Hotels 查询城市中心附近的酒店，最多列出 5 条。
func (s *Search) Hotels(ctx context.Context, city, checkIn, checkOut string, adults int) (string, error) {
	city = strings.TrimSpace(city)
	if city == "" || strings.TrimSpace(checkIn) == "" || strings.TrimSpace(checkOut) == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "city、check_in_date 与 check_out_date 均为必填")
	}
	if s.amadeus != nil {
		text, err := s.liveHotels(ctx, city, checkIn, checkOut, adults)
		if err == nil {
			return text, nil
		}
		s.fallback("hotel-offers", err)
	}
	return formatHotels(city, demoHotels(city)) + demoNote, nil
}

func (s *Search) liveHotels(ctx context.Context, city, checkIn, checkOut string, adults int) (string, error) {
	loc, found, err := s.city(ctx, city)
	if err != nil {
		return "", err
	}
	if !found {
		return fmt.Sprintf("No city found with name %s.", city), nil
	}
	offers, err := s.amadeus.HotelOffers(ctx, loc.Latitude, loc.Longitude, checkIn, checkOut, adults)
	if err != nil {
		return "", err
	}
	return formatHotels(city, offers), nil
}

func formatHotels(city string, offers []HotelOffer) string {
	if len(offers) == 0 {
		return fmt.Sprintf("No hotels found in %s for the specified dates.", city)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d hotels in %s:\n", len(offers), city)
	for i, h := range offers {
		if i == 5 {
			break
		}
		if i > 0 {
			b.WriteByte('\n')
		}
		if h.Price == "" || h.Price == "N/A" {
			fmt.Fprintf(&b, "%d. %s (%s★) - Price not available", i+1, h.Name, h.Rating)
			continue
		}
		fmt.Fprintf(&b, "%d. %s (%s★) - %s %s", i+1, h.Name, h.Rating, h.Price, h.Currency)
	}
	return b.String()
}

func demoHotels(city string) []HotelOffer {
	seed := hashOf(strings.ToLower(city))
	names := []string{"Central Hotel", "Grand Palace", "Riverside Inn"}
	out := make([]HotelOffer, 0, len(names))
	for i, n := range names {
		out = append(out, HotelOffer{
			Name:     city + " " + n,
			Rating:   fmt.Sprint(3 + (int(seed)+i)%3),
			Price:    fmt.Sprintf("%.2f", 120+float64((seed>>(i*3))%280)),
			Currency: "USD",
		})
	}
	return out
}

// Activities 查询城市景点，最多列出 10 条。
func (s *Search) Activities(ctx context.Context, city string) (string, error) {
	city = strings.TrimSpace(city)
	if city == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "city 不能为空")
	}
	if s.amadeus != nil {
		text, err := s.liveActivities(ctx, city)
		if err == nil {
			return text, nil
		}
		s.fallback("pois", err)
	}
	return formatActivities(city, demoActivities(city)) + demoNote, nil
}

func (s *Search) liveActivities(ctx context.Context, city string) (string, error) {
	loc, found, err := s.city(ctx, city)
	if err != nil {
		return "", err
	}
	if !found {
		return fmt.Sprintf("No city found with name %s.", city), nil
	}
	pois, err := s.amadeus.PointsOfInterest(ctx, loc.Latitude, loc.Longitude)
	if err != nil {
		return "", err
	}
	return formatActivities(city, pois), nil
}

func formatActivities(city string, pois []PointOfInterest) string {
	if len(pois) == 0 {
		return fmt.Sprintf("No activities found in %s.", city)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Popular activities in %s:\n", city)
	for i, p := range pois {
		if i == 10 {
			break
		}
		if i > 0 {
			b.WriteByte('\n')
		}
		category := p.Category
		if category == "" {
			category = "Attraction"
		}
		fmt.Fprintf(&b, "%d. %s (%s)", i+1, p.Name, category)
	}
	return b.String()
}

func demoActivities(city string) []PointOfInterest {
	names, ok := attractions[strings.ToLower(city)]
	if !ok {
		return []PointOfInterest{
			{Name: city + " Old Town", Category: "SIGHTS"},
			{Name: city + " City Museum", Category: "SIGHTS"},
			{Name: city + " Central Market", Category: "SHOPPING"},
			{Name: city + " Riverside Park", Category: "BEACH_PARK"},
		}
	}
	out := make([]PointOfInterest, 0, len(names))
	for _, n := range names {
		out = append(out, PointOfInterest{Name: n, Category: "SIGHTS"})
	}
	return out
}

func (s *Search) city(ctx context.Context, name string) (Location, bool, error) {
	locs, err := s.amadeus.Locations(ctx, name, "CITY")
	if err != nil {
		return Location{}, false, err
	}
	if len(locs) == 0 {
		return Location{}, false, nil
	}
	return locs[0], true, nil
}

func hashOf(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}
