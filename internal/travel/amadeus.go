package travel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	xerrors "TravelAgent-Chain/internal/errors"
)

// DefaultAmadeusBaseURL 是 Amadeus 测试环境地址。
const DefaultAmadeusBaseURL = "https://test.api.amadeus.com"

// AmadeusConfig 描述 Amadeus 自助 API 的凭证。
type AmadeusConfig struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
	// HTTPClient 同时用于获取令牌与业务请求。
	HTTPClient *http.Client
	Timeout    time.Duration
}

// AmadeusClient 使用 OAuth2 客户端凭证访问 Amadeus。
type AmadeusClient struct {
	baseURL string
	http    *http.Client
}

// NewAmadeusClient 创建客户端，缺少凭证时返回 INITIALIZATION_FAILURE。
func NewAmadeusClient(cfg AmadeusConfig) (*AmadeusClient, error) {
	id, secret := strings.TrimSpace(cfg.ClientID), strings.TrimSpace(cfg.ClientSecret)
	if id == "" || secret == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置 Amadeus 凭证")
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultAmadeusBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	baseClient := cfg.HTTPClient
	if baseClient == nil {
		baseClient = &http.Client{Timeout: timeout}
	}
	cc := clientcredentials.Config{
		ClientID:     id,
		ClientSecret: secret,
		TokenURL:     base + "/v1/security/oauth2/token",
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, baseClient)
	client := cc.Client(tokenCtx)
	client.Timeout = timeout
	return &AmadeusClient{baseURL: base, http: client}, nil
}

// FlightOffer 是一条航班报价。
type FlightOffer struct {
	ID       string
	Airline  string
	Price    string
	Currency string
}

// Location 是机场或城市。
type Location struct {
	Name        string
	IATACode    string
	CityName    string
	CountryName string
	Latitude    float64
	Longitude   float64
}

// HotelOffer 是一条酒店报价。
type HotelOffer struct {
	Name     string
	Rating   string
	Price    string
	Currency string
}

// PointOfInterest 是一个景点。
type PointOfInterest struct {
	Name     string
	Category string
}

// FlightOffers 查询单程航班报价。
func (c *AmadeusClient) FlightOffers(ctx context.Context, origin, destination, date string, adults int) ([]FlightOffer, error) {
	if adults <= 0 {
		adults = 1
	}
	q := url.Values{}
	q.Set("originLocationCode", origin)
	q.Set("destinationLocationCode", destination)
	q.Set("departureDate", date)
	q.Set("adults", strconv.Itoa(adults))
	var resp struct {
		Data []struct {
			ID                     string   `json:"id"`
			ValidatingAirlineCodes []string `json:"validatingAirlineCodes"`
			Price                  struct {
				Total    string `json:"total"`
				Currency string `json:"currency"`
			} `json:"price"`
		} `json:"data"`
	}
	if err := c.get(ctx, "/v2/shopping/flight-offers", q, &resp); err != nil {
		return nil, err
	}
	out := make([]FlightOffer, 0, len(resp.Data))
	for _, d := range resp.Data {
		airline := "Unknown"
		if len(d.ValidatingAirlineCodes) > 0 {
			airline = d.ValidatingAirlineCodes[0]
		}
		out = append(out, FlightOffer{ID: d.ID, Airline: airline, Price: d.Price.Total, Currency: d.Price.Currency})
	}
	return out, nil
}

// Locations 按关键字查询机场（AIRPORT）或城市（CITY）。
func (c *AmadeusClient) Locations(ctx context.Context, keyword, subType string) ([]Location, error) {
	q := url.Values{}
	q.Set("keyword", keyword)
	q.Set("subType", subType)
	var resp struct {
		Data []struct {
			Name     string `json:"name"`
			IATACode string `json:"iataCode"`
			Address  struct {
				CityName    string `json:"cityName"`
				CountryName string `json:"countryName"`
			} `json:"address"`
			GeoCode struct {
				Latitude  float64 `json:"latitude"`
				Longitude float64 `json:"longitude"`
			} `json:"geoCode"`
		} `json:"data"`
	}
	if err := c.get(ctx, "/v1/reference-data/locations", q, &resp); err != nil {
		return nil, err
	}
	out := make([]Location, 0, len(resp.Data))
	for _, d := range resp.Data {
		out = append(out, Location{
			Name:        d.Name,
			IATACode:    d.IATACode,
			CityName:    d.Address.CityName,
			CountryName: d.Address.CountryName,
			Latitude:    d.GeoCode.Latitude,
			Longitude:   d.GeoCode.Longitude,
		})
	}
	return out, nil
}

// HotelOffers 查询坐标 5 公里内的酒店报价。
func (c *AmadeusClient) HotelOffers(ctx context.Context, lat, lon float64, checkIn, checkOut string, adults int) ([]HotelOffer, error) {
	if adults <= 0 {
		adults = 1
	}
	q := url.Values{}
	q.Set("latitude", trimFloat(lat))
	q.Set("longitude", trimFloat(lon))
	q.Set("checkInDate", checkIn)
	q.Set("checkOutDate", checkOut)
	q.Set("adults", strconv.Itoa(adults))
	q.Set("radius", "5")
	q.Set("radiusUnit", "KM")
	var resp struct {
		Data []struct {
			Hotel struct {
				Name   string `json:"name"`
				Rating string `json:"rating"`
			} `json:"hotel"`
			Offers []struct {
				Price struct {
					Total    string `json:"total"`
					Currency string `json:"currency"`
				} `json:"price"`
			} `json:"offers"`
		} `json:"data"`
	}
	if err := c.get(ctx, "/v2/shopping/hotel-offers", q, &resp); err != nil {
		return nil, err
	}
	out := make([]HotelOffer, 0, len(resp.Data))
	for _, d := range resp.Data {
		offer := HotelOffer{Name: d.Hotel.Name, Rating: d.Hotel.Rating, Price: "N/A"}
		if offer.Rating == "" {
			offer.Rating = "N/A"
		}
		if len(d.Offers) > 0 {
			offer.Price = d.Offers[0].Price.Total
			offer.Currency = d.Offers[0].Price.Currency
		}
		out = append(out, offer)
	}
	return out, nil
}

// PointsOfInterest 查询坐标 10 公里内的景点。
func (c *AmadeusClient) PointsOfInterest(ctx context.Context, lat, lon float64) ([]PointOfInterest, error) {
	q := url.Values{}
	q.Set("latitude", trimFloat(lat))
	q.Set("longitude", trimFloat(lon))
	q.Set("radius", "10")
	var resp struct {
		Data []struct {
			Name     string `json:"name"`
			Category string `json:"category"`
		} `json:"data"`
	}
	if err := c.get(ctx, "/v1/reference-data/locations/pois", q, &resp); err != nil {
		return nil, err
	}
	out := make([]PointOfInterest, 0, len(resp.Data))
	for _, d := range resp.Data {
		out = append(out, PointOfInterest{Name: d.Name, Category: d.Category})
	}
	return out, nil
}

func (c *AmadeusClient) get(ctx context.Context, path string, q url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeToolFailure, err, "构建 Amadeus 请求失败")
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeToolFailure, err, "请求 Amadeus 失败", xerrors.WithMetadata("path", path))
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("Amadeus %s 未找到结果", path))
	}
	if resp.StatusCode >= http.StatusBadRequest {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return xerrors.New(xerrors.CodeToolFailure,
			fmt.Sprintf("Amadeus 返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))),
			xerrors.WithMetadata("path", path))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return xerrors.Wrap(xerrors.CodeToolFailure, err, "解析 Amadeus 响应失败")
	}
	return nil
}
