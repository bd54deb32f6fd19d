package travel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	xerrors "TravelAgent-Chain/internal/errors"
	"TravelAgent-Chain/pkg/logger"
)

// DefaultWeatherEndpoint 是 OpenWeather 当前天气接口。
const DefaultWeatherEndpoint = "https://api.openweathermap.org/data/2.5/weather"

// DefaultHTTPTimeout 是旅行类外部请求的超时。
const DefaultHTTPTimeout = 15 * time.Second

// WeatherConfig 描述 OpenWeather 客户端。
type WeatherConfig struct {
	APIKey     string
	Endpoint   string
	HTTPClient *http.Client
}

// WeatherClient 查询城市当前天气，未配置密钥时返回演示数据。
type WeatherClient struct {
	apiKey   string
	endpoint string
	http     *http.Client
	log      *slog.Logger
}

// NewWeatherClient 创建天气客户端。
func NewWeatherClient(cfg WeatherConfig) *WeatherClient {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = DefaultWeatherEndpoint
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &WeatherClient{
		apiKey:   strings.TrimSpace(cfg.APIKey),
		endpoint: endpoint,
		http:     client,
		log:      logger.Named("travel.weather"),
	}
}

// Mode 返回 live 或 demo。
func (c *WeatherClient) Mode() string {
	if c == nil || c.apiKey == "" {
		return "demo"
	}
	return "live"
}

type weatherResponse struct {
	Main struct {
		Temp float64 `json:"temp"`
	} `json:"main"`
	Weather []struct {
		Description string `json:"description"`
	} `json:"weather"`
}

// Current 返回形如 "The weather in Paris is 68°F with clear sky." 的描述。
// 在线请求失败时回退到演示数据并记录日志。
func (c *WeatherClient) Current(ctx context.Context, location string) (string, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "location 不能为空")
	}
	if c.Mode() == "demo" {
		return demoWeather(location), nil
	}
	text, err := c.fetch(ctx, location)
	if err != nil {
		c.log.Warn("天气查询失败，使用演示数据", slog.String("location", location), slog.Any("error", err))
		return demoWeather(location), nil
	}
	return text, nil
}

func (c *WeatherClient) fetch(ctx context.Context, location string) (string, error) {
	q := url.Values{}
	q.Set("q", location)
	q.Set("appid", c.apiKey)
	q.Set("units", "imperial")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeToolFailure, err, "构建天气请求失败")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeToolFailure, err, "请求 OpenWeather 失败")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", xerrors.New(xerrors.CodeToolFailure, fmt.Sprintf("OpenWeather 返回状态 %d", resp.StatusCode))
	}
	var decoded weatherResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", xerrors.Wrap(xerrors.CodeToolFailure, err, "解析天气响应失败")
	}
	if len(decoded.Weather) == 0 {
		return "", xerrors.New(xerrors.CodeToolFailure, "天气响应缺少描述")
	}
	return formatWeather(location, decoded.Main.Temp, decoded.Weather[0].Description), nil
}

func formatWeather(location string, temp float64, description string) string {
	return fmt.Sprintf("The weather in %s is %s°F with %s.", location, trimFloat(temp), description)
}

var demoConditions = []string{"clear sky", "few clouds", "scattered clouds", "light rain", "overcast clouds", "mist"}

// demoWeather 由地名哈希得到稳定的演示天气。
func demoWeather(location string) string {
	sum := hashOf(strings.ToLower(location))
	temp := 50 + float64(sum%35)
	return formatWeather(location, temp, demoConditions[int(sum/35)%len(demoConditions)]) + " (demo data)"
}
