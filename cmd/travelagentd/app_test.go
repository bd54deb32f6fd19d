package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"TravelAgent-Chain/internal/config"
)

func demoConfig(t *testing.T) *config.Config {
	t.Helper()
	for _, key := range []string{
		"OPENAI_API_KEY", "OPENWEATHER_API_KEY", "AMADEUS_CLIENT_ID", "AMADEUS_CLIENT_SECRET",
		"PINATA_JWT", "REFERRAL_IPFS_HASHES", "SAVINGS_WALLET_ADDRESS",
		"REFERRAL_SPLIT_AGENT", "REFERRAL_SPLIT_REFERRER", "AGENT_WALLET_ADDRESS", "WALLET_PRIVATE_KEY",
	} {
		// t.Setenv 负责测试结束后恢复原值，随后删除变量使其视为未设置。
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
	dir := t.TempDir()
	cfg, err := config.Default(dir, "")
	if err != nil {
		t.Fatalf("默认配置失败: %v", err)
	}
	cfg.Server.Address = "127.0.0.1:0"
	cfg.Logging.Outputs = []string{filepath.Join(dir, "travelagentd.log")}
	return cfg
}

func TestNewAppStartsInDemoMode(t *testing.T) {
	a, err := newApp(context.Background(), demoConfig(t))
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.Close()

	rec := httptest.NewRecorder()
	a.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	var health struct {
		Status string            `json:"status"`
		Modes  map[string]string `json:"modes"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health.Status != "success" || health.Modes["content_storage"] != "demo" || health.Modes["wallet"] != "demo" {
		t.Fatalf("unexpected health %+v", health)
	}

	rec = httptest.NewRecorder()
	body := strings.NewReader(`{"input":"What is the weather in Paris?"}`)
	a.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/agent", body))
	var outcome struct {
		Status   string `json:"status"`
		Response string `json:"response"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&outcome); err != nil {
		t.Fatalf("decode agent: %v", err)
	}
	if outcome.Status != "success" || !strings.Contains(outcome.Response, "Paris") {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
}

func TestNewAppRejectsUnreachableMySQL(t *testing.T) {
	cfg := demoConfig(t)
	cfg.Storage.Driver = "mysql"
	cfg.Storage.DSN = "travel:secret@tcp(127.0.0.1:1)/travel?timeout=200ms"

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := newApp(ctx, cfg); err == nil {
		t.Fatalf("期望无法连接 MySQL 时报错")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	a, err := newApp(context.Background(), demoConfig(t))
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("unexpected run error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run 未在取消后退出")
	}
}
