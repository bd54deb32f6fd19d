package task

import (
	"testing"

	"TravelAgent-Chain/internal/agent"
	"TravelAgent-Chain/internal/ledger"
	"TravelAgent-Chain/internal/llm/offline"
	"TravelAgent-Chain/internal/payment"
	"TravelAgent-Chain/internal/referral"
	"TravelAgent-Chain/internal/storage/ipfs"
	"TravelAgent-Chain/internal/storage/mysql"
	"TravelAgent-Chain/internal/travel"
)

// newPaymentPipeline 构造演示通道上的真实流水线，便于统计转账与扣费次数。
func newPaymentPipeline(t *testing.T) (*agent.Agent, *payment.DemoRail, *ledger.MemoryLedger) {
	t.Helper()
	content := ipfs.NewMemoryStore()
	bookings, err := mysql.NewMemoryBookingRepository("")
	if err != nil {
		t.Fatalf("bookings: %v", err)
	}
	index, err := mysql.NewMemoryReferralIndex("")
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	rail := &payment.DemoRail{}
	referrals := referral.NewService(content, index, nil)
	registry, err := travel.NewRegistry(travel.Services{
		Weather:   travel.NewWeatherClient(travel.WeatherConfig{}),
		Search:    travel.NewSearch(nil),
		Desk:      travel.NewDesk(bookings),
		Payments:  payment.NewService(rail, payment.Config{}, nil),
		Wallet:    payment.NewWallet(payment.DemoBalances{Address: "0xagent"}, 0),
		Content:   content,
		Referrals: referrals,
	})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	spend := ledger.NewMemoryLedger(ledger.DefaultCap, nil)
	pipeline, err := agent.New(agent.Deps{
		Registry:  registry,
		Ledger:    spend,
		LLM:       offline.New(),
		Content:   content,
		Referrals: referrals,
	})
	if err != nil {
		t.Fatalf("agent: %v", err)
	}
	return pipeline, rail, spend
}
