package travel

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"TravelAgent-Chain/internal/payment"
	"TravelAgent-Chain/internal/referral"
	"TravelAgent-Chain/internal/storage/ipfs"
	"TravelAgent-Chain/internal/storage/mysql"
	"TravelAgent-Chain/internal/tool"
)

func demoServices(t *testing.T) (Services, *ipfs.MemoryStore) {
	t.Helper()
	bookings, err := mysql.NewMemoryBookingRepository("")
	if err != nil {
		t.Fatalf("bookings: %v", err)
	}
	index, err := mysql.NewMemoryReferralIndex("")
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	store := ipfs.NewMemoryStore()
	return Services{
		Weather:   NewWeatherClient(WeatherConfig{}),
		Search:    NewSearch(nil),
		Desk:      NewDesk(bookings),
		Payments:  payment.NewService(&payment.DemoRail{}, payment.Config{}, nil),
		Wallet:    payment.NewWallet(payment.DemoBalances{Address: "0xagent"}, 0),
		Content:   store,
		Referrals: referral.NewService(store, index, nil),
	}, store
}

func TestRegistryContainsEveryTool(t *testing.T) {
	s, _ := demoServices(t)
	r, err := NewRegistry(s)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	want := []string{ToolWeather, ToolFlights, ToolAirport, ToolRecommendations, ToolTodo, ToolHotels,
		ToolActivities, ToolCost, ToolBookFlight, ToolBookingStatus, ToolConfirmBooking, ToolPayment,
		ToolBalance, ToolUpload, ToolReferrals}
	entries := r.List()
	if len(entries) != len(want) {
		t.Fatalf("expected %d tools, got %d", len(want), len(entries))
	}
	for i, name := range want {
		if entries[i].Name != name {
			t.Fatalf("tool %d = %s, want %s", i, entries[i].Name, name)
		}
	}
	if err := r.Register(tool.Tool{Name: "late", Invoke: func(context.Context, tool.Args) (string, error) { return "", nil }}); err == nil {
		t.Fatalf("registry should be frozen")
	}
	modes := r.Modes()
	if modes[ToolWeather] != "demo" || modes[ToolPayment] != "demo" || modes[ToolBalance] != "demo" || modes[ToolTodo] != "live" {
		t.Fatalf("unexpected modes %v", modes)
	}

	weather, _ := r.Lookup(ToolWeather)
	if weather.Category != "weather" {
		t.Fatalf("weather should be charged as weather, got %q", weather.Category)
	}
	if _, err := NewRegistry(Services{}); err == nil {
		t.Fatalf("missing services should fail")
	}
}

func TestBookingLifecycleThroughTools(t *testing.T) {
	s, _ := demoServices(t)
	r, _ := NewRegistry(s)
	ctx := context.Background()

	book, _ := r.Lookup(ToolBookFlight)
	out, err := book.Call(ctx, tool.Args{"flight_id": "1", "passenger_name": "Ada Lovelace", "passenger_email": "ada@example.com"})
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	var booked map[string]any
	if err := json.Unmarshal([]byte(out), &booked); err != nil {
		t.Fatalf("book output is not json: %s", out)
	}
	id, _ := booked["booking_id"].(string)
	if !strings.HasPrefix(id, "TRV-") || len(id) != 12 || id != strings.ToUpper(id) {
		t.Fatalf("unexpected booking id %q", id)
	}
	if booked["payment_amount"] != "0.10" || booked["next_step"] != "Complete payment via x402 to confirm booking" {
		t.Fatalf("unexpected booking output %v", booked)
	}

	status, _ := r.Lookup(ToolBookingStatus)
	out, _ = status.Call(ctx, tool.Args{"booking_id": id})
	if !strings.Contains(out, `"status":"pending"`) || !strings.Contains(out, `"payment_currency":"USDC"`) {
		t.Fatalf("unexpected status %s", out)
	}

	confirm, _ := r.Lookup(ToolConfirmBooking)
	out, _ = confirm.Call(ctx, tool.Args{"booking_id": id, "payment_transaction_hash": "0xabc"})
	if !strings.Contains(out, `"booking_status":"confirmed"`) || !strings.Contains(out, `"transaction_hash":"0xabc"`) {
		t.Fatalf("unexpected confirmation %s", out)
	}
	record, _ := s.Desk.Get(ctx, id)
	if record.Status != mysql.BookingConfirmed || record.PaymentStatus != mysql.PaymentCompleted || record.TxHash != "0xabc" {
		t.Fatalf("booking not updated: %+v", record)
	}

	out, _ = status.Call(ctx, tool.Args{"booking_id": "TRV-MISSING"})
	if !strings.Contains(out, "Booking not found") || !strings.Contains(out, "starting with TRV-") {
		t.Fatalf("unexpected not-found output %s", out)
	}
	out, _ = confirm.Call(ctx, tool.Args{"booking_id": "TRV-MISSING"})
	if !strings.Contains(out, "Booking not found") {
		t.Fatalf("unexpected not-found confirmation %s", out)
	}

	card, _ := book.Call(ctx, tool.Args{"flight_id": "2", "passenger_name": "Bob", "passenger_email": "b@example.com", "payment_method": "card"})
	if !strings.Contains(card, "Traditional payment processing not yet implemented.") {
		t.Fatalf("unexpected card booking %s", card)
	}
}

func TestPaymentAndContentTools(t *testing.T) {
	s, store := demoServices(t)
	r, _ := NewRegistry(s)
	ctx := context.Background()

	pay, _ := r.Lookup(ToolPayment)
	args, _ := tool.ParseArguments(`{"recipient_address":"0x742d35Cc6634C0532925a3b844Bc454e4438f44e","amount":5,"token_symbol":"usdc","referrer_wallet":"0x1111111111111111111111111111111111111111"}`)
	out, err := pay.Call(ctx, args)
	if err != nil {
		t.Fatalf("pay: %v", err)
	}
	if strings.Count(out, "tx_hash: 0xdemo") != 2 || !strings.Contains(out, "4 USDC") || !strings.Contains(out, "1 USDC") {
		t.Fatalf("unexpected payment output:\n%s", out)
	}

	balance, _ := r.Lookup(ToolBalance)
	out, err = balance.Call(ctx, tool.Args{})
	if err != nil || !strings.Contains(out, "demo balances") {
		t.Fatalf("unexpected balance %q %v", out, err)
	}

	upload, _ := r.Lookup(ToolUpload)
	out, err = upload.Call(ctx, tool.Args{"json_payload": map[string]any{"type": "log", "content": "hi"}})
	if err != nil || !strings.HasPrefix(out, "Content uploaded to IPFS successfully. Hash: bafydemo") {
		t.Fatalf("unexpected upload %q %v", out, err)
	}
	cid := strings.TrimPrefix(out, "Content uploaded to IPFS successfully. Hash: ")
	if doc, err := store.Fetch(ctx, cid); err != nil || doc["content"] != "hi" {
		t.Fatalf("uploaded document missing: %v %v", doc, err)
	}

	if _, err := s.Referrals.Record(ctx, referral.Record{ReferrerWallet: "0xAAA", RefereeWallet: "0xBBB", Amount: 5, Token: "USDC"}); err != nil {
		t.Fatalf("record referral: %v", err)
	}
	lookup, _ := r.Lookup(ToolReferrals)
	out, _ = lookup.Call(ctx, tool.Args{"wallet_address": "0xaaa"})
	if !strings.Contains(out, `"referrer_wallet":"0xAAA"`) || !strings.Contains(out, "ipfs_hash") {
		t.Fatalf("unexpected referral lookup %s", out)
	}
	out, _ = lookup.Call(ctx, tool.Args{"wallet_address": "0xccc"})
	if out != "No referral records found for wallet 0xccc." {
		t.Fatalf("unexpected empty lookup %q", out)
	}
}
