package travel

import (
	"context"
	"fmt"

	xerrors "TravelAgent-Chain/internal/errors"
	"TravelAgent-Chain/internal/ledger"
	"TravelAgent-Chain/internal/payment"
	"TravelAgent-Chain/internal/referral"
	"TravelAgent-Chain/internal/storage/ipfs"
	"TravelAgent-Chain/internal/tool"
)

// 工具名称。
const (
	ToolWeather         = "get_weather"
	ToolFlights         = "search_flights"
	ToolAirport         = "get_airport_info"
	ToolRecommendations = "get_travel_recommendations"
	ToolTodo            = "get_todo_list"
	ToolHotels          = "search_hotels"
	ToolActivities      = "search_activities"
	ToolCost            = "calculate_travel_cost"
	ToolBookFlight      = "book_flight"
	ToolBookingStatus   = "get_booking_status"
	ToolConfirmBooking  = "confirm_booking_payment"
	ToolPayment         = "x402_payment_tool"
	ToolBalance         = "check_wallet_balance"
	ToolUpload          = "upload_to_ipfs"
	ToolReferrals       = "retrieve_referrals_by_wallet_tool"
)

// Services 汇集工具依赖的外部服务。
type Services struct {
	Weather   *WeatherClient
	Search    *Search
	Desk      *Desk
	Payments  *payment.Service
	Wallet    *payment.Wallet
	Content   ipfs.Store
	Referrals *referral.Service
}

// NewRegistry 注册全部工具并冻结注册表。
func NewRegistry(s Services) (*tool.Registry, error) {
	if s.Weather == nil || s.Search == nil || s.Desk == nil || s.Payments == nil ||
		s.Wallet == nil || s.Content == nil || s.Referrals == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "旅行工具依赖不完整")
	}
	r := tool.NewRegistry()
	for _, t := range Tools(s) {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	r.Freeze()
	return r, nil
}

// Tools 按固定顺序构造全部工具。
func Tools(s Services) []tool.Tool {
	return []tool.Tool{
		{
			Name:        ToolWeather,
			Description: "Get current weather for a location.",
			Params:      []tool.Param{{Name: "location", Type: tool.TypeString, Required: true, Description: "City name, e.g. Paris"}},
			Category:    ledger.CategoryWeather,
			Mode:        s.Weather.Mode(),
			Invoke: func(ctx context.Context, args tool.Args) (string, error) {
				return s.Weather.Current(ctx, args.String("location"))
			},
		},
		{
			Name:        ToolFlights,
			Description: "Search for flights between two airports. Use IATA airport codes (e.g., 'JFK', 'LAX', 'CDG'). Date format should be YYYY-MM-DD.",
			Params: []tool.Param{
				{Name: "origin", Type: tool.TypeString, Required: true},
				{Name: "destination", Type: tool.TypeString, Required: true},
				{Name: "departure_date", Type: tool.TypeString, Required: true},
				{Name: "adults", Type: tool.TypeInteger},
			},
			Category: ledger.CategoryTravel,
			Mode:     s.Search.Mode(),
			Invoke: func(ctx context.Context, args tool.Args) (string, error) {
				return s.Search.Flights(ctx, args.String("origin"), args.String("destination"), args.String("departure_date"), args.Int("adults", 1))
			},
		},
		{
			Name:        ToolAirport,
			Description: "Get information about an airport using its IATA code.",
			Params:      []tool.Param{{Name: "airport_code", Type: tool.TypeString, Required: true}},
			Category:    ledger.CategoryTravel,
			Mode:        s.Search.Mode(),
			Invoke: func(ctx context.Context, args tool.Args) (string, error) {
				return s.Search.Airport(ctx, args.String("airport_code"))
			},
		},
		{
			Name:        ToolRecommendations,
			Description: "Get travel recommendations and points of interest for a city.",
			Params:      []tool.Param{{Name: "city", Type: tool.TypeString, Required: true}},
			Category:    ledger.CategoryTravel,
			Invoke: func(_ context.Context, args tool.Args) (string, error) {
				return Recommendations(args.String("city")), nil
			},
		},
		{
			Name:        ToolTodo,
			Description: "Returns the current todo list.",
			Invoke: func(context.Context, tool.Args) (string, error) {
				return TodoList(), nil
			},
		},
		{
			Name:        ToolHotels,
			Description: "Search for hotels in a city with availability and pricing. Use city names (e.g., 'Paris', 'London', 'New York'). Date format should be YYYY-MM-DD.",
			Params: []tool.Param{
				{Name: "city", Type: tool.TypeString, Required: true},
				{Name: "check_in_date", Type: tool.TypeString, Required: true},
				{Name: "check_out_date", Type: tool.TypeString, Required: true},
				{Name: "adults", Type: tool.TypeInteger},
			},
			Category: ledger.CategoryTravel,
			Mode:     s.Search.Mode(),
			Invoke: func(ctx context.Context, args tool.Args) (string, error) {
				return s.Search.Hotels(ctx, args.String("city"), args.String("check_in_date"), args.String("check_out_date"), args.Int("adults", 1))
			},
		},
		{
			Name:        ToolActivities,
			Description: "Search for activities and points of interest in a city.",
			Params:      []tool.Param{{Name: "city", Type: tool.TypeString, Required: true}},
			Category:    ledger.CategoryTravel,
			Mode:        s.Search.Mode(),
			Invoke: func(ctx context.Context, args tool.Args) (string, error) {
				return s.Search.Activities(ctx, args.String("city"))
			},
		},
		{
			Name:        ToolCost,
			Description: "Calculate total travel cost including x402 payment fees.",
			Params: []tool.Param{
				{Name: "flights", Type: tool.TypeString, Required: true, Description: "Flight pricing information"},
				{Name: "hotels", Type: tool.TypeString},
				{Name: "activities", Type: tool.TypeString},
			},
			Invoke: func(_ context.Context, args tool.Args) (string, error) {
				return toJSON(CalculateCost(args.String("flights"), args.String("hotels"), args.String("activities"))), nil
			},
		},
		{
			Name:        ToolBookFlight,
			Description: "Book a specific flight with cryptocurrency payment.",
			Params: []tool.Param{
				{Name: "flight_id", Type: tool.TypeString, Required: true},
				{Name: "passenger_name", Type: tool.TypeString, Required: true},
				{Name: "passenger_email", Type: tool.TypeString, Required: true},
				{Name: "payment_method", Type: tool.TypeString, Description: "crypto or card"},
				{Name: "plan_id", Type: tool.TypeString},
			},
			Category: ledger.CategoryTravel,
			Invoke: func(ctx context.Context, args tool.Args) (string, error) {
				return s.Desk.Book(ctx, BookingRequest{
					FlightID:       args.String("flight_id"),
					PassengerName:  args.String("passenger_name"),
					PassengerEmail: args.String("passenger_email"),
					PaymentMethod:  args.String("payment_method"),
					PlanID:         args.String("plan_id"),
				})
			},
		},
		{
			Name:        ToolBookingStatus,
			Description: "Check the status of a travel booking.",
			Params:      []tool.Param{{Name: "booking_id", Type: tool.TypeString, Required: true}},
			Invoke: func(ctx context.Context, args tool.Args) (string, error) {
				return s.Desk.StatusText(ctx, args.String("booking_id"))
			},
		},
		{
			Name:        ToolConfirmBooking,
			Description: "Confirm payment for a booking and update its status.",
			Params: []tool.Param{
				{Name: "booking_id", Type: tool.TypeString, Required: true},
				{Name: "payment_transaction_hash", Type: tool.TypeString},
			},
			Invoke: func(ctx context.Context, args tool.Args) (string, error) {
				return s.Desk.ConfirmText(ctx, args.String("booking_id"), args.String("payment_transaction_hash"))
			},
		},
		{
			Name:        ToolPayment,
			Description: "Send a crypto payment to a wallet address or ENS name. When a referrer wallet is given the amount is split between the agent and the referrer.",
			Params: []tool.Param{
				{Name: "recipient_address", Type: tool.TypeString, Required: true},
				{Name: "amount", Type: tool.TypeNumber, Required: true},
				{Name: "token_symbol", Type: tool.TypeString},
				{Name: "referrer_wallet", Type: tool.TypeString},
			},
			Category: ledger.CategoryPayment,
			Mode:     s.Payments.Mode(),
			Invoke: func(ctx context.Context, args tool.Args) (string, error) {
				amount, _ := args.Float("amount")
				receipt, err := s.Payments.Pay(ctx, payment.Request{
					Recipient: args.String("recipient_address"),
					Amount:    amount,
					Token:     args.String("token_symbol"),
					Referrer:  args.String("referrer_wallet"),
				})
				if err != nil {
					return "", err
				}
				return receipt.Message(), nil
			},
		},
		{
			Name:        ToolBalance,
			Description: "Check the agent wallet balance.",
			Category:    ledger.CategoryBalance,
			Mode:        s.Wallet.Mode(),
			Invoke: func(ctx context.Context, _ tool.Args) (string, error) {
				report, err := s.Wallet.CheckBalance(ctx)
				if err != nil {
					return "", err
				}
				return report.String(), nil
			},
		},
		{
			Name:        ToolUpload,
			Description: "Upload a JSON payload to IPFS and return its content hash.",
			Params:      []tool.Param{{Name: "json_payload", Type: tool.TypeObject, Required: true}},
			Mode:        s.Content.Mode(),
			Invoke: func(ctx context.Context, args tool.Args) (string, error) {
				cid, err := s.Content.Store(ctx, args.Object("json_payload"))
				if err != nil {
					return "", err
				}
				return UploadMessage(cid), nil
			},
		},
		{
			Name:        ToolReferrals,
			Description: "Retrieve referral records from IPFS by wallet address (referrer or referee).",
			Params:      []tool.Param{{Name: "wallet_address", Type: tool.TypeString, Required: true}},
			Mode:        s.Content.Mode(),
			Invoke: func(ctx context.Context, args tool.Args) (string, error) {
				wallet := args.String("wallet_address")
				records, err := s.Referrals.FindByWallet(ctx, wallet)
				if err != nil {
					return "", err
				}
				if len(records) == 0 {
					return fmt.Sprintf("No referral records found for wallet %s.", wallet), nil
				}
				return toJSON(records), nil
			},
		},
	}
}

// UploadMessage 返回上传成功的提示。
func UploadMessage(cid string) string {
	return "Content uploaded to IPFS successfully. Hash: " + cid
}
