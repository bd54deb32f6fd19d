package travel

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var pricePattern = regexp.MustCompile(`\$([0-9,]+\.?[0-9]*)`)

// 每类预订的手续费（USDC），等于查询费加预订费。
const (
	flightFees   = 0.11
	hotelFees    = 0.11
	activityFees = 0.055
)

// BookingFees 是各环节的手续费明细。
type BookingFees struct {
	FlightSearch    float64 `json:"flight_search"`
	FlightBooking   float64 `json:"flight_booking"`
	HotelSearch     float64 `json:"hotel_search"`
	HotelBooking    float64 `json:"hotel_booking"`
	ActivitySearch  float64 `json:"activity_search"`
	ActivityBooking float64 `json:"activity_booking"`
}

// CostBreakdown 是费用汇总。
type CostBreakdown struct {
	Flights     float64     `json:"flights"`
	Hotels      float64     `json:"hotels"`
	Activities  float64     `json:"activities"`
	BookingFees BookingFees `json:"booking_fees"`
	TotalFees   float64     `json:"total_fees"`
	GrandTotal  float64     `json:"grand_total"`
}

// CostReport 是 calculate_travel_cost 的返回结构。
type CostReport struct {
	Status      string        `json:"status"`
	Breakdown   CostBreakdown `json:"breakdown"`
	Summary     string        `json:"summary"`
	PaymentNote string        `json:"payment_note"`
}

// CalculateCost 从价格描述中取第一个 $ 金额并加上对应手续费。
func CalculateCost(flights, hotels, activities string) CostReport {
	b := CostBreakdown{BookingFees: BookingFees{
		FlightSearch:    0.01,
		FlightBooking:   0.10,
		HotelSearch:     0.01,
		HotelBooking:    0.10,
		ActivitySearch:  0.005,
		ActivityBooking: 0.05,
	}}
	var fees float64
	if v, ok := firstPrice(flights); ok {
		b.Flights = v
		fees += flightFees
	}
	if v, ok := firstPrice(hotels); ok {
		b.Hotels = v
		fees += hotelFees
	}
	if v, ok := firstPrice(activities); ok {
		b.Activities = v
		fees += activityFees
	}
	total := b.Flights + b.Hotels + b.Activities
	b.TotalFees = math.Round(fees*1000) / 1000
	b.GrandTotal = math.Round((total+b.TotalFees)*1000) / 1000
	return CostReport{
		Status:      "success",
		Breakdown:   b,
		Summary:     fmt.Sprintf("Total travel cost: $%.2f + $%.3f USDC in booking fees = $%.2f total", total, b.TotalFees, b.GrandTotal),
		PaymentNote: "Booking fees are paid in USDC via x402 standard for instant, secure transactions",
	}
}

func firstPrice(text string) (float64, bool) {
	m := pricePattern.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
