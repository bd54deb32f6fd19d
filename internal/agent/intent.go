package agent

import (
	"regexp"
	"strconv"
	"strings"

	"TravelAgent-Chain/internal/ledger"
	"TravelAgent-Chain/internal/tool"
	"TravelAgent-Chain/internal/travel"
)

// Intent 是有序路由表中的一项，先匹配者胜出。
type Intent struct {
	Name string
	Tool string
	// Category 为空表示免费。
	Category string
	// Action 用于额度不足时的提示，如 "process payment"。
	Action string
	// Match 同时接收原始输入与小写形式。
	Match func(text, lower string) bool
	// Extract 从原始输入中提取参数，失败时返回 false。
	Extract func(text string, s *State) (tool.Args, bool)
}

var (
	paymentPattern = regexp.MustCompile(`(?i)\b(?:pay|send|transfer)\s+([0-9]+(?:\.[0-9]+)?|\.[0-9]+)\s+([a-z][a-z0-9]*)\s+to\s+(?:address\s+)?(0x[0-9a-f]{40}|[a-z0-9-]+(?:\.[a-z0-9-]+)*\.eth)\b`)
	walletPattern  = regexp.MustCompile(`(?i)(0x[0-9a-f]{40}|[a-z0-9-]+\.eth)\b`)
	routeFromTo    = regexp.MustCompile(`\bFROM\s+([A-Z]{3})\s+TO\s+([A-Z]{3})\b`)
	routeBare      = regexp.MustCompile(`\b([A-Z]{3})\s+TO\s+([A-Z]{3})\b`)
	isoDate        = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`)
	iataToken      = regexp.MustCompile(`\b[A-Z]{3}\b`)
	wordToken      = regexp.MustCompile(`\b[A-Za-z]{3}\b`)
)

var (
	balancePhrases        = []string{"wallet balance", "check my balance", "account balance"}
	balanceWords          = []string{"wallet", "balance", "crypto", "coinbase"}
	recommendationPhrases = []string{"activities", "attractions", "things to do", "recommendations"}
)

// DefaultIntents 返回按优先级排列的路由表。
func DefaultIntents() []Intent {
	return []Intent{
		{
			Name:    "log_to_ipfs",
			Tool:    travel.ToolUpload,
			Action:  "log to IPFS",
			Match:   func(_, lower string) bool { return strings.Contains(lower, "log to ipfs") },
			Extract: extractLog,
		},
		{
			Name:     "payment",
			Tool:     travel.ToolPayment,
			Category: ledger.CategoryPayment,
			Action:   "process payment",
			Match:    func(_, lower string) bool { return paymentPattern.MatchString(lower) },
			Extract:  extractPayment,
		},
		{
			Name:   "referral_lookup",
			Tool:   travel.ToolReferrals,
			Action: "look up referrals",
			Match: func(_, lower string) bool {
				return strings.Contains(lower, "referral") && walletPattern.MatchString(lower)
			},
			Extract: func(text string, _ *State) (tool.Args, bool) {
				m := walletPattern.FindStringSubmatch(text)
				if m == nil {
					return nil, false
				}
				return tool.Args{"wallet_address": m[1]}, true
			},
		},
		{
			Name:     "wallet_balance",
			Tool:     travel.ToolBalance,
			Category: ledger.CategoryBalance,
			Action:   "check wallet balance",
			Match: func(_, lower string) bool {
				return containsAny(lower, balancePhrases) || containsAny(lower, balanceWords)
			},
			Extract: func(string, *State) (tool.Args, bool) { return tool.Args{}, true },
		},
		{
			Name:     "weather",
			Tool:     travel.ToolWeather,
			Category: ledger.CategoryWeather,
			Action:   "check weather",
			Match:    func(_, lower string) bool { return strings.Contains(lower, "weather") },
			Extract: func(text string, _ *State) (tool.Args, bool) {
				location := trimPunct(afterLast(text, "in "))
				if location == "" {
					return nil, false
				}
				return tool.Args{"location": location}, true
			},
		},
		{
			Name:    "todo",
			Tool:    travel.ToolTodo,
			Action:  "get the todo list",
			Match:   func(_, lower string) bool { return strings.Contains(lower, "todo") },
			Extract: func(string, *State) (tool.Args, bool) { return tool.Args{}, true },
		},
		{
			Name:     "flight_search",
			Tool:     travel.ToolFlights,
			Category: ledger.CategoryTravel,
			Action:   "search flights",
			Match: func(_, lower string) bool {
				if !strings.Contains(lower, "flight") {
					return false
				}
				return strings.Contains(lower, "search") || (strings.Contains(lower, "from") && strings.Contains(lower, "to"))
			},
			Extract: extractFlight,
		},
		{
			Name:     "airport_info",
			Tool:     travel.ToolAirport,
			Category: ledger.CategoryTravel,
			Action:   "get airport info",
			Match: func(text, lower string) bool {
				return strings.Contains(lower, "airport") || matchesKnownCode(text)
			},
			Extract: extractAirport,
		},
		{
			Name:     "travel_recommendations",
			Tool:     travel.ToolRecommendations,
			Category: ledger.CategoryTravel,
			Action:   "get travel recommendations",
			Match: func(_, lower string) bool {
				return containsAny(lower, recommendationPhrases) && strings.Contains(lower, "in ")
			},
			Extract: func(text string, _ *State) (tool.Args, bool) {
				fields := strings.Fields(afterLast(text, "in "))
				if len(fields) == 0 {
					return nil, false
				}
				city := trimPunct(fields[0])
				if city == "" {
					return nil, false
				}
				return tool.Args{"city": city}, true
			},
		},
	}
}

func extractLog(text string, _ *State) (tool.Args, bool) {
	idx := strings.Index(lowerASCII(text), "log to ipfs")
	if idx < 0 {
		return nil, false
	}
	content := strings.TrimSpace(text[idx+len("log to ipfs"):])
	content = strings.TrimSpace(strings.TrimLeft(content, ":-"))
	if content == "" {
		return nil, false
	}
	return tool.Args{"json_payload": map[string]any{"type": "log", "content": content}}, true
}

func extractPayment(text string, s *State) (tool.Args, bool) {
	m := paymentPattern.FindStringSubmatch(text)
	if m == nil {
		return nil, false
	}
	amount, err := strconv.ParseFloat(m[1], 64)
	if err != nil || amount <= 0 {
		return nil, false
	}
	args := tool.Args{
		"recipient_address": m[3],
		"amount":            amount,
		"token_symbol":      strings.ToUpper(m[2]),
	}
	if s != nil && s.Referrer != "" {
		args["referrer_wallet"] = s.Referrer
	}
	return args, true
}

func extractFlight(text string, _ *State) (tool.Args, bool) {
	upper := strings.ToUpper(text)
	m := routeFromTo.FindStringSubmatch(upper)
	if m == nil {
		m = routeBare.FindStringSubmatch(upper)
	}
	date := isoDate.FindString(text)
	if m == nil || date == "" {
		return nil, false
	}
	return tool.Args{"origin": m[1], "destination": m[2], "departure_date": date}, true
}

// extractAirport 取第一个三字母大写代码，优先内置机场表中的代码。
func extractAirport(text string, _ *State) (tool.Args, bool) {
	tokens := iataToken.FindAllString(text, -1)
	for _, tok := range tokens {
		if travel.KnownAirport(tok) {
			return tool.Args{"airport_code": tok}, true
		}
	}
	if len(tokens) > 0 {
		return tool.Args{"airport_code": tokens[0]}, true
	}
	for _, w := range wordToken.FindAllString(text, -1) {
		if travel.KnownAirport(w) {
			return tool.Args{"airport_code": strings.ToUpper(w)}, true
		}
	}
	return nil, false
}

// matchesKnownCode 报告输入中是否出现内置机场代码。
func matchesKnownCode(text string) bool {
	for _, tok := range iataToken.FindAllString(text, -1) {
		if travel.KnownAirport(tok) {
			return true
		}
	}
	return false
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// afterLast 返回最后一个 sep（不区分大小写）之后的文本，找不到时为空。
func afterLast(text, sep string) string {
	idx := strings.LastIndex(lowerASCII(text), sep)
	if idx < 0 {
		return ""
	}
	return strings.TrimSpace(text[idx+len(sep):])
}

func trimPunct(s string) string {
	return strings.TrimSpace(strings.TrimRight(strings.TrimSpace(s), ".,!?;:'\")"))
}

// lowerASCII 只转换 ASCII 字母，保证下标与原文一致。
func lowerASCII(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= 'A' && r <= 'Z' {
			return r + ('a' - 'A')
		}
		return r
	}, s)
}
