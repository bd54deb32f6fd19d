package travel

import (
	"fmt"
	"strings"
)

var attractions = map[string][]string{
	"paris":    {"Eiffel Tower", "Louvre Museum", "Notre-Dame Cathedral", "Champs-Élysées", "Arc de Triomphe", "Seine River Cruise", "Palace of Versailles"},
	"london":   {"Big Ben", "Buckingham Palace", "Tower of London", "British Museum", "Westminster Abbey", "London Eye", "Tower Bridge"},
	"new york": {"Statue of Liberty", "Times Square", "Central Park", "Empire State Building", "Broadway", "Metropolitan Museum of Art", "Brooklyn Bridge"},
	"tokyo":    {"Tokyo Tower", "Senso-ji Temple", "Shibuya Crossing", "Tokyo Skytree", "Imperial Palace", "Meiji Shrine", "Tsukiji Fish Market"},
	"rome":     {"Colosseum", "Vatican City", "Trevi Fountain", "Pantheon", "Roman Forum", "Sistine Chapel", "Spanish Steps"},
}

// Recommendations 返回城市的热门景点介绍，未收录的城市给出通用建议。
func Recommendations(city string) string {
	city = strings.TrimSpace(city)
	names, ok := attractions[strings.ToLower(city)]
	if !ok {
		return fmt.Sprintf("Travel recommendations for %s: This is a great city to explore! Consider visiting local museums, restaurants, and cultural sites. For specific activities, you may want to check local tourism websites or travel guides.", city)
	}
	return fmt.Sprintf("Travel recommendations for %s:\nPopular attractions in %s: %s", city, titleWords(city), strings.Join(names, ", "))
}

func titleWords(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// TodoList 返回固定的待办清单。
func TodoList() string {
	return "Current todo list:\n1) Build agent\n2) Test the agent graph\n3) Deploy system"
}
