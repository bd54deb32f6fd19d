// Package travel implements the agent's tool set and registers it with a
// tool.Registry.
//
// The external APIs are OpenWeather for current conditions and Amadeus for
// flights, hotels, points of interest and airport lookups. Each client has a
// demo twin that returns deterministic data, so every tool works without
// credentials. The wallet, payment, content storage and booking tools are thin
// adapters over the payment, ipfs, referral and mysql packages.
package travel
