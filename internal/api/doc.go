// Package api exposes the travel agent over HTTP: the conversational /agent
// entry point, wallet and content helpers, spend-cap administration, plan and
// booking records, asynchronous runs and the Prometheus scrape endpoint.
package api
