// Package travelagent is a small HTTP client for the travel agent wallet API.
//
// It mirrors the JSON shapes served by travelagentd without importing the
// server packages, so it can be vendored by other modules.
package travelagent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"
)

// DefaultHTTPTimeout is used when NewClient receives a nil http.Client. Agent
// calls may chain several tools and an LLM round, so it is generous.
const DefaultHTTPTimeout = 90 * time.Second

// Client wraps the HTTP interactions with travelagentd.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// Outcome is the /agent response.
type Outcome struct {
	Status    string   `json:"status"`
	Response  string   `json:"response"`
	Error     string   `json:"error,omitempty"`
	ErrorCode string   `json:"error_code,omitempty"`
	Tool      string   `json:"tool,omitempty"`
	IPFSHash  string   `json:"ipfs_hash,omitempty"`
	Denied    bool     `json:"denied,omitempty"`
	Warnings  []string `json:"warnings,omitempty"`
}

// Health reports the server banner and the live/demo mode of each collaborator.
type Health struct {
	Message string            `json:"response"`
	Modes   map[string]string `json:"modes"`
}

// Balance is a single asset balance.
type Balance struct {
	Symbol string `json:"symbol"`
	Amount string `json:"amount"`
}

// BalanceReport describes the agent wallet.
type BalanceReport struct {
	Address  string    `json:"address"`
	Mode     string    `json:"mode"`
	Balances []Balance `json:"balances"`
}

// Referral is one referral record read back from content storage.
type Referral struct {
	ReferrerWallet string  `json:"referrer_wallet"`
	RefereeWallet  string  `json:"referee_wallet"`
	RequestText    string  `json:"request_text"`
	TransactionID  string  `json:"transaction_id"`
	Amount         float64 `json:"amount"`
	Token          string  `json:"token"`
	Timestamp      string  `json:"timestamp"`
	Type           string  `json:"type"`
}

// SpendSummary is the ledger cap and usage.
type SpendSummary struct {
	Cap       float64 `json:"spend_cap"`
	Total     float64 `json:"total_spend"`
	Remaining float64 `json:"remaining_cap"`
	Count     int     `json:"transaction_count"`
}

// SpendEntry is one charged operation.
type SpendEntry struct {
	Seq       int64          `json:"seq"`
	Category  string         `json:"tool"`
	Amount    float64        `json:"amount"`
	Metadata  map[string]any `json:"meta,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// RunSubmission queues an agent request for asynchronous execution.
type RunSubmission struct {
	ID          string   `json:"id,omitempty"`
	Input       string   `json:"input"`
	Referrer    string   `json:"referrer_wallet,omitempty"`
	ChatHistory []string `json:"chat_history,omitempty"`
}

// Run is the state of a queued agent request.
type Run struct {
	ID          string   `json:"id"`
	Input       string   `json:"input"`
	Referrer    string   `json:"referrer_wallet,omitempty"`
	ChatHistory []string `json:"chat_history,omitempty"`
	Status      string   `json:"status"`
	Attempts    int      `json:"attempts"`
	MaxRetries  int      `json:"max_retries"`
	LastError   string   `json:"last_error,omitempty"`
	ErrorCode   string   `json:"error_code,omitempty"`
	Result      *Outcome `json:"result,omitempty"`
	CreatedAt   int64    `json:"created_at"`
	UpdatedAt   int64    `json:"updated_at"`
}

// Terminal reports whether the run will not change any more.
func (r Run) Terminal() bool {
	return r.Status == "succeeded" || (r.Status == "failed" && r.Attempts >= r.MaxRetries)
}

// RunStats aggregates run counts for a listing.
type RunStats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// RunFilter narrows ListRuns.
type RunFilter struct {
	Statuses []string
	Referrer string
	Limit    int
	Offset   int
}

// PlanSubmission creates a travel plan.
type PlanSubmission struct {
	UserWallet  string          `json:"user_wallet,omitempty"`
	Destination string          `json:"destination"`
	Budget      int             `json:"budget"`
	PlanData    json.RawMessage `json:"plan_data"`
}

// Plan is a stored travel plan.
type Plan struct {
	ID          string          `json:"id"`
	UserWallet  string          `json:"user_wallet,omitempty"`
	Destination string          `json:"destination"`
	Budget      int             `json:"budget"`
	PlanData    json.RawMessage `json:"plan_data"`
	Status      string          `json:"status"`
	IPFSHash    string          `json:"ipfs_hash,omitempty"`
	CreatedAt   int64           `json:"created_at"`
	UpdatedAt   int64           `json:"updated_at"`
}

// BookingSubmission creates a flight booking.
type BookingSubmission struct {
	FlightID       string `json:"flight_id"`
	PassengerName  string `json:"passenger_name"`
	PassengerEmail string `json:"passenger_email"`
	PaymentMethod  string `json:"payment_method"`
	PlanID         string `json:"plan_id,omitempty"`
}

// BookingUpdate changes booking fields; empty fields are kept.
type BookingUpdate struct {
	Status        string `json:"status,omitempty"`
	PaymentStatus string `json:"payment_status,omitempty"`
	TxHash        string `json:"tx_hash,omitempty"`
}

// Booking is a stored flight booking.
type Booking struct {
	ID              string  `json:"id"`
	FlightID        string  `json:"flight_id"`
	PassengerName   string  `json:"passenger_name"`
	PassengerEmail  string  `json:"passenger_email"`
	PaymentMethod   string  `json:"payment_method"`
	PaymentAmount   float64 `json:"payment_amount"`
	PaymentCurrency string  `json:"payment_currency"`
	Status          string  `json:"status"`
	PaymentStatus   string  `json:"payment_status"`
	PlanID          string  `json:"plan_id,omitempty"`
	TxHash          string  `json:"tx_hash,omitempty"`
	CreatedAt       int64   `json:"created_at"`
	UpdatedAt       int64   `json:"updated_at"`
}

// APIError is returned when the server answers with status "error" or an
// HTTP error code.
type APIError struct {
	StatusCode int
	Code       string `json:"error_code"`
	Message    string `json:"error"`
	Response   string `json:"response"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" {
		msg = e.Response
	}
	if e.Code != "" {
		return fmt.Sprintf("travelagent api error (%d): %s - %s", e.StatusCode, e.Code, msg)
	}
	return fmt.Sprintf("travelagent api error (%d): %s", e.StatusCode, msg)
}

// envelope is the shape of every response except /agent.
type envelope struct {
	Status    string            `json:"status"`
	Response  json.RawMessage   `json:"response"`
	Error     string            `json:"error"`
	ErrorCode string            `json:"error_code"`
	Data      json.RawMessage   `json:"data"`
	Warnings  []string          `json:"warnings"`
	Modes     map[string]string `json:"modes"`
}

// NewClient instantiates a client for the API rooted at rawURL. When
// httpClient is nil, a default client with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", rawURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// Chat sends one message to the agent. A denied or failed pipeline still
// returns the outcome; only transport and HTTP errors are returned as err.
func (c *Client) Chat(ctx context.Context, input, referrer string, history []string) (Outcome, error) {
	payload := map[string]any{"input": input}
	if referrer != "" {
		payload["referrer_wallet"] = referrer
	}
	if len(history) > 0 {
		payload["chat_history"] = history
	}
	var out Outcome
	if err := c.send(ctx, http.MethodPost, "/agent", nil, payload, &out); err != nil {
		return Outcome{}, err
	}
	return out, nil
}

// Health returns the server banner and collaborator modes.
func (c *Client) Health(ctx context.Context) (Health, error) {
	env, err := c.call(ctx, http.MethodGet, "/health", nil, nil)
	if err != nil {
		return Health{}, err
	}
	h := Health{Modes: env.Modes}
	_ = json.Unmarshal(env.Response, &h.Message)
	return h, nil
}

// WalletBalance returns the agent wallet balances.
func (c *Client) WalletBalance(ctx context.Context) (BalanceReport, error) {
	var report BalanceReport
	env, err := c.call(ctx, http.MethodGet, "/wallet-balance", nil, nil)
	if err != nil {
		return report, err
	}
	return report, decodeRaw(env.Data, &report)
}

// Upload stores free-form content and returns its content identifier.
func (c *Client) Upload(ctx context.Context, content string) (string, error) {
	env, err := c.call(ctx, http.MethodPost, "/ipfs-upload", nil, map[string]string{"content": content})
	if err != nil {
		return "", err
	}
	var data struct {
		Hash string `json:"ipfs_hash"`
	}
	if err := decodeRaw(env.Data, &data); err != nil {
		return "", err
	}
	return data.Hash, nil
}

// Referrals lists referral records where wallet is the referrer.
func (c *Client) Referrals(ctx context.Context, wallet string) ([]Referral, error) {
	var records []Referral
	env, err := c.call(ctx, http.MethodGet, "/referrals/"+url.PathEscape(wallet), nil, nil)
	if err != nil {
		return nil, err
	}
	return records, decodeRaw(env.Response, &records)
}

// Spend returns the ledger summary.
func (c *Client) Spend(ctx context.Context) (SpendSummary, error) {
	var summary SpendSummary
	env, err := c.call(ctx, http.MethodGet, "/spend", nil, nil)
	if err != nil {
		return summary, err
	}
	return summary, decodeRaw(env.Response, &summary)
}

// SetSpendCap replaces the ledger cap and returns the new summary.
func (c *Client) SetSpendCap(ctx context.Context, cap float64) (SpendSummary, error) {
	var summary SpendSummary
	env, err := c.call(ctx, http.MethodPut, "/spend/cap", nil, map[string]float64{"cap": cap})
	if err != nil {
		return summary, err
	}
	return summary, decodeRaw(env.Response, &summary)
}

// SpendHistory returns the most recent ledger entries.
func (c *Client) SpendHistory(ctx context.Context, limit int) ([]SpendEntry, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var entries []SpendEntry
	env, err := c.call(ctx, http.MethodGet, "/spend/transactions", query, nil)
	if err != nil {
		return nil, err
	}
	return entries, decodeRaw(env.Response, &entries)
}

// SubmitRun queues an agent request.
func (c *Client) SubmitRun(ctx context.Context, sub RunSubmission) (Run, error) {
	var run Run
	env, err := c.call(ctx, http.MethodPost, "/runs", nil, sub)
	if err != nil {
		return run, err
	}
	return run, decodeRaw(env.Response, &run)
}

// GetRun fetches a run by identifier.
func (c *Client) GetRun(ctx context.Context, id string) (Run, error) {
	var run Run
	env, err := c.call(ctx, http.MethodGet, "/runs/"+url.PathEscape(id), nil, nil)
	if err != nil {
		return run, err
	}
	return run, decodeRaw(env.Response, &run)
}

// ListRuns lists runs and their aggregate counts.
func (c *Client) ListRuns(ctx context.Context, filter RunFilter) ([]Run, RunStats, error) {
	query := url.Values{}
	if len(filter.Statuses) > 0 {
		query.Set("status", strings.Join(filter.Statuses, ","))
	}
	if filter.Referrer != "" {
		query.Set("referrer", filter.Referrer)
	}
	if filter.Limit > 0 {
		query.Set("limit", strconv.Itoa(filter.Limit))
	}
	if filter.Offset > 0 {
		query.Set("offset", strconv.Itoa(filter.Offset))
	}
	env, err := c.call(ctx, http.MethodGet, "/runs", query, nil)
	if err != nil {
		return nil, RunStats{}, err
	}
	var runs []Run
	var stats RunStats
	if err := decodeRaw(env.Response, &runs); err != nil {
		return nil, RunStats{}, err
	}
	if err := decodeRaw(env.Data, &stats); err != nil {
		return nil, RunStats{}, err
	}
	return runs, stats, nil
}

// WaitRun polls a run until it is terminal or ctx ends.
func (c *Client) WaitRun(ctx context.Context, id string, interval time.Duration) (Run, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		run, err := c.GetRun(ctx, id)
		if err != nil {
			return Run{}, err
		}
		if run.Terminal() {
			return run, nil
		}
		select {
		case <-ctx.Done():
			return run, ctx.Err()
		case <-ticker.C:
		}
	}
}

// CreatePlan stores a travel plan. Warnings report a failed content archive.
func (c *Client) CreatePlan(ctx context.Context, sub PlanSubmission) (Plan, []string, error) {
	var plan Plan
	env, err := c.call(ctx, http.MethodPost, "/plans", nil, sub)
	if err != nil {
		return plan, nil, err
	}
	return plan, env.Warnings, decodeRaw(env.Response, &plan)
}

// GetPlan fetches a plan.
func (c *Client) GetPlan(ctx context.Context, id string) (Plan, error) {
	var plan Plan
	env, err := c.call(ctx, http.MethodGet, "/plans/"+url.PathEscape(id), nil, nil)
	if err != nil {
		return plan, err
	}
	return plan, decodeRaw(env.Response, &plan)
}

// ListPlans lists the plans of a wallet.
func (c *Client) ListPlans(ctx context.Context, wallet string, limit int) ([]Plan, error) {
	query := url.Values{"wallet": []string{wallet}}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var plans []Plan
	env, err := c.call(ctx, http.MethodGet, "/plans", query, nil)
	if err != nil {
		return nil, err
	}
	return plans, decodeRaw(env.Response, &plans)
}

// UpdatePlanStatus changes the plan status.
func (c *Client) UpdatePlanStatus(ctx context.Context, id, status string) (Plan, error) {
	var plan Plan
	env, err := c.call(ctx, http.MethodPatch, "/plans/"+url.PathEscape(id)+"/status", nil, map[string]string{"status": status})
	if err != nil {
		return plan, err
	}
	return plan, decodeRaw(env.Response, &plan)
}

// CreateBooking books a flight from a search result identifier.
func (c *Client) CreateBooking(ctx context.Context, sub BookingSubmission) (Booking, error) {
	var booking Booking
	env, err := c.call(ctx, http.MethodPost, "/bookings", nil, sub)
	if err != nil {
		return booking, err
	}
	return booking, decodeRaw(env.Response, &booking)
}

// GetBooking fetches a booking.
func (c *Client) GetBooking(ctx context.Context, id string) (Booking, error) {
	var booking Booking
	env, err := c.call(ctx, http.MethodGet, "/bookings/"+url.PathEscape(id), nil, nil)
	if err != nil {
		return booking, err
	}
	return booking, decodeRaw(env.Response, &booking)
}

// UpdateBooking changes booking status fields.
func (c *Client) UpdateBooking(ctx context.Context, id string, update BookingUpdate) (Booking, error) {
	var booking Booking
	env, err := c.call(ctx, http.MethodPatch, "/bookings/"+url.PathEscape(id)+"/status", nil, update)
	if err != nil {
		return booking, err
	}
	return booking, decodeRaw(env.Response, &booking)
}

// call sends a request whose response is an envelope and turns status
// "error" into *APIError even when the HTTP status is 200.
func (c *Client) call(ctx context.Context, method, endpoint string, query url.Values, payload any) (*envelope, error) {
	var env envelope
	if err := c.send(ctx, method, endpoint, query, payload, &env); err != nil {
		return nil, err
	}
	if env.Status == "error" {
		apiErr := &APIError{StatusCode: http.StatusOK, Code: env.ErrorCode, Message: env.Error}
		_ = json.Unmarshal(env.Response, &apiErr.Response)
		return nil, apiErr
	}
	return &env, nil
}

func (c *Client) send(ctx context.Context, method, endpoint string, query url.Values, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	u := c.baseURL.ResolveReference(rel)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 && json.Unmarshal(data, apiErr) != nil {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeRaw(raw json.RawMessage, out any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
