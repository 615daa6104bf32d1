package booklinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Bookline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// WithToken returns a copy of the client authenticating with token.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.BearerToken = token
	cp.APIKey = ""
	return &cp
}

type Proposal struct {
	ID               string `json:"id"`
	ProfessionalID   string `json:"professional_id"`
	ClientID         string `json:"client_id"`
	AgreedValueCents int64  `json:"agreed_value_cents"`
	CreditsOffered   int    `json:"credits_offered"`
	Description      string `json:"description,omitempty"`
	Status           string `json:"status"`
	CreatedAt        string `json:"created_at"`
	RespondedAt      string `json:"responded_at,omitempty"`
}

// ProposalInput is the body of CreateProposal.
type ProposalInput struct {
	ProfessionalID          string `json:"professional_id"`
	ClientID                string `json:"client_id"`
	AgreedValueCents        int64  `json:"agreed_value_cents,omitempty"`
	CreditsOffered          int    `json:"credits_offered"`
	Description             string `json:"description,omitempty"`
	MinNoticeHours          int    `json:"min_notice_hours,omitempty"`
	CancellationWindowHours int    `json:"cancellation_window_hours,omitempty"`
	Send                    bool   `json:"send,omitempty"`
}

type Appointment struct {
	ID             string `json:"id"`
	ProfessionalID string `json:"professional_id"`
	ClientID       string `json:"client_id"`
	Date           string `json:"date"`
	Time           string `json:"time"`
	Title          string `json:"title,omitempty"`
	Status         string `json:"status"`
	CreditConsumed bool   `json:"credit_consumed"`
}

type CancelResult struct {
	Appointment  Appointment `json:"appointment"`
	Refunded     bool        `json:"refunded"`
	MinutesAhead int         `json:"minutes_ahead"`
}

type Balance struct {
	ProfessionalID string `json:"professional_id"`
	ClientID       string `json:"client_id"`
	Issued         int    `json:"issued"`
	Consumed       int    `json:"consumed"`
	Available      int    `json:"available"`
	ClientRole     string `json:"client_role,omitempty"`
}

type Slot struct {
	Time   string `json:"time"`
	Status string `json:"status"`
}

type Day struct {
	ProfessionalID string `json:"professional_id"`
	Date           string `json:"date"`
	FullyBlocked   bool   `json:"fully_blocked"`
	Slots          []Slot `json:"slots"`
}

// Event represents an audit log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses. Code is taken from the error envelope when present.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// DevLogin mints a development token for actorID. The server must enable dev login.
func (c *Client) DevLogin(ctx context.Context, actorID, role string) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	err := c.do(ctx, http.MethodPost, "auth/dev/login", map[string]string{"actor_id": actorID, "role": role}, &resp)
	return resp.Token, err
}

func (c *Client) CreateProposal(ctx context.Context, in ProposalInput) (Proposal, error) {
	var resp Proposal
	err := c.do(ctx, http.MethodPost, "proposals", in, &resp)
	return resp, err
}

func (c *Client) SendProposal(ctx context.Context, id string) (Proposal, error) {
	var resp Proposal
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("proposals/%s/send", url.PathEscape(id)), nil, &resp)
	return resp, err
}

// RespondProposal accepts or rejects a proposal as its client.
func (c *Client) RespondProposal(ctx context.Context, id string, accept bool) (Proposal, error) {
	var resp Proposal
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("proposals/%s/respond", url.PathEscape(id)), map[string]bool{"accept": accept}, &resp)
	return resp, err
}

// Book reserves a slot for the caller.
func (c *Client) Book(ctx context.Context, professionalID, date, clock, title string) (Appointment, error) {
	body := map[string]string{
		"professional_id": professionalID,
		"date":            date,
		"time":            clock,
		"title":           title,
	}
	var resp Appointment
	err := c.do(ctx, http.MethodPost, "appointments", body, &resp)
	return resp, err
}

func (c *Client) Cancel(ctx context.Context, appointmentID string) (CancelResult, error) {
	var resp CancelResult
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("appointments/%s/cancel", url.PathEscape(appointmentID)), nil, &resp)
	return resp, err
}

func (c *Client) Balance(ctx context.Context, professionalID, clientID string) (Balance, error) {
	var resp Balance
	endpoint := fmt.Sprintf("professionals/%s/clients/%s/balance", url.PathEscape(professionalID), url.PathEscape(clientID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) CanSchedule(ctx context.Context, professionalID string) (bool, error) {
	var resp struct {
		CanSchedule bool `json:"can_schedule"`
	}
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("professionals/%s/can-schedule", url.PathEscape(professionalID)), nil, &resp)
	return resp.CanSchedule, err
}

// Day returns the slot grid of one date.
func (c *Client) Day(ctx context.Context, professionalID, date string) (Day, error) {
	var resp Day
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("professionals/%s/days/%s", url.PathEscape(professionalID), url.PathEscape(date)), nil, &resp)
	return resp, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/v0/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
