package polls

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/time/rate"

	"roomsync/internal/credential"
	"roomsync/internal/httputil"
	"roomsync/internal/models"
)

// APIError is a non-2xx answer from the poll service. Message is the
// server's own error text when it sent one.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string { return e.Message }

// Client talks to the poll HTTP API under baseURL.
type Client struct {
	baseURL string
	http    *http.Client
	creds   credential.Source
	limiter *rate.Limiter
}

type ClientOption func(*Client)

func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.http = h }
}

func WithCredentials(src credential.Source) ClientOption {
	return func(c *Client) { c.creds = src }
}

// WithRateLimit overrides the default of 5 requests per second, burst 5.
func WithRateLimit(l *rate.Limiter) ClientOption {
	return func(c *Client) { c.limiter = l }
}

func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	baseURL = strings.TrimRight(baseURL, "/")
	if err := httputil.ValidateBaseURL(baseURL); err != nil {
		return nil, err
	}
	c := &Client{
		baseURL: baseURL,
		http:    httputil.NewClientWithTimeout(httputil.DefaultTimeout),
		creds:   credential.None(),
		limiter: rate.NewLimiter(5, 5),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload any) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	token, err := credential.Resolve(ctx, c.creds)
	if err != nil {
		return nil, err
	}
	httputil.SetBearer(req, token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connection failed: %w", err)
	}
	defer httputil.DrainBody(resp)

	data, err := httputil.ReadBody(resp)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, ok := httputil.ErrorMessage(data)
		if !ok {
			msg = httputil.StatusMessage(resp.StatusCode)
		}
		return nil, &APIError{Status: resp.StatusCode, Message: msg}
	}
	return json.RawMessage(data), nil
}

type listResponse struct {
	Polls []models.Poll `json:"polls"`
}

// List returns the active polls of a room, newest first as the server
// orders them.
func (c *Client) List(ctx context.Context, room string) ([]models.Poll, error) {
	raw, err := c.do(ctx, http.MethodGet, "/polls", url.Values{"roomName": {room}}, nil)
	if err != nil {
		return nil, fmt.Errorf("listing polls: %w", err)
	}
	var resp listResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("parsing poll list: %w", err)
	}
	if resp.Polls == nil {
		resp.Polls = []models.Poll{}
	}
	return resp.Polls, nil
}

type voteRequest struct {
	PollID   int64 `json:"pollId"`
	OptionID int64 `json:"optionId"`
}

func (c *Client) Vote(ctx context.Context, pollID, optionID int64) error {
	if _, err := c.do(ctx, http.MethodPost, "/polls/vote", nil, voteRequest{PollID: pollID, OptionID: optionID}); err != nil {
		return fmt.Errorf("voting on poll %d: %w", pollID, err)
	}
	return nil
}

type createRequest struct {
	RoomName string   `json:"roomName"`
	Question string   `json:"question"`
	Options  []string `json:"options"`
}

func (c *Client) Create(ctx context.Context, room string, in models.PollInput) (*models.Poll, error) {
	raw, err := c.do(ctx, http.MethodPost, "/polls", nil, createRequest{
		RoomName: room,
		Question: in.Question,
		Options:  in.Options,
	})
	if err != nil {
		return nil, fmt.Errorf("creating poll: %w", err)
	}
	var p models.Poll
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("parsing created poll: %w", err)
	}
	return &p, nil
}

func (c *Client) Close(ctx context.Context, pollID int64) error {
	path := "/polls/" + strconv.FormatInt(pollID, 10) + "/close"
	if _, err := c.do(ctx, http.MethodPost, path, nil, nil); err != nil {
		return fmt.Errorf("closing poll %d: %w", pollID, err)
	}
	return nil
}
