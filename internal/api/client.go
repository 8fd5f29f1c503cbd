package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"supportchat/internal/config"
	"supportchat/pkg/interfaces"
	"supportchat/pkg/types"
)

const userAgent = "supportchat/1.0"

// Client is the REST collaborator for sessions, messages, business hours
// and satisfaction forms.
type Client struct {
	baseURL    string
	httpClient *resty.Client
	log        zerolog.Logger
}

type createSessionRequest struct {
	FormID string `json:"form_id,omitempty"`
}

type endChatRequest struct {
	Reason string `json:"reason,omitempty"`
}

type satisfactionResponse struct {
	Pending bool `json:"pending"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// NewClient creates a client for cfg.BaseURL.
func NewClient(cfg *config.APIConfig, log zerolog.Logger) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("api config is required")
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		return nil, fmt.Errorf("api base url is required")
	}

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetHeader("User-Agent", userAgent).
		SetHeader("Accept", "application/json").
		SetTimeout(cfg.Timeout)

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		log:        log.With().Str("component", "api").Logger(),
	}, nil
}

// CreateSession implements interfaces.Transport.
func (c *Client) CreateSession(ctx context.Context, formID string) (*types.Session, error) {
	var session types.Session
	resp, err := c.jsonRequest(ctx, &session).
		SetHeader("Content-Type", "application/json").
		SetBody(createSessionRequest{FormID: formID}).
		Post("/sessions")
	if err := decoded(resp, err, types.ErrSessionCreationFailed, "create session"); err != nil {
		return nil, err
	}
	if session.ID == "" {
		return nil, fmt.Errorf("%w: response carried no session id", types.ErrSessionCreationFailed)
	}

	c.log.Debug().Str("session_id", session.ID).Msg("Session created")
	return &session, nil
}

// SubmitMessage implements interfaces.Transport.
func (c *Client) SubmitMessage(ctx context.Context, message *types.ChatMessage) (*types.ChatMessage, error) {
	if message == nil || message.SessionID == "" {
		return nil, fmt.Errorf("%w: message has no session", types.ErrSendFailed)
	}

	var stored types.ChatMessage
	resp, err := c.jsonRequest(ctx, &stored).
		SetHeader("Content-Type", "application/json").
		SetPathParam("id", message.SessionID).
		SetBody(message).
		Post("/sessions/{id}/messages")
	if err := decoded(resp, err, types.ErrSendFailed, "submit message"); err != nil {
		return nil, err
	}
	return &stored, nil
}

// EndChat implements interfaces.Transport.
func (c *Client) EndChat(ctx context.Context, sessionID, reason string) error {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetPathParam("id", sessionID).
		SetBody(endChatRequest{Reason: reason}).
		SetError(&errorResponse{}).
		Post("/sessions/{id}/end")
	return check(resp, err, types.ErrEndChatFailed, "end chat")
}

// FetchMessages implements interfaces.Transport.
func (c *Client) FetchMessages(ctx context.Context, sessionID string, page types.Page) (*types.MessagePage, error) {
	var result types.MessagePage
	req := c.jsonRequest(ctx, &result).
		SetPathParam("id", sessionID)
	if page.Limit > 0 {
		req.SetQueryParam("limit", strconv.Itoa(page.Limit))
	}
	if !page.Before.IsZero() {
		req.SetQueryParam("before", page.Before.UTC().Format(time.RFC3339Nano))
	}

	resp, err := req.Get("/sessions/{id}/messages")
	if err := decoded(resp, err, types.ErrFetchFailed, "fetch messages"); err != nil {
		return nil, err
	}
	return &result, nil
}

// FetchQueueStatus implements interfaces.Transport.
func (c *Client) FetchQueueStatus(ctx context.Context, sessionID string) (*types.QueueStatus, error) {
	var status types.QueueStatus
	resp, err := c.jsonRequest(ctx, &status).
		SetPathParam("id", sessionID).
		Get("/sessions/{id}/queue")
	if err := decoded(resp, err, types.ErrFetchFailed, "fetch queue status"); err != nil {
		return nil, err
	}
	return &status, nil
}

// FetchSchedule implements interfaces.ScheduleFetcher. An empty id
// requests the default schedule.
func (c *Client) FetchSchedule(ctx context.Context, scheduleID string) (*types.Schedule, error) {
	if scheduleID == "" {
		scheduleID = "default"
	}

	var schedule types.Schedule
	resp, err := c.jsonRequest(ctx, &schedule).
		SetPathParam("id", scheduleID).
		Get("/schedules/{id}")
	if err := decoded(resp, err, types.ErrFetchFailed, "fetch schedule"); err != nil {
		return nil, err
	}
	if schedule.ID == "" {
		return nil, fmt.Errorf("%w: fetch schedule: response carried no schedule id", types.ErrFetchFailed)
	}
	return &schedule, nil
}

// Pending implements interfaces.SatisfactionForms.
func (c *Client) Pending(ctx context.Context, sessionID string) (bool, error) {
	var result satisfactionResponse
	resp, err := c.jsonRequest(ctx, &result).
		SetPathParam("id", sessionID).
		Get("/sessions/{id}/satisfaction")
	if resp != nil && resp.StatusCode() == http.StatusNotFound {
		// No form configured for this session.
		return false, nil
	}
	if err := decoded(resp, err, types.ErrFetchFailed, "fetch satisfaction form"); err != nil {
		return false, err
	}
	return result.Pending, nil
}

// jsonRequest decodes the response into result whatever Content-Type the
// server sent.
func (c *Client) jsonRequest(ctx context.Context, result any) *resty.Request {
	return c.httpClient.R().
		SetContext(ctx).
		ForceContentType("application/json").
		SetResult(result).
		SetError(&errorResponse{})
}

// decoded is check for requests that expect a JSON body.
func decoded(resp *resty.Response, err error, kind error, op string) error {
	if err := check(resp, err, kind, op); err != nil {
		return err
	}
	if !json.Valid(resp.Body()) {
		return fmt.Errorf("%w: %s: response is not JSON", kind, op)
	}
	return nil
}

// check maps HTTP error statuses and transport failures onto kind.
// The status wins over a body that failed to decode.
func check(resp *resty.Response, err error, kind error, op string) error {
	if resp == nil || !resp.IsError() {
		if err != nil {
			return fmt.Errorf("%w: %s request failed: %w", kind, op, err)
		}
		return nil
	}

	switch resp.StatusCode() {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s: %w", kind, op, interfaces.ErrUnauthorized)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s: %w", kind, op, interfaces.ErrSessionNotFound)
	}

	detail := resp.String()
	if body, ok := resp.Error().(*errorResponse); ok && body != nil {
		if body.Message != "" {
			detail = body.Message
		} else if body.Error != "" {
			detail = body.Error
		}
	}
	return fmt.Errorf("%w: %s error (%d): %s", kind, op, resp.StatusCode(), detail)
}
