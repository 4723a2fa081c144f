// Package apiclient talks to the chorus HTTP API and the worker admin port.
package apiclient

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"basegraph.app/chorus/internal/countdown"
	"basegraph.app/chorus/internal/http/dto"
)

type APIError struct {
	Status  int
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("chorus api: status %d", e.Status)
	}
	return fmt.Sprintf("chorus api: status %d: %s", e.Status, e.Message)
}

type Client struct {
	http *resty.Client
}

func New(baseURL, apiKey string, timeout time.Duration) *Client {
	client := resty.New().
		SetBaseURL(baseURL).
		SetHeader("User-Agent", "chorusctl/1.0").
		SetTimeout(timeout)
	if apiKey != "" {
		client.SetHeader("X-API-Key", apiKey)
	}
	return &Client{http: client}
}

func (c *Client) Schedule(ctx context.Context) ([]dto.ScheduleEntryResponse, error) {
	var out dto.ScheduleResponse
	if err := c.do(ctx, c.http.R().SetResult(&out), "GET", "/api/v1/schedule"); err != nil {
		return nil, err
	}
	return out.Entries, nil
}

func (c *Client) PostMessage(ctx context.Context, conversationID int64, content string) (*dto.PostMessageResponse, error) {
	var out dto.PostMessageResponse
	req := c.http.R().
		SetBody(dto.PostMessageRequest{Content: content}).
		SetResult(&out)
	if err := c.do(ctx, req, "POST", "/api/v1/conversations/"+strconv.FormatInt(conversationID, 10)+"/messages"); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateReminder(ctx context.Context, in dto.CreateReminderRequest) (*dto.ReminderResponse, error) {
	var out dto.ReminderResponse
	if err := c.do(ctx, c.http.R().SetBody(in).SetResult(&out), "POST", "/api/v1/reminders"); err != nil {
		return nil, err
	}
	return &out, nil
}

// WorkerSchedule reads the live countdown state from a worker admin port.
func (c *Client) WorkerSchedule(ctx context.Context, adminURL string) ([]countdown.SlotStatus, error) {
	var out struct {
		Slots []countdown.SlotStatus `json:"slots"`
	}
	if err := c.do(ctx, c.http.R().SetResult(&out), "GET", adminURL+"/debug/schedule"); err != nil {
		return nil, err
	}
	return out.Slots, nil
}

// TriggerWorkerProactive fires an entity's proactive slot on a worker and
// waits for the delivery. A slot that is already firing yields a 409 APIError.
func (c *Client) TriggerWorkerProactive(ctx context.Context, adminURL string, entityID int64) error {
	return c.do(ctx, c.http.R(), "POST", adminURL+"/debug/proactive/"+strconv.FormatInt(entityID, 10)+"/trigger")
}

func (c *Client) do(ctx context.Context, req *resty.Request, method, url string) error {
	apiErr := &APIError{}
	resp, err := req.
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetError(apiErr).
		Execute(method, url)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, url, err)
	}
	if resp.IsError() {
		apiErr.Status = resp.StatusCode()
		return apiErr
	}
	return nil
}
