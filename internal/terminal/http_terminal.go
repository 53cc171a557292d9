package terminal

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"resty.dev/v3"
)

// HTTPTerminal talks to a local terminal bridge service that owns the
// device driver.
type HTTPTerminal struct {
	client *resty.Client
}

type connectRequest struct {
	Device string `json:"device"`
}

type paymentRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

func NewHTTPTerminal(baseURL string, timeout time.Duration) *HTTPTerminal {
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	return &HTTPTerminal{client: client}
}

func (t *HTTPTerminal) Close() error {
	return t.client.Close()
}

func (t *HTTPTerminal) IsManualMode() bool {
	return false
}

func (t *HTTPTerminal) Connect(ctx context.Context, device string) error {
	res, err := t.client.R().
		SetContext(ctx).
		SetBody(connectRequest{Device: device}).
		Post("/connect")
	if err != nil {
		return err
	}
	if res.IsError() {
		return fmt.Errorf("connect %s: status %d", device, res.StatusCode())
	}
	return nil
}

func (t *HTTPTerminal) ProcessPayment(ctx context.Context, amount decimal.Decimal) (Result, error) {
	var out Result
	res, err := t.client.R().
		SetContext(ctx).
		SetBody(paymentRequest{Amount: amount}).
		SetResult(&out).
		Post("/payments")
	if err != nil {
		return Result{}, err
	}
	if res.IsError() {
		return Result{Success: false, Message: fmt.Sprintf("status %d", res.StatusCode())}, nil
	}
	return out, nil
}

func (t *HTTPTerminal) Disconnect(ctx context.Context) error {
	res, err := t.client.R().
		SetContext(ctx).
		Post("/disconnect")
	if err != nil {
		return err
	}
	if res.IsError() {
		return fmt.Errorf("disconnect: status %d", res.StatusCode())
	}
	return nil
}
