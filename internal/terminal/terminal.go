// Package terminal drives the external card terminal through its
// connect, pay and disconnect contract.
package terminal

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"kasa/backend/internal/domain"
)

var ErrBusy = domain.NewError(domain.KindBusinessRule, "terminal session already in progress")

type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type Terminal interface {
	IsManualMode() bool
	Connect(ctx context.Context, device string) error
	ProcessPayment(ctx context.Context, amount decimal.Decimal) (Result, error)
	Disconnect(ctx context.Context) error
}

// TerminalError is an integration failure the operator may retry.
type TerminalError struct {
	Stage   string
	Message string
	Err     error
}

func (e *TerminalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("terminal %s failed: %s: %v", e.Stage, e.Message, e.Err)
	}
	return fmt.Sprintf("terminal %s failed: %s", e.Stage, e.Message)
}

func (e *TerminalError) Unwrap() error {
	return e.Err
}

func (e *TerminalError) ErrorKind() domain.ErrorKind {
	return domain.KindIntegration
}

// Manual is used by businesses without a terminal integration.
type Manual struct{}

func (Manual) IsManualMode() bool { return true }

func (Manual) Connect(context.Context, string) error { return nil }

func (Manual) ProcessPayment(context.Context, decimal.Decimal) (Result, error) {
	return Result{Success: true, Message: "manual"}, nil
}

func (Manual) Disconnect(context.Context) error { return nil }

// Charge runs one connect, pay, disconnect cycle. Disconnect is attempted
// after every successful connect; its failure is logged, not returned.
func Charge(ctx context.Context, t Terminal, device string, amount decimal.Decimal, logger *zap.Logger) (Result, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if t == nil || t.IsManualMode() {
		return Result{Success: true, Message: "manual"}, nil
	}

	if err := t.Connect(ctx, device); err != nil {
		if errors.Is(err, ErrBusy) {
			return Result{}, err
		}
		return Result{}, &TerminalError{Stage: "connect", Message: device, Err: err}
	}
	defer func() {
		if err := t.Disconnect(ctx); err != nil {
			logger.Warn("terminal disconnect failed", zap.String("device", device), zap.Error(err))
		}
	}()

	res, err := t.ProcessPayment(ctx, amount)
	if err != nil {
		return res, &TerminalError{Stage: "payment", Message: res.Message, Err: err}
	}
	if !res.Success {
		return res, &TerminalError{Stage: "payment", Message: res.Message}
	}
	return res, nil
}

// Guard serializes access to a terminal. Connect fails with ErrBusy while
// another session is between Connect and Disconnect.
type Guard struct {
	mu     sync.Mutex
	inner  Terminal
	active bool
}

func NewGuard(inner Terminal) *Guard {
	return &Guard{inner: inner}
}

func (g *Guard) IsManualMode() bool {
	return g.inner.IsManualMode()
}

func (g *Guard) Connect(ctx context.Context, device string) error {
	g.mu.Lock()
	if g.active {
		g.mu.Unlock()
		return ErrBusy
	}
	g.active = true
	g.mu.Unlock()

	if err := g.inner.Connect(ctx, device); err != nil {
		g.release()
		return err
	}
	return nil
}

func (g *Guard) ProcessPayment(ctx context.Context, amount decimal.Decimal) (Result, error) {
	return g.inner.ProcessPayment(ctx, amount)
}

func (g *Guard) Disconnect(ctx context.Context) error {
	defer g.release()
	return g.inner.Disconnect(ctx)
}

func (g *Guard) release() {
	g.mu.Lock()
	g.active = false
	g.mu.Unlock()
}
