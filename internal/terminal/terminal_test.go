package terminal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"kasa/backend/internal/domain"
)

type scriptedTerminal struct {
	mu          sync.Mutex
	connectErr  error
	payResult   Result
	payErr      error
	calls       []string
	disconnects int
}

func (s *scriptedTerminal) IsManualMode() bool { return false }

func (s *scriptedTerminal) Connect(_ context.Context, device string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "connect:"+device)
	return s.connectErr
}

func (s *scriptedTerminal) ProcessPayment(_ context.Context, amount decimal.Decimal) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "pay:"+amount.String())
	return s.payResult, s.payErr
}

func (s *scriptedTerminal) Disconnect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "disconnect")
	s.disconnects++
	return nil
}

func TestChargeRunsFullCycle(t *testing.T) {
	term := &scriptedTerminal{payResult: Result{Success: true, Message: "approved"}}

	res, err := Charge(context.Background(), term, "pos-1", decimal.NewFromInt(25), zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, []string{"connect:pos-1", "pay:25", "disconnect"}, term.calls)
}

func TestChargeDeclinedIsTerminalError(t *testing.T) {
	term := &scriptedTerminal{payResult: Result{Success: false, Message: "declined"}}

	_, err := Charge(context.Background(), term, "pos-1", decimal.NewFromInt(25), nil)
	var terr *TerminalError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "payment", terr.Stage)
	assert.Equal(t, "declined", terr.Message)
	assert.Equal(t, domain.KindIntegration, domain.KindOf(err))
	assert.Equal(t, 1, term.disconnects, "disconnect after failed payment")
}

func TestChargeConnectFailureSkipsPayment(t *testing.T) {
	term := &scriptedTerminal{connectErr: errors.New("no device")}

	_, err := Charge(context.Background(), term, "pos-1", decimal.NewFromInt(5), nil)
	var terr *TerminalError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "connect", terr.Stage)
	assert.Equal(t, []string{"connect:pos-1"}, term.calls)
}

func TestChargeManualModeBypassesTerminal(t *testing.T) {
	res, err := Charge(context.Background(), Manual{}, "pos-1", decimal.NewFromInt(5), nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestGuardRejectsOverlappingSessions(t *testing.T) {
	g := NewGuard(&scriptedTerminal{payResult: Result{Success: true}})
	ctx := context.Background()

	require.NoError(t, g.Connect(ctx, "pos-1"))
	require.ErrorIs(t, g.Connect(ctx, "pos-1"), ErrBusy)
	require.NoError(t, g.Disconnect(ctx))
	require.NoError(t, g.Connect(ctx, "pos-1"))
}

func TestHTTPTerminalAgainstBridge(t *testing.T) {
	var paid string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/connect", "/disconnect":
			w.WriteHeader(http.StatusNoContent)
		case "/payments":
			var body struct {
				Amount string `json:"amount"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			paid = body.Amount
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(Result{Success: true, Message: "approved"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	term := NewHTTPTerminal(srv.URL, 2*time.Second)
	defer term.Close()

	res, err := Charge(context.Background(), term, "pos-1", decimal.RequireFromString("12.50"), nil)
	require.NoError(t, err)
	assert.Equal(t, "approved", res.Message)
	assert.Equal(t, "12.5", paid)
}

func TestHTTPTerminalBridgeRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/payments" {
			w.WriteHeader(http.StatusPaymentRequired)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	term := NewHTTPTerminal(srv.URL, 2*time.Second)
	defer term.Close()

	_, err := Charge(context.Background(), term, "pos-1", decimal.NewFromInt(3), nil)
	var terr *TerminalError
	require.ErrorAs(t, err, &terr)
}
