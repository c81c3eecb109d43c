package venue

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/coachpo/vantage/internal/observability"
	"github.com/coachpo/vantage/internal/schema"
)

// AccountStream maintains the account-scoped websocket subscription and
// feeds normalized updates to its handler. Reconnects use exponential
// backoff and every reconnect re-subscribes from scratch.
type AccountStream struct {
	url          string
	accountIndex int64
	handler      StreamHandler
	handshake    time.Duration
	connected    atomic.Bool
}

// NewAccountStream constructs a stream for one account.
func NewAccountStream(url string, accountIndex int64, handshake time.Duration, handler StreamHandler) *AccountStream {
	return &AccountStream{
		url:          url,
		accountIndex: accountIndex,
		handler:      handler,
		handshake:    handshake,
	}
}

// Connected reports whether the stream currently holds a live connection.
func (s *AccountStream) Connected() bool { return s.connected.Load() }

// Run connects and pumps events until ctx is cancelled. Each connection
// failure transitions the handler to disconnected before the backoff sleep.
func (s *AccountStream) Run(ctx context.Context) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Second
	policy.MaxInterval = 30 * time.Second

	for {
		_, err := backoff.Retry(ctx, func() (struct{}, error) {
			return struct{}{}, s.runOnce(ctx)
		}, backoff.WithBackOff(policy))
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			observability.Log().Warn("account stream session ended",
				observability.F("account", s.accountIndex),
				observability.F("error", err.Error()))
		}
		policy.Reset()
	}
}

func (s *AccountStream) runOnce(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, s.handshake)
	conn, _, err := websocket.Dial(dialCtx, s.url, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.url, err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "shutdown") }()
	conn.SetReadLimit(1 << 20)

	sub := map[string]string{
		"type":    "subscribe",
		"channel": fmt.Sprintf("account_all/%d", s.accountIndex),
	}
	payload, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("marshal subscribe: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
		return fmt.Errorf("send subscribe: %w", err)
	}

	s.connected.Store(true)
	s.handler.OnConnectionStateChange(true)
	defer func() {
		s.connected.Store(false)
		s.handler.OnConnectionStateChange(false)
	}()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		s.dispatch(data)
	}
}

type streamEnvelope struct {
	Type      string `json:"type"`
	Positions map[string]struct {
		Sign     int    `json:"sign"`
		Position string `json:"position"`
		Symbol   string `json:"symbol"`
	} `json:"positions"`
	Orders []struct {
		ClientOrderIndex int64  `json:"client_order_index"`
		Symbol           string `json:"symbol"`
		Status           string `json:"status"`
		FilledBase       string `json:"filled_base_amount"`
	} `json:"orders"`
}

func (s *AccountStream) dispatch(data []byte) {
	var env streamEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		observability.Log().Debug("drop malformed stream message",
			observability.F("account", s.accountIndex))
		return
	}
	switch env.Type {
	case "update/account_all", "subscribed/account_all":
	default:
		return
	}
	now := time.Now()
	for _, pos := range env.Positions {
		qty, err := decimal.NewFromString(pos.Position)
		if err != nil {
			continue
		}
		if pos.Sign < 0 {
			qty = qty.Neg()
		}
		s.handler.OnPositionUpdate(schema.PositionUpdate{
			AccountIndex: s.accountIndex,
			Symbol:       strings.ToUpper(pos.Symbol),
			Quantity:     qty,
			ReceivedAt:   now,
		})
	}
	for _, ord := range env.Orders {
		status := schema.OrderStatus(strings.ToLower(ord.Status))
		filled, err := decimal.NewFromString(ord.FilledBase)
		if err != nil {
			filled = decimal.Zero
		}
		s.handler.OnOrderUpdate(schema.OrderUpdate{
			AccountIndex:     s.accountIndex,
			ClientOrderIndex: ord.ClientOrderIndex,
			Symbol:           strings.ToUpper(ord.Symbol),
			Status:           status,
			FilledQuantity:   filled,
			ReceivedAt:       now,
		})
	}
}
