// Package executor turns order intents into venue submissions and verifies
// the resulting position change.
package executor

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/vantage/errs"
	"github.com/coachpo/vantage/internal/bus"
	"github.com/coachpo/vantage/internal/marketref"
	"github.com/coachpo/vantage/internal/observability"
	"github.com/coachpo/vantage/internal/risk"
	"github.com/coachpo/vantage/internal/schema"
	"github.com/coachpo/vantage/internal/session"
	"github.com/coachpo/vantage/internal/tracker"
	"github.com/coachpo/vantage/internal/venue"
)

const component = "executor"

// Config tunes the executor's pricing and verification behavior.
type Config struct {
	// SlippageTolerance is the adverse price allowance applied to the
	// reference price, e.g. 0.05 prices a buy 5% above reference.
	SlippageTolerance decimal.Decimal
	// VerifyTimeout bounds the wait for a push event confirming the fill.
	VerifyTimeout time.Duration
	// VerifyTolerance is the maximum position delta treated as a match.
	VerifyTolerance decimal.Decimal
	// SettlementDelay is slept before the fallback poll so the venue's
	// read path has caught up with the fill.
	SettlementDelay time.Duration
}

// Executor submits immediate-or-cancel orders and verifies their effect on
// the account's position.
type Executor struct {
	cfg     Config
	markets *marketref.Cache
	gate    risk.Gate
	track   *tracker.Tracker
	events  *bus.MemoryBus

	ordersCounter   metric.Int64Counter
	verifyHistogram metric.Float64Histogram
}

// New constructs an Executor.
func New(cfg Config, markets *marketref.Cache, gate risk.Gate, track *tracker.Tracker, events *bus.MemoryBus) *Executor {
	e := &Executor{
		cfg:     cfg,
		markets: markets,
		gate:    gate,
		track:   track,
		events:  events,
	}
	meter := otel.Meter("executor")
	e.ordersCounter, _ = meter.Int64Counter("executor.orders",
		metric.WithDescription("Number of orders submitted, by result"),
		metric.WithUnit("{order}"))
	e.verifyHistogram, _ = meter.Float64Histogram("executor.verify.duration",
		metric.WithDescription("Time from submission to verification outcome"),
		metric.WithUnit("ms"))
	return e
}

// Execute prices, gates, submits, and verifies one order intent. The
// returned result carries Confirmed=false when the position could not be
// verified within the protocol; the tracked position is then already
// overwritten with the venue's polled value.
func (e *Executor) Execute(ctx context.Context, sess *session.Session, intent schema.OrderIntent) (schema.OrderResult, error) {
	ref, err := e.markets.Get(ctx, intent.Symbol)
	if err != nil {
		return schema.OrderResult{}, err
	}

	refPrice, err := e.referencePrice(ctx, sess.Rest(), ref, intent.Side)
	if err != nil {
		return schema.OrderResult{}, err
	}

	if err := e.gate.CheckOrder(intent, refPrice); err != nil {
		e.countOrder(ctx, intent, "risk_blocked")
		return schema.OrderResult{}, err
	}

	quantity := intent.Quantity
	if quantity.LessThan(ref.MinQuantity) {
		observability.Log().Info("clamping order to venue minimum",
			observability.F("account", intent.AccountIndex),
			observability.F("symbol", intent.Symbol),
			observability.F("requested", quantity.String()),
			observability.F("minimum", ref.MinQuantity.String()))
		quantity = ref.MinQuantity
	}

	limitPrice := e.slippagePrice(refPrice, intent.Side)
	intent.ClientOrderIndex = sess.NextOrderIndex()

	req := venue.CreateOrderRequest{
		MarketID:         ref.MarketID,
		ClientOrderIndex: intent.ClientOrderIndex,
		BaseAmount:       ref.ScaleQuantity(quantity),
		Price:            ref.ScalePrice(limitPrice),
		IsAsk:            intent.Side == schema.SideSell,
		ReduceOnly:       intent.ReduceOnly,
		Nonce:            sess.NextNonce(ctx),
		APIKeyIndex:      sess.APIKeyIndex(),
		AccountIndex:     intent.AccountIndex,
	}

	expected := e.track.Quantity(intent.AccountIndex, intent.Symbol).
		Add(quantity.Mul(intent.Side.Sign()))

	// Subscribe before submitting so a fast push cannot slip past us.
	verifyCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	subID, pushCh := e.events.Subscribe(verifyCtx, bus.PositionTopic(intent.AccountIndex))
	defer e.events.Unsubscribe(subID)

	start := time.Now()
	resp, err := sess.Rest().SubmitOrder(ctx, req)
	if err != nil {
		e.countOrder(ctx, intent, "rejected")
		return schema.OrderResult{}, err
	}

	observability.Log().Info("order submitted",
		observability.F("account", intent.AccountIndex),
		observability.F("symbol", intent.Symbol),
		observability.F("side", string(intent.Side)),
		observability.F("quantity", quantity.String()),
		observability.F("price", limitPrice.String()),
		observability.F("order_index", intent.ClientOrderIndex),
		observability.F("tx_hash", resp.TxHash))

	result := schema.OrderResult{
		AccountIndex:     intent.AccountIndex,
		Symbol:           intent.Symbol,
		Side:             intent.Side,
		Quantity:         quantity,
		ClientOrderIndex: intent.ClientOrderIndex,
		SignalID:         intent.SignalID,
		TxHash:           resp.TxHash,
	}

	verified := e.verify(ctx, sess.Rest(), intent, expected, pushCh)
	result.Confirmed = verified.confirmed
	result.Position = verified.position
	result.VerifiedAt = verified.at

	if e.verifyHistogram != nil {
		e.verifyHistogram.Record(ctx, float64(time.Since(start).Milliseconds()),
			metric.WithAttributes(append(
				observability.AccountAttributes(intent.AccountIndex, intent.Symbol),
				observability.AttrResult.String(verifyResult(verified.confirmed)))...))
	}
	e.countOrder(ctx, intent, verifyResult(verified.confirmed))
	return result, nil
}

type verification struct {
	confirmed bool
	position  decimal.Decimal
	at        time.Time
}

// verify races the venue's push stream against a timeout and falls back to a
// single poll. A push matching the expected position wins immediately; the
// poll path confirms on match and otherwise adopts the venue's value so the
// tracker converges even when verification fails.
func (e *Executor) verify(ctx context.Context, rest venue.Rest, intent schema.OrderIntent, expected decimal.Decimal, pushCh <-chan bus.Event) verification {
	deadline := time.NewTimer(e.cfg.VerifyTimeout)
	defer deadline.Stop()

	for {
		select {
		case evt, ok := <-pushCh:
			if !ok {
				return e.verifyByPoll(ctx, rest, intent, expected)
			}
			if evt.Position == nil || evt.Position.Symbol != intent.Symbol {
				continue
			}
			if evt.Position.Quantity.Sub(expected).Abs().LessThanOrEqual(e.cfg.VerifyTolerance) {
				return verification{confirmed: true, position: evt.Position.Quantity, at: time.Now()}
			}
		case <-deadline.C:
			return e.verifyByPoll(ctx, rest, intent, expected)
		case <-ctx.Done():
			return e.verifyByPoll(context.WithoutCancel(ctx), rest, intent, expected)
		}
	}
}

func (e *Executor) verifyByPoll(ctx context.Context, rest venue.Rest, intent schema.OrderIntent, expected decimal.Decimal) verification {
	if e.cfg.SettlementDelay > 0 {
		select {
		case <-time.After(e.cfg.SettlementDelay):
		case <-ctx.Done():
		}
	}

	snap, err := rest.AccountSnapshot(ctx, intent.AccountIndex)
	if err != nil {
		observability.Log().Error("verification poll failed",
			observability.F("account", intent.AccountIndex),
			observability.F("symbol", intent.Symbol),
			observability.F("error", err.Error()))
		return verification{confirmed: false, position: e.track.Quantity(intent.AccountIndex, intent.Symbol), at: time.Now()}
	}

	polled := snap.Position(intent.Symbol)
	if polled.Sub(expected).Abs().LessThanOrEqual(e.cfg.VerifyTolerance) {
		e.track.Adopt(intent.AccountIndex, intent.Symbol, polled)
		return verification{confirmed: true, position: polled, at: time.Now()}
	}

	observability.Log().Warn("position verification mismatch, adopting venue value",
		observability.F("account", intent.AccountIndex),
		observability.F("symbol", intent.Symbol),
		observability.F("expected", expected.String()),
		observability.F("polled", polled.String()))
	e.track.Adopt(intent.AccountIndex, intent.Symbol, polled)
	return verification{confirmed: false, position: polled, at: time.Now()}
}

// referencePrice picks the aggressive side of the book, falling back to the
// last trade and finally to the static reference price.
func (e *Executor) referencePrice(ctx context.Context, rest venue.Rest, ref schema.MarketRef, side schema.Side) (decimal.Decimal, error) {
	if !ref.FromStaticFallback {
		if book, err := rest.OrderBook(ctx, ref.MarketID); err == nil {
			if side == schema.SideBuy {
				if ask, ok := book.BestAsk(); ok && ask.Price.IsPositive() {
					return ask.Price, nil
				}
			} else {
				if bid, ok := book.BestBid(); ok && bid.Price.IsPositive() {
					return bid.Price, nil
				}
			}
		}
		if last, err := rest.LastTradePrice(ctx, ref.MarketID); err == nil && last.IsPositive() {
			return last, nil
		}
	}
	if ref.LastTradePrice.IsPositive() {
		return ref.LastTradePrice, nil
	}
	return decimal.Zero, errs.New(component, errs.CodeUnavailable,
		errs.WithFailure(errs.FailureReferenceDataUnavailable),
		errs.WithSymbol(ref.Symbol),
		errs.WithMessage("no reference price available"))
}

// slippagePrice moves the reference price adversely so the IOC order crosses
// the book.
func (e *Executor) slippagePrice(refPrice decimal.Decimal, side schema.Side) decimal.Decimal {
	one := decimal.NewFromInt(1)
	if side == schema.SideBuy {
		return refPrice.Mul(one.Add(e.cfg.SlippageTolerance))
	}
	return refPrice.Mul(one.Sub(e.cfg.SlippageTolerance))
}

func (e *Executor) countOrder(ctx context.Context, intent schema.OrderIntent, result string) {
	if e.ordersCounter == nil {
		return
	}
	e.ordersCounter.Add(ctx, 1, metric.WithAttributes(append(
		observability.AccountAttributes(intent.AccountIndex, intent.Symbol),
		observability.AttrOrderSide.String(string(intent.Side)),
		observability.AttrResult.String(result))...))
}

func verifyResult(confirmed bool) string {
	if confirmed {
		return "confirmed"
	}
	return "unconfirmed"
}
