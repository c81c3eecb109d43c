package observability

import "go.opentelemetry.io/otel/attribute"

// Semantic convention attribute keys for Vantage telemetry.
// Following OpenTelemetry naming conventions: namespace.attribute_name

const (
	// AttrAccount identifies the venue account index a metric belongs to.
	AttrAccount = attribute.Key("account.index")
	// AttrSymbol captures the tradable instrument symbol (e.g. ETH).
	AttrSymbol = attribute.Key("symbol")
	// AttrOrderSide labels order telemetry with buy/sell intent.
	AttrOrderSide = attribute.Key("order.side")
	// AttrResult records the outcome of an operation (confirmed, unconfirmed, rejected, ...).
	AttrResult = attribute.Key("result")
	// AttrSource labels position updates with their origin (push, post_order_sync, sweep).
	AttrSource = attribute.Key("position.source")
	// AttrReason provides additional free-form context for errors and rejections.
	AttrReason = attribute.Key("reason")
	// AttrConnectionState labels session lifecycle signals (connected, reconnecting, failed).
	AttrConnectionState = attribute.Key("connection.state")
)

// AccountAttributes builds the common attribute set for per-account metrics.
func AccountAttributes(accountIndex int64, symbol string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{AttrAccount.Int64(accountIndex)}
	if symbol != "" {
		attrs = append(attrs, AttrSymbol.String(symbol))
	}
	return attrs
}
