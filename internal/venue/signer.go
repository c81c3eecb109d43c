package venue

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

// KeySigner signs order transactions with an ed25519 key derived from the
// account's API key material.
type KeySigner struct {
	key          ed25519.PrivateKey
	apiKeyIndex  int
	accountIndex int64
}

// NewKeySigner parses a hex-encoded private key seed and returns a signer for
// the given account and API key slot.
func NewKeySigner(privateKeyHex string, accountIndex int64, apiKeyIndex int) (*KeySigner, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x")
	seed, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("private key must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return &KeySigner{
		key:          ed25519.NewKeyFromSeed(seed),
		apiKeyIndex:  apiKeyIndex,
		accountIndex: accountIndex,
	}, nil
}

type orderTxInfo struct {
	AccountIndex     int64  `json:"account_index"`
	APIKeyIndex      int    `json:"api_key_index"`
	MarketID         int32  `json:"market_index"`
	ClientOrderIndex int64  `json:"client_order_index"`
	BaseAmount       int64  `json:"base_amount"`
	Price            int64  `json:"price"`
	IsAsk            int    `json:"is_ask"`
	ReduceOnly       int    `json:"reduce_only"`
	TimeInForce      int    `json:"time_in_force"`
	Nonce            int64  `json:"nonce"`
	Sig              string `json:"sig"`
}

// Immediate-or-cancel on the venue's time-in-force enumeration.
const timeInForceIOC = 0

// SignCreateOrder builds the canonical transaction payload and attaches the
// signature over its unsigned form.
func (s *KeySigner) SignCreateOrder(req CreateOrderRequest) ([]byte, error) {
	tx := orderTxInfo{
		AccountIndex:     req.AccountIndex,
		APIKeyIndex:      req.APIKeyIndex,
		MarketID:         req.MarketID,
		ClientOrderIndex: req.ClientOrderIndex,
		BaseAmount:       req.BaseAmount,
		Price:            req.Price,
		IsAsk:            boolToInt(req.IsAsk),
		ReduceOnly:       boolToInt(req.ReduceOnly),
		TimeInForce:      timeInForceIOC,
		Nonce:            req.Nonce,
	}
	unsigned, err := json.Marshal(tx)
	if err != nil {
		return nil, fmt.Errorf("marshal unsigned tx: %w", err)
	}
	tx.Sig = hex.EncodeToString(ed25519.Sign(s.key, unsigned))
	signed, err := json.Marshal(tx)
	if err != nil {
		return nil, fmt.Errorf("marshal signed tx: %w", err)
	}
	return signed, nil
}

// APIKeyIndex reports the key slot this signer authenticates as.
func (s *KeySigner) APIKeyIndex() int { return s.apiKeyIndex }

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
