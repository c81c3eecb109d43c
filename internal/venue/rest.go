package venue

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/coachpo/vantage/errs"
	"github.com/coachpo/vantage/internal/schema"
)

const component = "venue"

// RestClient implements Rest against the venue's HTTP API.
type RestClient struct {
	baseURL    string
	httpClient *http.Client
	signer     Signer
}

// NewRestClient constructs a RestClient for the given base URL. A nil signer
// is allowed for read-only usage; SubmitOrder then fails with
// FailureNotConfigured.
func NewRestClient(baseURL string, timeout time.Duration, signer Signer) *RestClient {
	return &RestClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		signer:     signer,
	}
}

// CloseIdleConnections releases pooled transport connections.
func (c *RestClient) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}

type accountResponse struct {
	Code     int `json:"code"`
	Accounts []struct {
		AccountIndex int64  `json:"account_index"`
		L1Address    string `json:"l1_address"`
		Collateral   string `json:"collateral"`
		Available    string `json:"available_balance"`
		Positions    []struct {
			Symbol   string `json:"symbol"`
			Sign     int    `json:"sign"`
			Position string `json:"position"`
		} `json:"positions"`
	} `json:"accounts"`
}

// AccountSnapshot fetches balance and positions for an account. Position
// magnitudes are combined with the venue's sign field here, so everything
// downstream sees signed quantities.
func (c *RestClient) AccountSnapshot(ctx context.Context, accountIndex int64) (schema.AccountSnapshot, error) {
	var resp accountResponse
	query := url.Values{"by": {"index"}, "value": {strconv.FormatInt(accountIndex, 10)}}
	if err := c.get(ctx, "/api/v1/account", query, &resp); err != nil {
		return schema.AccountSnapshot{}, errs.New(component, errs.CodeNetwork,
			errs.WithMessage("fetch account snapshot"),
			errs.WithAccount(accountIndex),
			errs.WithCause(err))
	}
	if len(resp.Accounts) == 0 {
		return schema.AccountSnapshot{}, errs.New(component, errs.CodeVenue,
			errs.WithMessage("account not found"),
			errs.WithAccount(accountIndex))
	}

	acct := resp.Accounts[0]
	snapshot := schema.AccountSnapshot{
		AccountIndex: acct.AccountIndex,
		L1Address:    acct.L1Address,
		Positions:    make(map[string]decimal.Decimal, len(acct.Positions)),
		FetchedAt:    time.Now(),
	}
	if bal, err := decimal.NewFromString(acct.Available); err == nil {
		snapshot.Balance = schema.AccountBalance{Available: bal}
	}
	if col, err := decimal.NewFromString(acct.Collateral); err == nil {
		snapshot.Balance.Collateral = col
	}
	for _, pos := range acct.Positions {
		qty, err := decimal.NewFromString(pos.Position)
		if err != nil {
			continue
		}
		if pos.Sign < 0 {
			qty = qty.Neg()
		}
		snapshot.Positions[strings.ToUpper(pos.Symbol)] = qty
	}
	return snapshot, nil
}

type orderBookResponse struct {
	Code int `json:"code"`
	Bids []struct {
		Price string `json:"price"`
		Size  string `json:"size"`
	} `json:"bids"`
	Asks []struct {
		Price string `json:"price"`
		Size  string `json:"size"`
	} `json:"asks"`
}

// OrderBook fetches the current book for a market.
func (c *RestClient) OrderBook(ctx context.Context, marketID int32) (schema.OrderBook, error) {
	var resp orderBookResponse
	query := url.Values{"market_id": {strconv.FormatInt(int64(marketID), 10)}}
	if err := c.get(ctx, "/api/v1/orderBookOrders", query, &resp); err != nil {
		return schema.OrderBook{}, errs.New(component, errs.CodeNetwork,
			errs.WithMessage("fetch order book"),
			errs.WithCause(err))
	}
	book := schema.OrderBook{MarketID: marketID}
	for _, lvl := range resp.Bids {
		if level, ok := parseLevel(lvl.Price, lvl.Size); ok {
			book.Bids = append(book.Bids, level)
		}
	}
	for _, lvl := range resp.Asks {
		if level, ok := parseLevel(lvl.Price, lvl.Size); ok {
			book.Asks = append(book.Asks, level)
		}
	}
	return book, nil
}

func parseLevel(price, size string) (schema.BookLevel, bool) {
	p, err := decimal.NewFromString(price)
	if err != nil {
		return schema.BookLevel{}, false
	}
	s, err := decimal.NewFromString(size)
	if err != nil {
		return schema.BookLevel{}, false
	}
	return schema.BookLevel{Price: p, Size: s}, true
}

type marketDetailsResponse struct {
	Code             int `json:"code"`
	OrderBookDetails []struct {
		Symbol         string `json:"symbol"`
		MarketID       int32  `json:"market_id"`
		SizeDecimals   int32  `json:"size_decimals"`
		PriceDecimals  int32  `json:"price_decimals"`
		MinBaseAmount  string `json:"min_base_amount"`
		MarginFraction int64  `json:"min_initial_margin_fraction"`
		LastTradePrice string `json:"last_trade_price"`
	} `json:"order_book_details"`
}

// MarketDetails fetches static reference data for a symbol.
func (c *RestClient) MarketDetails(ctx context.Context, symbol string) (schema.MarketRef, error) {
	var resp marketDetailsResponse
	if err := c.get(ctx, "/api/v1/orderBookDetails", nil, &resp); err != nil {
		return schema.MarketRef{}, errs.New(component, errs.CodeNetwork,
			errs.WithMessage("fetch market details"),
			errs.WithSymbol(symbol),
			errs.WithCause(err))
	}
	want := strings.ToUpper(symbol)
	for _, det := range resp.OrderBookDetails {
		if !strings.EqualFold(det.Symbol, want) {
			continue
		}
		ref := schema.MarketRef{
			Symbol:         want,
			MarketID:       det.MarketID,
			SizeDecimals:   det.SizeDecimals,
			PriceDecimals:  det.PriceDecimals,
			MarginFraction: det.MarginFraction,
			RefreshedAt:    time.Now(),
		}
		if minQty, err := decimal.NewFromString(det.MinBaseAmount); err == nil {
			ref.MinQuantity = minQty
		}
		if last, err := decimal.NewFromString(det.LastTradePrice); err == nil {
			ref.LastTradePrice = last
		}
		return ref, nil
	}
	return schema.MarketRef{}, errs.New(component, errs.CodeVenue,
		errs.WithFailure(errs.FailureReferenceDataUnavailable),
		errs.WithSymbol(symbol),
		errs.WithMessage("market not listed"))
}

type recentTradesResponse struct {
	Code   int `json:"code"`
	Trades []struct {
		Price string `json:"price"`
	} `json:"trades"`
}

// LastTradePrice fetches the most recent trade price for a market.
func (c *RestClient) LastTradePrice(ctx context.Context, marketID int32) (decimal.Decimal, error) {
	var resp recentTradesResponse
	query := url.Values{
		"market_id": {strconv.FormatInt(int64(marketID), 10)},
		"limit":     {"1"},
	}
	if err := c.get(ctx, "/api/v1/recentTrades", query, &resp); err != nil {
		return decimal.Zero, errs.New(component, errs.CodeNetwork,
			errs.WithMessage("fetch recent trades"),
			errs.WithCause(err))
	}
	if len(resp.Trades) == 0 {
		return decimal.Zero, errs.New(component, errs.CodeVenue,
			errs.WithFailure(errs.FailureReferenceDataUnavailable),
			errs.WithMessage("no recent trades"))
	}
	price, err := decimal.NewFromString(resp.Trades[0].Price)
	if err != nil {
		return decimal.Zero, errs.New(component, errs.CodeVenue,
			errs.WithMessage("malformed trade price"),
			errs.WithCause(err))
	}
	return price, nil
}

type nextNonceResponse struct {
	Code  int   `json:"code"`
	Nonce int64 `json:"nonce"`
}

// NextNonce fetches the next transaction nonce for an API key slot.
func (c *RestClient) NextNonce(ctx context.Context, accountIndex int64, apiKeyIndex int) (int64, error) {
	var resp nextNonceResponse
	query := url.Values{
		"account_index": {strconv.FormatInt(accountIndex, 10)},
		"api_key_index": {strconv.Itoa(apiKeyIndex)},
	}
	if err := c.get(ctx, "/api/v1/nextNonce", query, &resp); err != nil {
		return 0, errs.New(component, errs.CodeNetwork,
			errs.WithMessage("fetch next nonce"),
			errs.WithAccount(accountIndex),
			errs.WithCause(err))
	}
	return resp.Nonce, nil
}

type sendTxResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	TxHash  string `json:"tx_hash"`
}

// SubmitOrder signs the request and posts it to the venue.
func (c *RestClient) SubmitOrder(ctx context.Context, req CreateOrderRequest) (CreateOrderResponse, error) {
	if c.signer == nil {
		return CreateOrderResponse{}, errs.New(component, errs.CodeAuth,
			errs.WithFailure(errs.FailureNotConfigured),
			errs.WithAccount(req.AccountIndex),
			errs.WithMessage("no signer configured"))
	}
	signed, err := c.signer.SignCreateOrder(req)
	if err != nil {
		return CreateOrderResponse{}, errs.New(component, errs.CodeAuth,
			errs.WithAccount(req.AccountIndex),
			errs.WithMessage("sign order"),
			errs.WithCause(err))
	}

	form := url.Values{
		"tx_type": {"14"},
		"tx_info": {string(signed)},
	}
	var resp sendTxResponse
	if err := c.postForm(ctx, "/api/v1/sendTx", form, &resp); err != nil {
		return CreateOrderResponse{}, errs.New(component, errs.CodeNetwork,
			errs.WithAccount(req.AccountIndex),
			errs.WithMessage("submit order"),
			errs.WithCause(err))
	}
	result := CreateOrderResponse{
		TxHash:    resp.TxHash,
		Code:      resp.Code,
		Message:   resp.Message,
		Committed: resp.Code == 200,
	}
	if !result.Committed {
		return result, errs.New(component, errs.CodeVenue,
			errs.WithFailure(errs.FailureOrderRejected),
			errs.WithAccount(req.AccountIndex),
			errs.WithRawCode(strconv.Itoa(resp.Code)),
			errs.WithRawMessage(resp.Message),
			errs.WithMessage("order rejected"))
	}
	return result, nil
}

func (c *RestClient) get(ctx context.Context, path string, query url.Values, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *RestClient) postForm(ctx context.Context, path string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path,
		bytes.NewBufferString(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, out)
}

func (c *RestClient) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("http %d: %s", resp.StatusCode, truncate(body, 256))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
