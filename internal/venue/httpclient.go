package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/ironfly/btcfly-engine/internal/apperr"
	"github.com/ironfly/btcfly-engine/internal/domain"
)

// HTTPClient is the resty-backed Client implementation. Endpoint paths
// below are representative of a typical options-venue REST surface. Only
// the base URL comes from config; the paths are fixed in this file.
type HTTPClient struct {
	rc        *resty.Client
	apiKey    string
	signer    Signer
}

// NewHTTPClient builds an HTTPClient against baseURL with the connect/read
// timeouts named in the concurrency model (connect <=10s, read <=30s).
func NewHTTPClient(baseURL, apiKey string, signer Signer) *HTTPClient {
	rc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30 * time.Second).
		SetHeader("X-API-KEY", apiKey).
		SetTransport(&http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			DialContext:         (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
			TLSHandshakeTimeout: 10 * time.Second,
		})
	rc.GetClient().Timeout = 30 * time.Second

	return &HTTPClient{rc: rc, apiKey: apiKey, signer: signer}
}

func (c *HTTPClient) signedRequest(ctx context.Context, query url.Values) (*resty.Request, error) {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	query.Set("timestamp", ts)
	query.Set("api_key", c.apiKey)
	sig, err := c.signer.Sign(query)
	if err != nil {
		return nil, errors.Wrap(err, "sign request")
	}
	query.Set("signature", sig)
	return c.rc.R().SetContext(ctx).SetQueryParamsFromValues(query), nil
}

func classifyHTTPError(op string, resp *resty.Response, err error) error {
	if err != nil {
		return apperr.API(op, 0, "", "transport failure", err)
	}
	if resp.IsError() {
		var body struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(resp.Body(), &body)
		return apperr.API(op, resp.StatusCode(), body.Code, body.Message, nil)
	}
	return nil
}

type orderWire struct {
	OrderID     string `json:"order_id"`
	Status      string `json:"status"`
	FilledQty   string `json:"filled_qty"`
	AvgPrice    string `json:"avg_price"`
	OriginalQty string `json:"original_qty"`
	Price       string `json:"price"`
}

func (w orderWire) toResult() OrderResult {
	return OrderResult{
		OrderID:     w.OrderID,
		Status:      OrderStatus(w.Status),
		FilledQty:   parseDecimalOrZero(w.FilledQty),
		AvgPrice:    parseDecimalOrZero(w.AvgPrice),
		OriginalQty: parseDecimalOrZero(w.OriginalQty),
		Price:       parseDecimalOrZero(w.Price),
	}
}

func parseDecimalOrZero(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// GetReferencePrice implements Client.
func (c *HTTPClient) GetReferencePrice(ctx context.Context) (decimal.Decimal, error) {
	req, err := c.signedRequest(ctx, url.Values{})
	if err != nil {
		return decimal.Zero, err
	}
	var out struct {
		Price string `json:"price"`
	}
	resp, err := req.SetResult(&out).Get("/v1/reference_price")
	if cerr := classifyHTTPError("get_reference_price", resp, err); cerr != nil {
		return decimal.Zero, cerr
	}
	return parseDecimalOrZero(out.Price), nil
}

// GetOptionsChain implements Client.
func (c *HTTPClient) GetOptionsChain(ctx context.Context, expiry time.Time) ([]domain.OptionContract, error) {
	q := url.Values{"expiry": []string{expiry.Format("2006-01-02")}}
	req, err := c.signedRequest(ctx, q)
	if err != nil {
		return nil, err
	}
	var out struct {
		Contracts []struct {
			Symbol  string `json:"symbol"`
			Side    string `json:"side"`
			Strike  string `json:"strike"`
			Expiry  string `json:"expiry"`
			BestBid string `json:"best_bid"`
			BestAsk string `json:"best_ask"`
		} `json:"contracts"`
	}
	resp, err := req.SetResult(&out).Get("/v1/options_chain")
	if cerr := classifyHTTPError("get_options_chain", resp, err); cerr != nil {
		return nil, cerr
	}

	contracts := make([]domain.OptionContract, 0, len(out.Contracts))
	for _, c2 := range out.Contracts {
		exp, _ := time.Parse("2006-01-02", c2.Expiry)
		contracts = append(contracts, domain.OptionContract{
			Symbol: c2.Symbol,
			Side:   domain.OptionSide(c2.Side),
			Strike: parseDecimalOrZero(c2.Strike),
			Expiry: exp,
			Book: domain.BookTop{
				BestBid:    parseDecimalOrZero(c2.BestBid),
				BestAsk:    parseDecimalOrZero(c2.BestAsk),
				ObservedAt: time.Now(),
			},
		})
	}
	return contracts, nil
}

// GetBook implements Client.
func (c *HTTPClient) GetBook(ctx context.Context, symbol string, depth int) (domain.BookTop, error) {
	q := url.Values{"symbol": []string{symbol}, "depth": []string{strconv.Itoa(depth)}}
	req, err := c.signedRequest(ctx, q)
	if err != nil {
		return domain.BookTop{}, err
	}
	var out struct {
		BestBid string `json:"best_bid"`
		BestAsk string `json:"best_ask"`
		BidSize string `json:"bid_size"`
		AskSize string `json:"ask_size"`
	}
	resp, err := req.SetResult(&out).Get("/v1/book")
	if cerr := classifyHTTPError("get_book", resp, err); cerr != nil {
		return domain.BookTop{}, cerr
	}
	return domain.BookTop{
		BestBid:    parseDecimalOrZero(out.BestBid),
		BestAsk:    parseDecimalOrZero(out.BestAsk),
		BidSize:    parseDecimalOrZero(out.BidSize),
		AskSize:    parseDecimalOrZero(out.AskSize),
		ObservedAt: time.Now(),
	}, nil
}

// PlaceOrder implements Client.
func (c *HTTPClient) PlaceOrder(ctx context.Context, symbol string, side domain.OrderSide, qty, price decimal.Decimal) (OrderResult, error) {
	q := url.Values{
		"symbol": []string{symbol},
		"side":   []string{string(side)},
		"qty":    []string{qty.String()},
		"price":  []string{price.String()},
		"type":   []string{OrderType},
	}
	req, err := c.signedRequest(ctx, q)
	if err != nil {
		return OrderResult{}, err
	}
	var out orderWire
	resp, err := req.SetResult(&out).Post("/v1/orders")
	if cerr := classifyHTTPError("place_order", resp, err); cerr != nil {
		return OrderResult{}, cerr
	}
	return out.toResult(), nil
}

// ModifyOrder implements Client.
func (c *HTTPClient) ModifyOrder(ctx context.Context, orderID, symbol string, qty, price decimal.Decimal) (OrderResult, error) {
	q := url.Values{
		"order_id": []string{orderID},
		"symbol":   []string{symbol},
		"qty":      []string{qty.String()},
		"price":    []string{price.String()},
	}
	req, err := c.signedRequest(ctx, q)
	if err != nil {
		return OrderResult{}, err
	}
	var out orderWire
	resp, err := req.SetResult(&out).Put(fmt.Sprintf("/v1/orders/%s", orderID))
	if cerr := classifyHTTPError("modify_order", resp, err); cerr != nil {
		return OrderResult{}, cerr
	}
	return out.toResult(), nil
}

// CancelOrder implements Client.
func (c *HTTPClient) CancelOrder(ctx context.Context, orderID, symbol string) (OrderResult, error) {
	q := url.Values{"order_id": []string{orderID}, "symbol": []string{symbol}}
	req, err := c.signedRequest(ctx, q)
	if err != nil {
		return OrderResult{}, err
	}
	var out orderWire
	resp, err := req.SetResult(&out).Delete(fmt.Sprintf("/v1/orders/%s", orderID))
	if cerr := classifyHTTPError("cancel_order", resp, err); cerr != nil {
		return OrderResult{}, cerr
	}
	return out.toResult(), nil
}

// GetOrder implements Client.
func (c *HTTPClient) GetOrder(ctx context.Context, orderID, symbol string) (OrderResult, error) {
	q := url.Values{"order_id": []string{orderID}, "symbol": []string{symbol}}
	req, err := c.signedRequest(ctx, q)
	if err != nil {
		return OrderResult{}, err
	}
	var out orderWire
	resp, err := req.SetResult(&out).Get(fmt.Sprintf("/v1/orders/%s", orderID))
	if cerr := classifyHTTPError("get_order", resp, err); cerr != nil {
		return OrderResult{}, cerr
	}
	return out.toResult(), nil
}

// EarliestExpiry implements Client.
func (c *HTTPClient) EarliestExpiry(ctx context.Context, after time.Time) (time.Time, error) {
	q := url.Values{"after": []string{after.Format("2006-01-02")}}
	req, err := c.signedRequest(ctx, q)
	if err != nil {
		return time.Time{}, err
	}
	var out struct {
		Expiry string `json:"expiry"`
	}
	resp, err := req.SetResult(&out).Get("/v1/expiries/earliest")
	if cerr := classifyHTTPError("earliest_expiry", resp, err); cerr != nil {
		return time.Time{}, cerr
	}
	exp, err := time.Parse("2006-01-02", out.Expiry)
	if err != nil {
		return time.Time{}, apperr.API("earliest_expiry", 0, "", "malformed expiry date", err)
	}
	return exp, nil
}

var _ Client = (*HTTPClient)(nil)
