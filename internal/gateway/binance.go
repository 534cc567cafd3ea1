package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"gridbot/internal/core"
	"gridbot/internal/wsclient"
)

const (
	defaultMainnetREST = "https://api.binance.com"
	defaultMainnetWS   = "wss://stream.binance.com:9443/ws"
	defaultTestnetREST = "https://testnet.binance.vision"
	defaultTestnetWS   = "wss://testnet.binance.vision/ws"

	listenKeyRenewInterval = 25 * time.Minute // spec §4.1: renew at least every 30 minutes
)

// BinanceConfig configures one credential's Binance gateway instance.
type BinanceConfig struct {
	APIKey    string
	APISecret string
	Testnet   bool

	// RESTRate is the per-credential REST token bucket (spec §5). Defaults
	// to 10 requests/second, burst 20, if zero.
	RESTRate  rate.Limit
	RESTBurst int
}

// Binance is the real Exchange Gateway implementation (spec §4.1). Every
// REST call runs through a failsafe retry+circuit-breaker pipeline and a
// per-credential token bucket; both websocket streams are backed by
// wsclient.Client with automatic reconnect.
type Binance struct {
	cfg     BinanceConfig
	restURL string
	wsURL   string

	httpClient *http.Client
	limiter    *rate.Limiter
	pipeline   failsafe.Executor[*http.Response]
	logger     core.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu            sync.Mutex
	userDataWS    *wsclient.Client
	tickerWS      *wsclient.Client
	listenKey     string
}

// NewBinance builds a Binance gateway for one bot's credentials.
func NewBinance(cfg BinanceConfig, logger core.Logger) *Binance {
	restURL, wsURL := defaultMainnetREST, defaultMainnetWS
	if cfg.Testnet {
		restURL, wsURL = defaultTestnetREST, defaultTestnetWS
	}

	if cfg.RESTRate == 0 {
		cfg.RESTRate = 10
	}
	if cfg.RESTBurst == 0 {
		cfg.RESTBurst = 20
	}

	retryPolicy := retrypolicy.NewBuilder[*http.Response]().
		HandleIf(func(resp *http.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp.StatusCode >= 500 || resp.StatusCode == 429
		}).
		WithBackoff(200*time.Millisecond, 2*time.Second).
		WithMaxRetries(3).
		Build()

	breaker := circuitbreaker.NewBuilder[*http.Response]().
		HandleIf(func(resp *http.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp.StatusCode >= 500
		}).
		WithFailureThresholdRatio(5, 10).
		WithDelay(10 * time.Second).
		Build()

	ctx, cancel := context.WithCancel(context.Background())

	return &Binance{
		cfg:     cfg,
		restURL: restURL,
		wsURL:   wsURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		limiter:  rate.NewLimiter(cfg.RESTRate, cfg.RESTBurst),
		pipeline: failsafe.With[*http.Response](retryPolicy, breaker),
		logger:   logger.WithField("exchange", "binance"),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (b *Binance) sign(params url.Values) {
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	mac := hmac.New(sha256.New, []byte(b.cfg.APISecret))
	mac.Write([]byte(params.Encode()))
	params.Set("signature", hex.EncodeToString(mac.Sum(nil)))
}

func (b *Binance) do(ctx context.Context, method, path string, params url.Values, signed bool) ([]byte, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limiter: %v", core.ErrTransient, err)
	}

	if signed {
		b.sign(params)
	}

	var req *http.Request
	var err error
	if method == http.MethodGet || method == http.MethodDelete {
		full := b.restURL + path
		if len(params) > 0 {
			full += "?" + params.Encode()
		}
		req, err = http.NewRequestWithContext(ctx, method, full, nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, b.restURL+path, bytes.NewBufferString(params.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", core.ErrTransient, err)
	}
	req.Header.Set("X-MBX-APIKEY", b.cfg.APIKey)

	resp, err := b.pipeline.GetWithExecution(func(exec failsafe.Execution[*http.Response]) (*http.Response, error) {
		return b.httpClient.Do(req)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrTransient, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", core.ErrTransient, err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
		}
		if jsonErr := json.Unmarshal(body, &errResp); jsonErr == nil && errResp.Code != 0 {
			return nil, classifyBinanceError(errResp.Code, errResp.Msg)
		}
		return nil, fmt.Errorf("%w: HTTP %d: %s", core.ErrTransient, resp.StatusCode, string(body))
	}

	return body, nil
}

func (b *Binance) TickerPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	params := url.Values{"symbol": {symbol}}
	body, err := b.do(ctx, http.MethodGet, "/api/v3/ticker/price", params, false)
	if err != nil {
		return decimal.Zero, err
	}

	var out struct {
		Price string `json:"price"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return decimal.Zero, fmt.Errorf("%w: decode ticker price: %v", core.ErrTransient, err)
	}
	return decimal.NewFromString(out.Price)
}

func (b *Binance) NewOrder(ctx context.Context, symbol string, side Side, quantity, price decimal.Decimal) (NewOrderResult, error) {
	params := url.Values{
		"symbol":      {symbol},
		"side":        {string(side)},
		"type":        {"LIMIT"},
		"timeInForce": {"GTC"},
		"quantity":    {quantity.String()},
		"price":       {price.String()},
	}

	body, err := b.do(ctx, http.MethodPost, "/api/v3/order", params, true)
	if err != nil {
		return NewOrderResult{}, err
	}

	var out struct {
		OrderID           int64  `json:"orderId"`
		Status            string `json:"status"`
		ExecutedQty       string `json:"executedQty"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return NewOrderResult{}, fmt.Errorf("%w: decode order response: %v", core.ErrTransient, err)
	}

	executedQty, _ := decimal.NewFromString(out.ExecutedQty)
	return NewOrderResult{
		OrderID:     out.OrderID,
		Status:      OrderStatus(out.Status),
		ExecutedQty: executedQty,
		Raw:         string(body),
	}, nil
}

func (b *Binance) CancelOrder(ctx context.Context, symbol string, orderID int64) (CancelResult, error) {
	params := url.Values{
		"symbol":  {symbol},
		"orderId": {strconv.FormatInt(orderID, 10)},
	}

	body, err := b.do(ctx, http.MethodDelete, "/api/v3/order", params, true)
	if err != nil {
		if IsAlreadyTerminal(err) {
			return CancelResult{Status: StatusCanceled}, nil
		}
		return CancelResult{}, err
	}

	var out struct {
		Status      string `json:"status"`
		ExecutedQty string `json:"executedQty"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return CancelResult{}, fmt.Errorf("%w: decode cancel response: %v", core.ErrTransient, err)
	}

	executedQty, _ := decimal.NewFromString(out.ExecutedQty)
	return CancelResult{Status: OrderStatus(out.Status), ExecutedQty: executedQty}, nil
}

func (b *Binance) GetOrder(ctx context.Context, symbol string, orderID int64) (OrderState, error) {
	params := url.Values{
		"symbol":  {symbol},
		"orderId": {strconv.FormatInt(orderID, 10)},
	}

	body, err := b.do(ctx, http.MethodGet, "/api/v3/order", params, true)
	if err != nil {
		return OrderState{}, err
	}

	var out struct {
		Status      string `json:"status"`
		ExecutedQty string `json:"executedQty"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return OrderState{}, fmt.Errorf("%w: decode get-order response: %v", core.ErrTransient, err)
	}

	executedQty, _ := decimal.NewFromString(out.ExecutedQty)
	return OrderState{Status: OrderStatus(out.Status), ExecutedQty: executedQty, Raw: string(body)}, nil
}

func (b *Binance) NewListenKey(ctx context.Context) (string, error) {
	body, err := b.do(ctx, http.MethodPost, "/api/v3/userDataStream", url.Values{}, false)
	if err != nil {
		return "", err
	}

	var out struct {
		ListenKey string `json:"listenKey"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("%w: decode listen key: %v", core.ErrTransient, err)
	}

	b.mu.Lock()
	b.listenKey = out.ListenKey
	b.mu.Unlock()

	return out.ListenKey, nil
}

func (b *Binance) renewListenKey(ctx context.Context) {
	b.mu.Lock()
	key := b.listenKey
	b.mu.Unlock()
	if key == "" {
		return
	}
	params := url.Values{"listenKey": {key}}
	if _, err := b.do(ctx, http.MethodPut, "/api/v3/userDataStream", params, false); err != nil {
		b.logger.Warn("listen key renewal failed", "error", err)
	}
}

func (b *Binance) UserDataStream(ctx context.Context, listenKey string, onMessage func(ExecutionReport)) error {
	client := wsclient.New(b.wsURL+"/"+listenKey, func(raw []byte) {
		var frame struct {
			EventType string `json:"e"`
			Symbol    string `json:"s"`
			OrderID   int64  `json:"i"`
			Side      string `json:"S"`
			Status    string `json:"X"`
			CumQty    string `json:"z"`
		}
		if err := json.Unmarshal(raw, &frame); err != nil {
			b.logger.Debug("user-data frame decode failed", "error", err)
			return
		}
		if frame.EventType != "executionReport" {
			b.logger.Debug("ignoring non-execution user-data frame", "type", frame.EventType)
			return
		}
		cumQty, _ := decimal.NewFromString(frame.CumQty)
		onMessage(ExecutionReport{
			Symbol:                frame.Symbol,
			OrderID:               frame.OrderID,
			Side:                  Side(frame.Side),
			Status:                OrderStatus(frame.Status),
			CumulativeExecutedQty: cumQty,
			Raw:                   string(raw),
		})
	}, b.logger)

	client.Start()

	b.mu.Lock()
	b.userDataWS = client
	b.listenKey = listenKey
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ticker := time.NewTicker(listenKeyRenewInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-b.ctx.Done():
				return
			case <-ticker.C:
				b.renewListenKey(ctx)
			}
		}
	}()

	return nil
}

func (b *Binance) TickerStream(ctx context.Context, symbol string, onMessage func(TickerFrame)) error {
	stream := strings.ToLower(symbol) + "@ticker"
	client := wsclient.New(b.wsURL+"/"+stream, func(raw []byte) {
		var frame struct {
			EventType string `json:"e"`
			Symbol    string `json:"s"`
			LastPrice string `json:"c"`
		}
		if err := json.Unmarshal(raw, &frame); err != nil {
			b.logger.Debug("ticker frame decode failed", "error", err)
			return
		}
		if frame.EventType != "24hrTicker" || frame.Symbol != symbol {
			return
		}
		price, err := decimal.NewFromString(frame.LastPrice)
		if err != nil {
			return
		}
		onMessage(TickerFrame{Symbol: frame.Symbol, Price: price})
	}, b.logger)

	client.Start()

	b.mu.Lock()
	b.tickerWS = client
	b.mu.Unlock()

	return nil
}

func (b *Binance) Stop() {
	b.cancel()

	b.mu.Lock()
	userDataWS, tickerWS := b.userDataWS, b.tickerWS
	b.mu.Unlock()

	if userDataWS != nil {
		userDataWS.Stop()
	}
	if tickerWS != nil {
		tickerWS.Stop()
	}
	b.wg.Wait()
}

var _ Gateway = (*Binance)(nil)
