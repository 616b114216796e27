package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/papertrade/bot-api/internal/types"
)

var (
	// ErrSymbolNotFound marks a symbol the upstream exchange does not list.
	// It is not retryable.
	ErrSymbolNotFound = errors.New("symbol not supported by market data provider")

	// ErrTransient marks a fetch failure the next scheduled tick may retry.
	ErrTransient = errors.New("transient market data error")
)

// IsTransient reports whether a market data error is retryable.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

var supportedTimeframes = map[string]bool{
	"1m": true, "5m": true, "15m": true, "30m": true,
	"1h": true, "4h": true, "1d": true, "1w": true,
}

// ValidTimeframe reports whether the timeframe maps to an upstream interval.
func ValidTimeframe(tf string) bool { return supportedTimeframes[tf] }

// Client fetches klines from a Binance-style REST API. Requests are rate
// limited and bounded by the configured timeout.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

func NewClient(baseURL string, timeout time.Duration, requestsPerMinute int) *Client {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 100
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), 5),
	}
}

// FetchCandles retrieves up to limit klines for the symbol and timeframe,
// ordered by ascending open time.
func (c *Client) FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]types.MarketCandle, error) {
	if !ValidTimeframe(timeframe) {
		return nil, fmt.Errorf("unsupported timeframe %q", timeframe)
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limiter: %v", ErrTransient, err)
	}

	endpoint := fmt.Sprintf("%s/api/v3/klines?%s", c.baseURL, url.Values{
		"symbol":   {symbol},
		"interval": {timeframe},
		"limit":    {strconv.Itoa(limit)},
	}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusBadRequest, resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrSymbolNotFound, symbol)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: upstream status %d", ErrTransient, resp.StatusCode)
	}

	// Binance kline rows: [openTimeMs, open, high, low, close, volume, ...]
	var rows [][]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("%w: decoding klines: %v", ErrTransient, err)
	}

	candles := make([]types.MarketCandle, 0, len(rows))
	for _, row := range rows {
		candle, err := parseKline(row, symbol, timeframe)
		if err != nil {
			log.Warn().Err(err).Str("symbol", symbol).Msg("skipping malformed kline row")
			continue
		}
		candles = append(candles, candle)
	}

	log.Debug().
		Str("symbol", symbol).
		Str("timeframe", timeframe).
		Int("count", len(candles)).
		Msg("fetched candles from upstream")

	return candles, nil
}

func parseKline(row []interface{}, symbol, timeframe string) (types.MarketCandle, error) {
	var candle types.MarketCandle
	if len(row) < 6 {
		return candle, fmt.Errorf("kline row has %d fields", len(row))
	}

	openTimeMs, ok := row[0].(float64)
	if !ok {
		return candle, errors.New("kline open time is not numeric")
	}

	fields := make([]float64, 5)
	for i := 1; i <= 5; i++ {
		s, ok := row[i].(string)
		if !ok {
			return candle, fmt.Errorf("kline field %d is not a string", i)
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return candle, fmt.Errorf("kline field %d: %w", i, err)
		}
		fields[i-1] = v
	}

	candle = types.MarketCandle{
		Symbol:    symbol,
		Timeframe: timeframe,
		Timestamp: time.UnixMilli(int64(openTimeMs)).UTC(),
		Open:      fields[0],
		High:      fields[1],
		Low:       fields[2],
		Close:     fields[3],
		Volume:    fields[4],
	}
	return candle, nil
}
