package cn

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"astock/internal/domain"
	"astock/internal/gather"
	"astock/internal/util"
)

// ---------------------------------------------------------------------------
// Compile-time interface checks
// ---------------------------------------------------------------------------

var _ gather.UniverseProvider = (*EastMoneyClient)(nil)
var _ gather.HistoryProvider = (*EastMoneyClient)(nil)

const (
	DefaultKlineURL = "http://push2his.eastmoney.com/api/qt/stock/kline/get"
	DefaultListURL  = "http://push2.eastmoney.com/api/qt/clist/get"

	// All A-share boards: SZ main, SZ ChiNext, SH main, SH STAR, BJ.
	aShareFilter = "m:0+t:6,m:0+t:80,m:1+t:2,m:1+t:23,m:0+t:81+s:2048"
	listPageSize = 100
	listAttempts = 3
	klineFields  = "f51,f52,f53,f54,f55,f56,f57,f58,f59,f60,f61"
)

// ---------------------------------------------------------------------------
// EastMoneyClient — HTTP client for the Eastmoney quote service.
// ---------------------------------------------------------------------------

// EastMoneyClient fetches the A-share universe and unadjusted daily klines
// from Eastmoney's public quote endpoints. All requests share one limiter.
type EastMoneyClient struct {
	klineURL   string
	listURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	retryDelay time.Duration // first backoff between list page attempts
}

// NewEastMoneyClient creates a client. Empty URLs select the public
// endpoints; ratePerMin <= 0 disables rate limiting.
func NewEastMoneyClient(klineURL, listURL string, timeout time.Duration, ratePerMin int) *EastMoneyClient {
	if klineURL == "" {
		klineURL = DefaultKlineURL
	}
	if listURL == "" {
		listURL = DefaultListURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &EastMoneyClient{
		klineURL:   klineURL,
		listURL:    listURL,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    util.NewRateLimiter(ratePerMin),
		retryDelay: time.Second,
	}
}

type klineResponse struct {
	Data *struct {
		Code   string   `json:"code"`
		Klines []string `json:"klines"`
	} `json:"data"`
}

type listResponse struct {
	Data *struct {
		Total int `json:"total"`
		Diff  []struct {
			Code string `json:"f12"`
			Name string `json:"f14"`
		} `json:"diff"`
	} `json:"data"`
}

// FetchDaily returns unadjusted daily bars for symbol within r, oldest first.
func (c *EastMoneyClient) FetchDaily(ctx context.Context, symbol string, r gather.DateRange) ([]domain.DailyBar, error) {
	secID, err := secID(symbol)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("secid", secID)
	q.Set("fields1", "f1,f2,f3")
	q.Set("fields2", klineFields)
	q.Set("klt", "101") // daily
	q.Set("fqt", "0")   // unadjusted
	q.Set("beg", r.Start.Format(domain.DateLayout))
	q.Set("end", r.End.Format(domain.DateLayout))

	var resp klineResponse
	if err := c.getJSON(ctx, c.klineURL+"?"+q.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("fetching klines for %s: %w", symbol, err)
	}
	if resp.Data == nil {
		return nil, nil
	}

	bars := make([]domain.DailyBar, 0, len(resp.Data.Klines))
	for _, line := range resp.Data.Klines {
		bar, err := parseKline(symbol, line)
		if err != nil {
			return nil, fmt.Errorf("parsing kline for %s: %w", symbol, err)
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

// ListStocks pages through the A-share list and returns every code/name pair.
// Each page is retried with backoff; kline fetches are not.
func (c *EastMoneyClient) ListStocks(ctx context.Context) ([]domain.Stock, error) {
	var stocks []domain.Stock
	seen := make(map[string]struct{})

	for page := 1; ; page++ {
		q := url.Values{}
		q.Set("pn", strconv.Itoa(page))
		q.Set("pz", strconv.Itoa(listPageSize))
		q.Set("po", "1")
		q.Set("np", "1")
		q.Set("fltt", "2")
		q.Set("invt", "2")
		q.Set("fid", "f12")
		q.Set("fs", aShareFilter)
		q.Set("fields", "f12,f14")

		var resp listResponse
		err := util.Retry(ctx, listAttempts, c.retryDelay, func() error {
			resp = listResponse{}
			return c.getJSON(ctx, c.listURL+"?"+q.Encode(), &resp)
		})
		if err != nil {
			return nil, fmt.Errorf("listing stocks page %d: %w", page, err)
		}
		if resp.Data == nil || len(resp.Data.Diff) == 0 {
			break
		}

		for _, d := range resp.Data.Diff {
			sym := domain.NormalizeSymbol(d.Code)
			if sym == "" {
				continue
			}
			if _, dup := seen[sym]; dup {
				continue
			}
			seen[sym] = struct{}{}
			stocks = append(stocks, domain.Stock{Symbol: sym, Name: strings.TrimSpace(d.Name)})
		}

		if len(stocks) >= resp.Data.Total || len(resp.Data.Diff) < listPageSize {
			break
		}
	}

	if len(stocks) == 0 {
		return nil, fmt.Errorf("listing stocks: empty universe")
	}
	return stocks, nil
}

func (c *EastMoneyClient) getJSON(ctx context.Context, u string, v any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")
	req.Header.Set("Referer", "https://quote.eastmoney.com/")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// secID maps a code to Eastmoney's "<market>.<code>" form: 1 for Shanghai,
// 0 for Shenzhen and Beijing.
func secID(symbol string) (string, error) {
	m, err := domain.MarketOf(symbol)
	if err != nil {
		return "", err
	}
	if m == domain.MarketSH {
		return "1." + symbol, nil
	}
	return "0." + symbol, nil
}

// parseKline decodes one "date,open,close,high,low,volume,amount,amplitude,
// pct_chg,change,turnover" line.
func parseKline(symbol, line string) (domain.DailyBar, error) {
	parts := strings.Split(line, ",")
	if len(parts) < 11 {
		return domain.DailyBar{}, fmt.Errorf("want 11 fields, got %d in %q", len(parts), line)
	}

	date, err := time.Parse(time.DateOnly, parts[0])
	if err != nil {
		return domain.DailyBar{}, err
	}

	var f [10]float64
	for i := range f {
		if parts[i+1] == "-" || parts[i+1] == "" {
			continue
		}
		v, err := strconv.ParseFloat(parts[i+1], 64)
		if err != nil {
			return domain.DailyBar{}, fmt.Errorf("field %d of %q: %w", i+1, line, err)
		}
		f[i] = v
	}

	return domain.DailyBar{
		Symbol:    symbol,
		Date:      date,
		Open:      f[0],
		Close:     f[1],
		High:      f[2],
		Low:       f[3],
		Volume:    int64(f[4]),
		Amount:    f[5],
		Amplitude: f[6],
		PctChg:    f[7],
		Change:    f[8],
		Turnover:  f[9],
	}, nil
}
