package provider

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

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	timeSeriesPath = "/time_series"
	splitsPath     = "/splits"
	dividendsPath  = "/dividends"
	dateLayout     = "2006-01-02"
	// Twelve Data caps time_series at 5000 rows per request.
	maxOutputSize = 5000
)

// TwelveDataOptions parameterise the Twelve Data client.
type TwelveDataOptions struct {
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
	UserAgent string
}

// TwelveData fetches daily bars, splits and dividends from the Twelve Data REST API.
type TwelveData struct {
	opts    TwelveDataOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

var (
	_ BarSource    = (*TwelveData)(nil)
	_ ActionSource = (*TwelveData)(nil)
)

// NewTwelveData constructs a Twelve Data client.
func NewTwelveData(opts TwelveDataOptions, logger zerolog.Logger) *TwelveData {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.twelvedata.com"
	}
	return &TwelveData{
		opts:    opts,
		logger:  logger.With().Str("component", "twelvedata").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// Name identifies the source in logs and metrics.
func (t *TwelveData) Name() string { return "twelvedata" }

// FetchBars retrieves daily bars. Empty or unparsable fields become nil.
func (t *TwelveData) FetchBars(ctx context.Context, symbol string, start, end time.Time) ([]BarRecord, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", "1day")
	q.Set("start_date", start.Format(dateLayout))
	// end_date is exclusive upstream.
	q.Set("end_date", end.AddDate(0, 0, 1).Format(dateLayout))
	q.Set("order", "ASC")
	q.Set("outputsize", strconv.Itoa(maxOutputSize))

	var body timeSeriesResponse
	if err := t.get(ctx, timeSeriesPath, q, &body); err != nil {
		return nil, err
	}
	if err := body.apiError(); err != nil {
		return nil, err
	}

	records := make([]BarRecord, 0, len(body.Values))
	for _, v := range body.Values {
		ts, err := parseDatetime(v.Datetime)
		if err != nil {
			t.logger.Warn().Str("symbol", symbol).Str("datetime", v.Datetime).Msg("skipping row with bad datetime")
			continue
		}
		records = append(records, BarRecord{
			Timestamp: ts,
			Open:      parseOptionalDecimal(v.Open),
			High:      parseOptionalDecimal(v.High),
			Low:       parseOptionalDecimal(v.Low),
			Close:     parseOptionalDecimal(v.Close),
			Volume:    parseOptionalInt(v.Volume),
		})
	}
	return records, nil
}

// FetchCorporateActions retrieves splits and dividends.
func (t *TwelveData) FetchCorporateActions(ctx context.Context, symbol string, start, end time.Time) (Actions, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("start_date", start.Format(dateLayout))
	q.Set("end_date", end.Format(dateLayout))

	var splits splitsResponse
	if err := t.get(ctx, splitsPath, q, &splits); err != nil {
		return Actions{}, err
	}
	if err := splits.apiError(); err != nil {
		return Actions{}, err
	}

	var dividends dividendsResponse
	if err := t.get(ctx, dividendsPath, q, &dividends); err != nil {
		return Actions{}, err
	}
	if err := dividends.apiError(); err != nil {
		return Actions{}, err
	}

	var out Actions
	for _, s := range splits.Splits {
		exDate, err := time.Parse(dateLayout, s.Date)
		if err != nil {
			return Actions{}, fmt.Errorf("parse split date %q: %w", s.Date, err)
		}
		ratio := s.ratio()
		if !ratio.IsPositive() {
			continue
		}
		out.Splits = append(out.Splits, ActionEvent{ExDate: exDate, Value: ratio})
	}
	for _, d := range dividends.Dividends {
		exDate, err := time.Parse(dateLayout, d.ExDate)
		if err != nil {
			return Actions{}, fmt.Errorf("parse dividend ex_date %q: %w", d.ExDate, err)
		}
		if !d.Amount.IsPositive() {
			continue
		}
		out.Dividends = append(out.Dividends, ActionEvent{ExDate: exDate, Value: d.Amount})
	}
	return out, nil
}

func (t *TwelveData) get(ctx context.Context, path string, q url.Values, out any) error {
	q.Set("apikey", t.opts.APIKey)
	endpoint := t.baseURL + path + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(t.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "eodbars/1.0")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return parseHTTPError(resp.StatusCode, payload)
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

type apiStatus struct {
	Status  string `json:"status"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (s apiStatus) apiError() error {
	if s.Status != "error" {
		return nil
	}
	msg := strings.ToLower(s.Message)
	if s.Code == http.StatusNotFound || (strings.Contains(msg, "symbol") && strings.Contains(msg, "not found")) {
		return fmt.Errorf("%w: %s", ErrUnknownSymbol, s.Message)
	}
	return fmt.Errorf("twelvedata api error (%d): %s", s.Code, s.Message)
}

type timeSeriesResponse struct {
	apiStatus
	Values []struct {
		Datetime string `json:"datetime"`
		Open     string `json:"open"`
		High     string `json:"high"`
		Low      string `json:"low"`
		Close    string `json:"close"`
		Volume   string `json:"volume"`
	} `json:"values"`
}

type splitsResponse struct {
	apiStatus
	Splits []splitRow `json:"splits"`
}

type splitRow struct {
	Date       string          `json:"date"`
	FromFactor decimal.Decimal `json:"from_factor"`
	ToFactor   decimal.Decimal `json:"to_factor"`
	Ratio      decimal.Decimal `json:"ratio"`
}

// ratio expresses a split as new shares per old share, so a 4-for-1 split is 4.
func (s splitRow) ratio() decimal.Decimal {
	if s.FromFactor.IsPositive() && s.ToFactor.IsPositive() {
		return s.FromFactor.Div(s.ToFactor)
	}
	if s.Ratio.IsPositive() {
		// ratio is old shares per new share upstream.
		return decimal.NewFromInt(1).Div(s.Ratio)
	}
	return decimal.Zero
}

type dividendsResponse struct {
	apiStatus
	Dividends []struct {
		ExDate string          `json:"ex_date"`
		Amount decimal.Decimal `json:"amount"`
	} `json:"dividends"`
}

func parseDatetime(raw string) (time.Time, error) {
	if ts, err := time.Parse(dateLayout, raw); err == nil {
		return ts, nil
	}
	ts, err := time.Parse("2006-01-02 15:04:05", raw)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC), nil
}

func parseOptionalDecimal(raw string) *decimal.Decimal {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, "nan") {
		return nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil
	}
	return &d
}

func parseOptionalInt(raw string) *int64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		// Some feeds report volume as "1234.0".
		d, derr := decimal.NewFromString(raw)
		if derr != nil {
			return nil
		}
		v = d.IntPart()
	}
	return &v
}

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil && apiErr.Message != "" {
		if status == http.StatusNotFound {
			return fmt.Errorf("%w: %s", ErrUnknownSymbol, apiErr.Message)
		}
		return fmt.Errorf("twelvedata http error (%d): %s", status, apiErr.Message)
	}
	if len(payload) > 0 {
		return fmt.Errorf("twelvedata http error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("twelvedata http error (%d)", status)
}
