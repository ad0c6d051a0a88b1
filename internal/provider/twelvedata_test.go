package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func mustDate(s string) time.Time {
	d, err := time.Parse(dateLayout, s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestTwelveDataFetchBars(t *testing.T) {
	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/time_series" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotQuery = map[string]string{}
		for k := range r.URL.Query() {
			gotQuery[k] = r.URL.Query().Get(k)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
            "meta": {"symbol": "XYZ", "interval": "1day"},
            "values": [
                {"datetime": "2024-01-02", "open": "10.5", "high": "11", "low": "10", "close": "10.8", "volume": "1200"},
                {"datetime": "2024-01-03", "open": "", "high": "11", "low": "10", "close": "10.9", "volume": "900"},
                {"datetime": "2024-01-04 00:00:00", "open": "10.9", "high": "11.2", "low": "10.7", "close": "11.1", "volume": "1500.0"}
            ],
            "status": "ok"
        }`))
	}))
	defer srv.Close()

	td := NewTwelveData(TwelveDataOptions{BaseURL: srv.URL, APIKey: "k", Timeout: time.Second}, noopLogger())
	records, err := td.FetchBars(context.Background(), "XYZ", mustDate("2024-01-02"), mustDate("2024-01-04"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotQuery["interval"] != "1day" || gotQuery["start_date"] != "2024-01-02" || gotQuery["end_date"] != "2024-01-05" || gotQuery["apikey"] != "k" {
		t.Fatalf("unexpected query %v", gotQuery)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	if !records[0].Complete() || !records[0].Close.Equal(decimal.RequireFromString("10.8")) || *records[0].Volume != 1200 {
		t.Fatalf("first record parsed incorrectly: %+v", records[0])
	}
	if records[1].Complete() || records[1].Open != nil {
		t.Fatalf("empty open should be nil: %+v", records[1])
	}
	if !records[2].Timestamp.Equal(mustDate("2024-01-04")) || *records[2].Volume != 1500 {
		t.Fatalf("third record parsed incorrectly: %+v", records[2])
	}
}

func TestTwelveDataUnknownSymbol(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"code":    404,
			"message": "**symbol** not found: NOPE",
			"status":  "error",
		})
	}))
	defer srv.Close()

	td := NewTwelveData(TwelveDataOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	_, err := td.FetchBars(context.Background(), "NOPE", mustDate("2024-01-01"), mustDate("2024-01-31"))
	if !errors.Is(err, ErrUnknownSymbol) {
		t.Fatalf("expected ErrUnknownSymbol, got %v", err)
	}
}

func TestTwelveDataAPIErrorClassification(t *testing.T) {
	cases := []struct {
		name    string
		code    int
		message string
		unknown bool
	}{
		{"not found code", 404, "nothing here", true},
		{"symbol not found wording", 400, "**symbol** not found: NOPE", true},
		{"bad symbol parameter", 400, "**symbol** parameter is missing or invalid", false},
		{"server error mentioning symbol", 500, "internal error while resolving symbol", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(map[string]any{"code": tc.code, "message": tc.message, "status": "error"})
			}))
			defer srv.Close()

			td := NewTwelveData(TwelveDataOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
			_, err := td.FetchBars(context.Background(), "XYZ", mustDate("2024-01-01"), mustDate("2024-01-31"))
			if err == nil {
				t.Fatal("expected an error")
			}
			if got := errors.Is(err, ErrUnknownSymbol); got != tc.unknown {
				t.Fatalf("ErrUnknownSymbol = %v, want %v (err %v)", got, tc.unknown, err)
			}
		})
	}
}

func TestTwelveDataHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]any{"code": 429, "message": "run out of API credits", "status": "error"})
	}))
	defer srv.Close()

	td := NewTwelveData(TwelveDataOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	_, err := td.FetchBars(context.Background(), "XYZ", mustDate("2024-01-01"), mustDate("2024-01-31"))
	if err == nil {
		t.Fatal("HTTP 429 should return an error")
	}
	if errors.Is(err, ErrUnknownSymbol) {
		t.Fatalf("rate limit must not be reported as unknown symbol: %v", err)
	}
}

func TestTwelveDataFetchCorporateActions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/splits":
			_, _ = w.Write([]byte(`{"meta": {"symbol": "XYZ"}, "splits": [
                {"date": "2024-06-10", "description": "4-for-1 split", "ratio": 0.25, "from_factor": 4, "to_factor": 1},
                {"date": "2024-07-01", "description": "broken", "ratio": 0, "from_factor": 0, "to_factor": 0}
            ]}`))
		case "/dividends":
			_, _ = w.Write([]byte(`{"meta": {"symbol": "XYZ"}, "dividends": [
                {"ex_date": "2024-02-09", "amount": 0.24},
                {"ex_date": "2024-05-10", "amount": 0.25}
            ]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	td := NewTwelveData(TwelveDataOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	actions, err := td.FetchCorporateActions(context.Background(), "XYZ", mustDate("2024-01-01"), mustDate("2024-12-31"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(actions.Splits) != 1 {
		t.Fatalf("expected 1 valid split, got %d", len(actions.Splits))
	}
	if !actions.Splits[0].Value.Equal(decimal.NewFromInt(4)) || !actions.Splits[0].ExDate.Equal(mustDate("2024-06-10")) {
		t.Fatalf("split parsed incorrectly: %+v", actions.Splits[0])
	}
	if len(actions.Dividends) != 2 || !actions.Dividends[0].Value.Equal(decimal.RequireFromString("0.24")) {
		t.Fatalf("dividends parsed incorrectly: %+v", actions.Dividends)
	}
}

func TestSplitRatioFallsBackToInverseRatio(t *testing.T) {
	row := splitRow{Ratio: decimal.RequireFromString("0.5")}
	if !row.ratio().Equal(decimal.NewFromInt(2)) {
		t.Fatalf("expected 2, got %s", row.ratio())
	}
}
