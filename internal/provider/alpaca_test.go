package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

const alpacaBars = `[
    {"t": "2024-01-02T05:00:00Z", "o": 185.1, "h": 186.5, "l": 183.9, "c": 185.6, "v": 82488700, "n": 1000, "vw": 185.2},
    {"t": "2024-07-01T04:00:00Z", "o": 212.1, "h": 217.5, "l": 211.9, "c": 216.7, "v": 60402900, "n": 900, "vw": 215.0}
]`

func TestAlpacaFetchBars(t *testing.T) {
	var gotStart, gotEnd, gotTimeframe string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/bars") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		q := r.URL.Query()
		gotStart, gotEnd, gotTimeframe = q.Get("start"), q.Get("end"), q.Get("timeframe")
		w.Header().Set("Content-Type", "application/json")
		if q.Get("symbols") != "" {
			fmt.Fprintf(w, `{"bars": {"AAPL": %s}, "next_page_token": null}`, alpacaBars)
			return
		}
		fmt.Fprintf(w, `{"symbol": "AAPL", "bars": %s, "next_page_token": null}`, alpacaBars)
	}))
	defer srv.Close()

	src := NewAlpaca(AlpacaOptions{APIKey: "k", APISecret: "s", BaseURL: srv.URL}, noopLogger())
	records, err := src.FetchBars(context.Background(), "AAPL", mustDate("2024-01-02"), mustDate("2024-07-01"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	start, err := time.Parse(time.RFC3339, gotStart)
	if err != nil || !start.Equal(mustDate("2024-01-02")) {
		t.Fatalf("unexpected start %q", gotStart)
	}
	end, err := time.Parse(time.RFC3339, gotEnd)
	if err != nil || !end.Equal(mustDate("2024-07-02")) {
		t.Fatalf("end must be the day after the last requested date, got %q", gotEnd)
	}
	if gotTimeframe != "1Day" {
		t.Fatalf("unexpected timeframe %q", gotTimeframe)
	}

	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if !records[0].Timestamp.Equal(mustDate("2024-01-02")) || !records[1].Timestamp.Equal(mustDate("2024-07-01")) {
		t.Fatalf("timestamps not normalised to calendar days: %v, %v", records[0].Timestamp, records[1].Timestamp)
	}
	if !records[0].Complete() || !records[0].Close.Equal(decimal.RequireFromString("185.6")) || *records[0].Volume != 82488700 {
		t.Fatalf("first record parsed incorrectly: %+v", records[0])
	}
}

func TestAlpacaFetchBarsCancelled(t *testing.T) {
	src := NewAlpaca(AlpacaOptions{BaseURL: "http://127.0.0.1:0"}, noopLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := src.FetchBars(ctx, "AAPL", mustDate("2024-01-02"), mustDate("2024-01-03")); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
