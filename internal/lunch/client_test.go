package lunch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testFactory(baseURL string) *Factory {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewFactory(Config{BaseURL: baseURL, Timeout: 2 * time.Second}, logger, nil, nil)
}

func TestListTransactionsQuery(t *testing.T) {
	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = map[string]string{
			"start_date": r.URL.Query().Get("start_date"),
			"end_date":   r.URL.Query().Get("end_date"),
			"pending":    r.URL.Query().Get("pending"),
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("missing bearer token, got %q", r.Header.Get("Authorization"))
		}
		w.Write([]byte(`{"transactions": [{"id": 1, "date": "2026-08-20", "amount": "3.00"}]}`))
	}))
	defer srv.Close()

	client := testFactory(srv.URL).ClientFor("tok")
	start := time.Date(2026, 8, 5, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)

	txs, err := client.ListTransactions(context.Background(), true, start, end)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(txs) != 1 || txs[0].ID != 1 {
		t.Fatalf("unexpected transactions: %+v", txs)
	}
	if gotQuery["start_date"] != "2026-08-05" || gotQuery["end_date"] != "2026-08-20" {
		t.Fatalf("wrong date window: %v", gotQuery)
	}
	if gotQuery["pending"] != "true" {
		t.Fatalf("pending flag not passed: %v", gotQuery)
	}
}

func TestRevokedTokenClassification(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
	}{
		{"unauthorized status", http.StatusUnauthorized, `{"error": "nope"}`},
		{"missing token marker", http.StatusBadRequest, `{"error": "Access token does not exist."}`},
		{"invalid token marker", http.StatusBadRequest, `{"error": "Invalid access token"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			client := testFactory(srv.URL).ClientFor("tok")
			_, err := client.GetUser(context.Background())
			if !errors.Is(err, ErrTokenRevoked) {
				t.Fatalf("expected ErrTokenRevoked, got %v", err)
			}
		})
	}
}

func TestServerErrorIsNotRevocation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	client := testFactory(srv.URL).ClientFor("tok")
	_, err := client.GetUser(context.Background())
	if err == nil {
		t.Fatal("expected an error")
	}
	if errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("server error misclassified as revocation: %v", err)
	}
}

func TestUpdateTransactionWrapsBody(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.Write([]byte(`{"updated": true}`))
	}))
	defer srv.Close()

	client := testFactory(srv.URL).ClientFor("tok")
	status := StatusCleared
	if err := client.UpdateTransaction(context.Background(), 42, TransactionUpdate{Status: &status}); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	want := `{"transaction":{"status":"cleared"}}`
	if gotBody != want {
		t.Fatalf("wrong request body: %s", gotBody)
	}
}

func TestMetricEndpointCollapsesIDs(t *testing.T) {
	if got := metricEndpoint("/v1/transactions/12345"); got != "/v1/transactions/:id" {
		t.Fatalf("id not collapsed: %s", got)
	}
	if got := metricEndpoint("/v1/me"); got != "/v1/me" {
		t.Fatalf("static path mangled: %s", got)
	}
}
