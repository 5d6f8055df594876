package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func rpcServer(t *testing.T, handler func(method string, params []any) (any, int)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string `json:"method"`
			Params []any  `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		result, status := handler(req.Method, req.Params)
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": 1, "result": result})
	}))
}

func TestBlockByHeight(t *testing.T) {
	srv := rpcServer(t, func(method string, params []any) (any, int) {
		if method != "eth_getBlockByNumber" {
			t.Errorf("method = %q", method)
		}
		if params[0] != "0x64" {
			t.Errorf("params[0] = %v, want 0x64", params[0])
		}
		return map[string]string{
			"number":    "0x64",
			"hash":      "0xabc7",
			"timestamp": "0x65a0f000",
		}, http.StatusOK
	})
	defer srv.Close()

	client := NewClient(srv.URL, 5*time.Second)
	head, err := client.BlockByHeight(context.Background(), 100)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if head.Height != 100 || head.Hash != "0xabc7" {
		t.Errorf("head = %+v", head)
	}
	if head.Timestamp != 0x65a0f000 {
		t.Errorf("timestamp = %d", head.Timestamp)
	}
}

func TestBlockByHeightRateLimited(t *testing.T) {
	srv := rpcServer(t, func(method string, params []any) (any, int) {
		return nil, http.StatusTooManyRequests
	})
	defer srv.Close()

	client := NewClient(srv.URL, 5*time.Second)
	_, err := client.BlockByHeight(context.Background(), 100)
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("err = %v, want ErrRateLimited", err)
	}
}

func TestBlockByHeightNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":null}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 5*time.Second)
	if _, err := client.BlockByHeight(context.Background(), 100); err == nil {
		t.Error("expected error for null block")
	}
}

func TestChainHead(t *testing.T) {
	srv := rpcServer(t, func(method string, params []any) (any, int) {
		if method != "eth_blockNumber" {
			t.Errorf("method = %q", method)
		}
		return "0x1b4", http.StatusOK
	})
	defer srv.Close()

	client := NewClient(srv.URL, 5*time.Second)
	head, err := client.ChainHead(context.Background())
	if err != nil {
		t.Fatalf("chain head: %v", err)
	}
	if head != 436 {
		t.Errorf("head = %d, want 436", head)
	}
}

func TestChainHeadRetriesTransientFailure(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":"0x10"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 5*time.Second)
	head, err := client.ChainHead(context.Background())
	if err != nil {
		t.Fatalf("chain head: %v", err)
	}
	if head != 16 {
		t.Errorf("head = %d, want 16", head)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestDecodeHeight(t *testing.T) {
	cases := []struct {
		in      string
		want    uint64
		wantErr bool
	}{
		{"0x0", 0, false},
		{"0x64", 100, false},
		{"ff", 255, false},
		{"0x", 0, true},
		{"", 0, true},
		{"0xzz", 0, true},
	}
	for _, tc := range cases {
		got, err := decodeHeight(tc.in)
		if tc.wantErr != (err != nil) {
			t.Errorf("decodeHeight(%q) err = %v, wantErr %v", tc.in, err, tc.wantErr)
			continue
		}
		if !tc.wantErr && got != tc.want {
			t.Errorf("decodeHeight(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}
