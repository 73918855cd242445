package adapter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHTTPFetchNon2xxIsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	res := httpFetch(context.Background(), srv.URL, fetchOptions{allowPrivate: true})
	if res.httpStatus != 503 {
		t.Fatalf("status = %d", res.httpStatus)
	}
	if res.errMsg != "HTTP 503" {
		t.Fatalf("errMsg = %q", res.errMsg)
	}
}

func TestHTTPFetchHeaders(t *testing.T) {
	var gotUA, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	res := httpFetch(context.Background(), srv.URL, fetchOptions{allowPrivate: true, bearerToken: "tok123"})
	if res.errMsg != "" {
		t.Fatal(res.errMsg)
	}
	if gotUA != UserAgent {
		t.Fatalf("user-agent = %q", gotUA)
	}
	if gotAuth != "Bearer tok123" {
		t.Fatalf("authorization = %q", gotAuth)
	}
}

func TestHTTPFetchNoBearerWithoutToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	httpFetch(context.Background(), srv.URL, fetchOptions{allowPrivate: true})
	if gotAuth != "" {
		t.Fatalf("unexpected authorization header: %q", gotAuth)
	}
}

func TestHTTPFetchRefusesPrivateByDefault(t *testing.T) {
	res := httpFetch(context.Background(), "http://127.0.0.1:1/x", fetchOptions{})
	if res.errMsg != "private networks denied" {
		t.Fatalf("errMsg = %q", res.errMsg)
	}
}

func TestHTTPFetchRefusesBadURLs(t *testing.T) {
	for _, u := range []string{"", "ftp://e/x", "not a url"} {
		res := httpFetch(context.Background(), u, fetchOptions{allowPrivate: true})
		if res.errMsg == "" {
			t.Errorf("url %q accepted", u)
		}
	}
}

func TestHTTPFetchNetworkFaultClassified(t *testing.T) {
	// a closed port on loopback, explicitly allowed, fails at dial time.
	res := httpFetch(context.Background(), "http://127.0.0.1:1/x", fetchOptions{allowPrivate: true, timeout: 2 * time.Second})
	if res.errMsg == "" {
		t.Fatal("expected network error")
	}
	if !strings.Contains(res.errMsg, ":") {
		t.Fatalf("errMsg not class-prefixed: %q", res.errMsg)
	}
}

func TestIsPrivateHost(t *testing.T) {
	private := []string{"localhost", "127.0.0.1", "10.0.0.5", "172.16.1.1", "192.168.1.1", "169.254.0.1"}
	for _, h := range private {
		if !isPrivateHost(h) {
			t.Errorf("%s not recognized as private", h)
		}
	}
	public := []string{"example.com", "8.8.8.8", "172.32.0.1"}
	for _, h := range public {
		if isPrivateHost(h) {
			t.Errorf("%s wrongly flagged private", h)
		}
	}
}
