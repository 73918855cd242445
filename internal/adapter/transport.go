package adapter

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// MaxBodyBytes bounds how much of an upstream response body any adapter
// will read, regardless of Content-Length.
const MaxBodyBytes = 8 << 20 // 8MiB

// fetchResult is what a single HTTP round trip yields.
type fetchResult struct {
	body       []byte
	httpStatus int
	errMsg     string
}

var sharedTransport = &http.Transport{
	Proxy: http.ProxyFromEnvironment,
	DialContext: (&net.Dialer{
		Timeout:   3 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
	ForceAttemptHTTP2:     true,
	MaxIdleConns:          50,
	MaxIdleConnsPerHost:   10,
	IdleConnTimeout:       60 * time.Second,
	TLSHandshakeTimeout:   5 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
}

// fetchOptions carries the per-source knobs one HTTP round trip needs.
type fetchOptions struct {
	timeout      time.Duration
	allowPrivate bool
	bearerToken  string
}

// httpFetch performs one bounded GET against rawURL. It refuses
// non-http(s) schemes and, unless allowPrivate is set, loopback/private
// hosts, mirroring the SSRF guard every outbound fetch in this engine
// shares. Failures come back on the errMsg channel: "HTTP <n>" for a
// non-2xx status, "<class>: <msg>" for network faults.
func httpFetch(ctx context.Context, rawURL string, opts fetchOptions) fetchResult {
	timeout, allowPrivate := opts.timeout, opts.allowPrivate
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fetchResult{errMsg: "invalid url"}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fetchResult{errMsg: "non-http scheme denied"}
	}
	if !allowPrivate && isPrivateHost(u.Hostname()) {
		return fetchResult{errMsg: "private networks denied"}
	}

	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fetchResult{errMsg: "request build failed"}
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "application/json, application/xml, text/html, */*")
	if opts.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+opts.bearerToken)
	}

	client := &http.Client{Transport: sharedTransport}
	res, err := client.Do(req)
	if err != nil {
		return fetchResult{errMsg: classifyNetErr(err)}
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, MaxBodyBytes))
	if err != nil {
		return fetchResult{httpStatus: res.StatusCode, errMsg: "read: body read failed"}
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fetchResult{httpStatus: res.StatusCode, errMsg: "HTTP " + strconv.Itoa(res.StatusCode)}
	}
	return fetchResult{body: body, httpStatus: res.StatusCode}
}

// UserAgent is sent on every upstream GET.
const UserAgent = "deltafeed-engine/" + EngineVersion

// EngineVersion is stamped into the User-Agent header.
const EngineVersion = "1.0.0"

// classifyNetErr renders a transport failure as "<class>: <msg>".
func classifyNetErr(err error) string {
	var ne net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout: " + err.Error()
	case errors.As(err, &ne) && ne.Timeout():
		return "timeout: " + err.Error()
	default:
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) {
			return "dns: " + err.Error()
		}
		return "network: " + err.Error()
	}
}

func isPrivateHost(host string) bool {
	h := strings.ToLower(strings.TrimSpace(host))
	if h == "localhost" || h == "localhost.localdomain" {
		return true
	}
	ip := net.ParseIP(h)
	if ip == nil {
		return false
	}
	return isPrivateIP(ip)
}

func isPrivateIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}
	if ip4 := ip.To4(); ip4 != nil {
		switch {
		case ip4[0] == 10:
			return true
		case ip4[0] == 172 && ip4[1] >= 16 && ip4[1] <= 31:
			return true
		case ip4[0] == 192 && ip4[1] == 168:
			return true
		case ip4[0] == 127:
			return true
		case ip4[0] == 169 && ip4[1] == 254:
			return true
		default:
			return false
		}
	}
	if len(ip) == net.IPv6len && ip[0]&0xfe == 0xfc {
		return true
	}
	return false
}
