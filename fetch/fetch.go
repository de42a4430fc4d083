// Package fetch pulls JSON report endpoints over plain HTTP using the
// cookies harvested from a live browser session. This mirrors how the
// report services are actually consumed: the browser only performs the
// interactive sign-in, the data itself is served as JSON.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	tls "github.com/refraction-networking/utls"
	"golang.org/x/time/rate"

	"github.com/use-agent/wardreport/config"
	"github.com/use-agent/wardreport/models"
)

const chromeUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// maxBodyBytes caps fetched response bodies.
const maxBodyBytes = 10 * 1024 * 1024

// chromeH1Spec is a Chrome-like TLS ClientHello with ALPN forced to
// http/1.1 only. Computed once at init time and reused for every
// connection.
var chromeH1Spec tls.ClientHelloSpec

func init() {
	spec, err := tls.UTLSIdToSpec(tls.HelloChrome_Auto)
	if err != nil {
		return
	}
	// Replace h2 with http/1.1 only in the ALPN extension so the server
	// never negotiates HTTP/2, which Go's http.Transport cannot handle
	// over a utls connection.
	for i, ext := range spec.Extensions {
		if alpn, ok := ext.(*tls.ALPNExtension); ok {
			alpn.AlpnProtocols = []string{"http/1.1"}
			spec.Extensions[i] = alpn
			break
		}
	}
	chromeH1Spec = spec
}

// Client fetches JSON endpoints with a Chrome TLS fingerprint and a
// polite per-host rate limit. Safe for concurrent use.
type Client struct {
	cfg    config.FetchConfig
	client *http.Client

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewClient creates a fetch client. proxy, if non-empty, routes all
// requests through the given HTTP proxy.
func NewClient(cfg config.FetchConfig, proxy string) *Client {
	transport := &http.Transport{
		DialTLSContext: dialTLSChrome,
	}
	if proxy != "" {
		if proxyURL, err := url.Parse(proxy); err == nil &&
			(proxyURL.Scheme == "http" || proxyURL.Scheme == "https") {
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}

	return &Client{
		cfg:      cfg,
		client:   &http.Client{Transport: transport},
		limiters: make(map[string]*rate.Limiter),
	}
}

// FetchJSON retrieves the target URL with the given session cookies and
// returns the raw body. Non-2xx responses and transport failures are
// reported as FETCH_FAILED, which step retry budgets may absorb.
func (c *Client) FetchJSON(ctx context.Context, targetURL string, cookies []*http.Cookie) ([]byte, error) {
	u, err := url.Parse(targetURL)
	if err != nil {
		return nil, models.NewPipelineError(models.ErrCodeInvalidInput,
			fmt.Sprintf("malformed fetch URL %q", targetURL), err)
	}

	if err := c.limiter(u.Hostname()).Wait(ctx); err != nil {
		return nil, models.NewPipelineError(models.ErrCodeRunCancelled,
			"rate limit wait interrupted", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, models.NewPipelineError(models.ErrCodeFetchFailed,
			"cannot build fetch request", err)
	}
	req.Header.Set("User-Agent", chromeUA)
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	for _, cookie := range cookies {
		req.AddCookie(cookie)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, models.NewPipelineError(models.ErrCodeFetchFailed,
			fmt.Sprintf("fetch of %s failed", targetURL), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, models.NewPipelineError(models.ErrCodeFetchFailed,
			fmt.Sprintf("fetch of %s returned HTTP %d", targetURL, resp.StatusCode), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, models.NewPipelineError(models.ErrCodeFetchFailed,
			"reading fetch body failed", err)
	}
	return body, nil
}

func (c *Client) limiter(host string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	lim, ok := c.limiters[host]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(c.cfg.RequestsPerSecond), c.cfg.Burst)
		c.limiters[host] = lim
	}
	return lim
}

// dialTLSChrome establishes a TLS connection using a Chrome fingerprint
// via utls.
func dialTLSChrome(ctx context.Context, network, addr string) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: 10 * time.Second}
	rawConn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}

	host, _, _ := net.SplitHostPort(addr)
	tlsConn := tls.UClient(rawConn, &tls.Config{ServerName: host}, tls.HelloCustom)
	if err := tlsConn.ApplyPreset(&chromeH1Spec); err != nil {
		rawConn.Close()
		return nil, err
	}
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		rawConn.Close()
		return nil, err
	}
	return tlsConn, nil
}
