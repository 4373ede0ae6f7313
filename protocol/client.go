package protocol

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/xerrors"

	"github.com/brscrawler/brs-crawler/metrics"
)

var log = logging.Logger("crawler/protocol")

// MaxResponseSize bounds how much of a reply body is read from a peer.
const MaxResponseSize = 4 << 20

// Client speaks the BRS peer protocol: a JSON object POSTed to the root of the peer's HTTP server.
type Client struct {
	http        *http.Client
	userAgent   string
	defaultPort int
}

type ClientOption func(*Client)

// WithTransport replaces the HTTP transport used to reach peers.
func WithTransport(rt http.RoundTripper) ClientOption {
	return func(c *Client) {
		c.http.Transport = rt
	}
}

func NewClient(userAgent string, defaultPort int, opts ...ClientOption) *Client {
	if defaultPort == 0 {
		defaultPort = DefaultPort
	}
	c := &Client{
		userAgent:   userAgent,
		defaultPort: defaultPort,
		http: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					KeepAlive: -1,
				}).DialContext,
				DisableKeepAlives: true,
			},
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Call sends a request of the given kind to the peer at address and decodes the validated reply into out. Any
// failure is returned as an *Error. The call is bounded by timeout.
func (c *Client) Call(ctx context.Context, address string, kind RequestKind, timeout time.Duration, out Response) error {
	ctx, span := otel.Tracer("").Start(ctx, "Client.Call")
	if span.IsRecording() {
		span.SetAttributes(attribute.String("address", address), attribute.String("request", string(kind)))
	}
	defer span.End()

	stop := metrics.Timer(metrics.WithTagValue(ctx, metrics.Request, string(kind)), metrics.ProtocolDuration)
	defer stop()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	fail := func(k Kind, status int, err error) error {
		return &Error{Kind: k, Request: kind, StatusCode: status, Err: err}
	}

	payload, err := json.Marshal(request{Protocol: ProtocolVersion, RequestType: kind})
	if err != nil {
		return fail(KindUnknown, 0, err)
	}

	url := "http://" + NormalizeAddress(address, c.defaultPort)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fail(KindAddressInvalid, 0, err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fail(transportKind(err), 0, err)
	}
	defer resp.Body.Close() // nolint: errcheck

	switch {
	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		return fail(KindRedirect, resp.StatusCode, xerrors.Errorf("redirected to %q", resp.Header.Get("Location")))
	case resp.StatusCode >= 400:
		return fail(KindHTTPStatus, resp.StatusCode, xerrors.Errorf("unexpected status %q", resp.Status))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return fail(transportKind(err), 0, xerrors.Errorf("read body: %w", err))
	}
	if len(body) > MaxResponseSize {
		return fail(KindSchemaInvalid, 0, xerrors.Errorf("body exceeds %d bytes", MaxResponseSize))
	}

	body = bytes.TrimSpace(body)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return fail(KindEmptyBody, 0, nil)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fail(KindSchemaInvalid, 0, xerrors.Errorf("decode: %w", err))
	}
	if err := out.Validate(); err != nil {
		return fail(KindSchemaInvalid, 0, err)
	}

	log.Debugw("call complete", "address", address, "request", kind)
	return nil
}

// GetInfo asks the peer for its software and returns the reply along with the round trip time.
func (c *Client) GetInfo(ctx context.Context, address string, timeout time.Duration) (*InfoResponse, time.Duration, error) {
	start := time.Now()
	var resp InfoResponse
	if err := c.Call(ctx, address, GetInfo, timeout, &resp); err != nil {
		return nil, 0, err
	}
	return &resp, time.Since(start), nil
}

// GetPeers asks the peer for the addresses of the peers it knows.
func (c *Client) GetPeers(ctx context.Context, address string, timeout time.Duration) (*PeersResponse, error) {
	var resp PeersResponse
	if err := c.Call(ctx, address, GetPeers, timeout, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetCumulativeDifficulty asks the peer for the height and difficulty of its chain head.
func (c *Client) GetCumulativeDifficulty(ctx context.Context, address string, timeout time.Duration) (*CumulativeDifficultyResponse, error) {
	var resp CumulativeDifficultyResponse
	if err := c.Call(ctx, address, GetCumulativeDifficulty, timeout, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
