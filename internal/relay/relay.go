// Package relay fetches third-party images server side and re-encodes them as
// data URLs, so browser clients never talk to the image origin directly.
package relay

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/example/art-gallery/api-go/internal/metrics"
)

const (
	DefaultTimeout  = 60 * time.Second
	DefaultMaxBytes = 20 << 20
	fallbackType    = "image/jpeg"
)

var (
	ErrInvalidURL = errors.New("invalid image url")
	ErrTimeout    = errors.New("image request timed out")
	ErrTooLarge   = errors.New("image exceeds size limit")
	// ErrForbiddenHost is returned when the target, or a redirect hop,
	// resolves to a loopback, private or otherwise non-public address.
	ErrForbiddenHost = errors.New("image host is not publicly routable")
)

// Response is the JSON body of GET /proxy-image.
type Response struct {
	Success     bool   `json:"success"`
	DataURL     string `json:"data_url,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Error       string `json:"error,omitempty"`
}

// browserHeaders makes museum CDNs that reject bare clients serve the image.
var browserHeaders = map[string]string{
	"User-Agent":      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36",
	"Accept":          "image/avif,image/webp,image/apng,image/svg+xml,image/*,*/*;q=0.8",
	"Accept-Language": "en-US,en;q=0.9",
	"Referer":         "https://www.metmuseum.org/",
}

type Fetcher struct {
	Client   *http.Client
	MaxBytes int64
	Metrics  *metrics.Metrics
	// AllowPrivate lets the relay dial loopback and private networks.
	AllowPrivate bool
}

// NewFetcher returns a Fetcher whose client refuses non-public destinations
// at dial time, after DNS resolution and on every redirect hop.
func NewFetcher(timeout time.Duration, m *metrics.Metrics) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	f := &Fetcher{
		MaxBytes: DefaultMaxBytes,
		Metrics:  m,
	}
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
		Control:   f.checkDestination,
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	// A proxy would be dialled instead of the target and bypass the check.
	transport.Proxy = nil
	transport.DialContext = dialer.DialContext
	f.Client = &http.Client{Timeout: timeout, Transport: transport}
	return f
}

func (f *Fetcher) checkDestination(_, address string, _ syscall.RawConn) error {
	if f.AllowPrivate {
		return nil
	}
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrForbiddenHost, address)
	}
	addr, err := netip.ParseAddr(host)
	if err != nil || !PublicAddr(addr) {
		return fmt.Errorf("%w: %s", ErrForbiddenHost, host)
	}
	return nil
}

var reservedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("192.0.0.0/24"),
	netip.MustParsePrefix("198.18.0.0/15"),
	netip.MustParsePrefix("240.0.0.0/4"),
	netip.MustParsePrefix("64:ff9b::/96"),
}

// PublicAddr reports whether addr is a globally routable unicast address.
func PublicAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	if !addr.IsValid() || addr.IsUnspecified() || addr.IsLoopback() || addr.IsPrivate() ||
		addr.IsLinkLocalUnicast() || addr.IsMulticast() {
		return false
	}
	for _, p := range reservedPrefixes {
		if p.Contains(addr) {
			return false
		}
	}
	return true
}

// Fetch downloads rawURL and returns it as a base64 data URL.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (Response, error) {
	resp, err := f.fetch(ctx, rawURL)
	f.Metrics.RelayFetch(err == nil)
	return resp, err
}

func (f *Fetcher) fetch(ctx context.Context, rawURL string) (Response, error) {
	target, err := parseTarget(rawURL)
	if err != nil {
		return Response{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	for k, v := range browserHeaders {
		req.Header.Set(k, v)
	}

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return Response{}, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return Response{}, fmt.Errorf("fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Response{}, fmt.Errorf("fetch image: upstream status %d", resp.StatusCode)
	}

	limit := f.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxBytes
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		if isTimeout(err) {
			return Response{}, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return Response{}, fmt.Errorf("read image: %w", err)
	}
	if int64(len(body)) > limit {
		return Response{}, ErrTooLarge
	}

	contentType := ContentType(resp.Header.Get("Content-Type"), target.Path)
	return Response{
		Success:     true,
		DataURL:     EncodeDataURL(contentType, body),
		ContentType: contentType,
	}, nil
}

func parseTarget(rawURL string) (*url.URL, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidURL)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	return u, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// ContentType picks the declared type when it is an image, otherwise guesses
// from the URL path extension and falls back to JPEG.
func ContentType(header, path string) string {
	mediaType := strings.TrimSpace(strings.ToLower(strings.SplitN(header, ";", 2)[0]))
	if strings.HasPrefix(mediaType, "image/") {
		return mediaType
	}
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".jpg"), strings.HasSuffix(lower, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(lower, ".png"):
		return "image/png"
	case strings.HasSuffix(lower, ".gif"):
		return "image/gif"
	case strings.HasSuffix(lower, ".webp"):
		return "image/webp"
	}
	return fallbackType
}

func EncodeDataURL(contentType string, data []byte) string {
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// DecodeDataURL parses a base64 data URL into its media type and payload.
func DecodeDataURL(raw string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(raw, "data:")
	if !ok {
		return "", nil, errors.New("data url: missing data: prefix")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, errors.New("data url: missing payload separator")
	}
	mediaType, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		return "", nil, errors.New("data url: payload is not base64")
	}
	if mediaType == "" {
		return "", nil, errors.New("data url: missing media type")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("data url: %w", err)
	}
	if len(data) == 0 {
		return "", nil, errors.New("data url: empty payload")
	}
	return strings.ToLower(mediaType), data, nil
}
