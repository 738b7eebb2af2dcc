package fetch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"
)

// MaxBodyBytes is the response body cap, enforced both via
// a Content-Length preflight and a streamed byte counter (a server that
// lies about Content-Length doesn't get a free pass).
const MaxBodyBytes = 10 << 20

// ErrBodyTooLarge is returned when a fetched response exceeds MaxBodyBytes.
var ErrBodyTooLarge = errors.New("fetch: response body exceeds the 10MiB cap")

// Result is the outcome of one host-mediated network fetch.
type Result struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	HostVerdict Verdict
}

// Fetcher performs NetworkFetch calls on behalf of sandboxed tool code: the
// sandbox has no ambient network access, so a tool that declares
// NetworkAllowed routes its fetch through here instead of reaching the
// network itself.
type Fetcher struct {
	guard  *HostGuard
	client *http.Client
}

// NewFetcher builds a Fetcher with a bounded-timeout HTTP client.
func NewFetcher(guard *HostGuard) *Fetcher {
	return &Fetcher{
		guard:  guard,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// Fetch validates rawURL's scheme and host, then issues a GET request,
// capping the response body at MaxBodyBytes. The returned HostVerdict is
// populated even on a later error, so a caller can still log/emit the
// warning for a reserved-address host that failed for an unrelated reason.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (Result, error) {
	u, err := ClassifyScheme(rawURL)
	if err != nil {
		return Result{}, err
	}

	verdict, err := f.guard.ClassifyHost(ctx, u.Hostname())
	if err != nil {
		return Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Result{HostVerdict: verdict}, err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return Result{HostVerdict: verdict}, err
	}
	defer resp.Body.Close()

	if resp.ContentLength > MaxBodyBytes {
		return Result{HostVerdict: verdict, StatusCode: resp.StatusCode}, ErrBodyTooLarge
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodyBytes+1))
	if err != nil {
		return Result{HostVerdict: verdict, StatusCode: resp.StatusCode}, err
	}
	if len(body) > MaxBodyBytes {
		return Result{HostVerdict: verdict, StatusCode: resp.StatusCode}, ErrBodyTooLarge
	}

	return Result{
		StatusCode:  resp.StatusCode,
		Header:      resp.Header,
		Body:        body,
		HostVerdict: verdict,
	}, nil
}
