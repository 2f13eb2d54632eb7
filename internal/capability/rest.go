package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/antoniostano/workmate/internal/policy"
	"github.com/antoniostano/workmate/internal/provider"
	"github.com/antoniostano/workmate/internal/reliability"
)

// StatusError is a non-2xx provider answer.
type StatusError struct {
	Provider provider.ID
	Status   int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s api status %d: %s", e.Provider, e.Status, e.Body)
}

// restClient issues authenticated JSON calls against one provider API.
type restClient struct {
	provider provider.ID
	base     string
	http     *http.Client
	retry    reliability.Policy
}

func newRESTClient(id provider.ID, base string, client *http.Client) *restClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &restClient{
		provider: id,
		base:     strings.TrimRight(base, "/"),
		http:     client,
		retry:    reliability.DefaultPolicy,
	}
}

type call struct {
	method      string
	path        string
	query       url.Values
	body        []byte
	contentType string
	// creates marks a non-POST call that still makes a new resource each
	// time it lands.
	creates bool
}

// replayable reports whether c may be sent again after the provider might
// already have acted on it.
func (c call) replayable() bool {
	return c.method != http.MethodPost && !c.creates
}

func jsonCall(method, path string, payload any) (call, error) {
	c := call{method: method, path: path}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return call{}, fmt.Errorf("marshal request: %w", err)
		}
		c.body = raw
		c.contentType = "application/json"
	}
	return c, nil
}

// do runs c with retries on 429/5xx and transport failures. Calls that are
// not replayable are retried only when the provider refused them outright
// (429, or 503 with Retry-After). out may be nil, *[]byte for the raw body,
// or a pointer to decode JSON into.
func (r *restClient) do(ctx context.Context, token string, c call, out any) error {
	return r.retry.Do(ctx, func(ctx context.Context) error {
		return r.once(ctx, token, c, out)
	})
}

func (r *restClient) once(ctx context.Context, token string, c call, out any) error {
	u := r.base + c.path
	if len(c.query) > 0 {
		u += "?" + c.query.Encode()
	}
	var body io.Reader
	if c.body != nil {
		body = bytes.NewReader(c.body)
	}
	req, err := http.NewRequestWithContext(ctx, c.method, u, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if c.contentType != "" {
		req.Header.Set("Content-Type", c.contentType)
	}

	res, err := r.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err = fmt.Errorf("%s request: %w", r.provider, err)
		if !c.replayable() {
			return err
		}
		return &reliability.RetryableError{Err: err}
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		excerpt, _ := policy.RedactSecrets(truncate(string(raw), 512))
		statusErr := &StatusError{Provider: r.provider, Status: res.StatusCode, Body: excerpt}
		switch {
		case res.StatusCode == http.StatusUnauthorized:
			return fmt.Errorf("%w: %w", ErrUnauthorized, statusErr)
		case res.StatusCode == http.StatusNotFound:
			return fmt.Errorf("%w: %w", ErrNotFound, statusErr)
		case reliability.IsRetryableHTTPStatus(res.StatusCode) && (c.replayable() || refused(res)):
			return &reliability.RetryableError{Err: statusErr, Wait: reliability.RetryAfter(res.Header, r.retry.Cap)}
		default:
			return statusErr
		}
	}

	switch dst := out.(type) {
	case nil:
		return nil
	case *[]byte:
		*dst = raw
		return nil
	default:
		if len(bytes.TrimSpace(raw)) == 0 {
			return nil
		}
		if err := json.Unmarshal(raw, dst); err != nil {
			return fmt.Errorf("decode %s response: %w", r.provider, err)
		}
		return nil
	}
}

// refused reports a response that guarantees the request was not acted on.
func refused(res *http.Response) bool {
	switch res.StatusCode {
	case http.StatusTooManyRequests:
		return true
	case http.StatusServiceUnavailable:
		return res.Header.Get("Retry-After") != ""
	default:
		return false
	}
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

// IsStatus reports whether err carries a provider StatusError with code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == code
}
