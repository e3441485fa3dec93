package netclient

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"

	"codeberg.org/tessel/kairo/internal/errors"
)

// Transport executes a single HTTP exchange. Implementations must
// honor the request timeout and the context's cancellation.
type Transport interface {
	RoundTrip(ctx context.Context, req *Request) (*Response, error)
}

// HTTPTransport is the production transport over net/http.
type HTTPTransport struct {
	client *http.Client
}

func NewHTTPTransport() *HTTPTransport {
	return &HTTPTransport{client: &http.Client{}}
}

func (t *HTTPTransport) RoundTrip(ctx context.Context, req *Request) (*Response, error) {
	errFactory := errors.New()

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrRequestFailed, err)
	}
	for k, v := range req.Header {
		httpReq.Header.Set(k, v)
	}

	start := time.Now()
	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidResponse, err)
	}

	header := make(Header, len(httpResp.Header))
	for k := range httpResp.Header {
		header[k] = httpResp.Header.Get(k)
	}

	return &Response{
		Body:     respBody,
		Status:   httpResp.StatusCode,
		Header:   header,
		Duration: time.Since(start),
	}, nil
}

func classifyTransportError(ctx context.Context, err error) error {
	errFactory := errors.New()

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return errFactory.Wrap(errors.ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		if ctx.Err() == context.Canceled {
			return errFactory.Wrap(errors.ErrCancelled, err)
		}
		return errFactory.Wrap(errors.ErrRequestFailed, err)
	case isConnectionError(err):
		return errFactory.Wrap(errors.ErrNoConnection, err)
	default:
		return errFactory.Wrap(errors.ErrRequestFailed, err)
	}
}

// isConnectionError reports whether err means the peer was never
// reached: a refused or unreachable dial, or a failed DNS lookup.
func isConnectionError(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.EHOSTUNREACH) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}
