package tokenapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	goPortal "github.com/MrEthical07/goPortal"
	"github.com/hashicorp/go-retryablehttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	// RequestIDHeader carries goPortal.RequestIDFromContext to the service.
	RequestIDHeader = "X-Request-ID"

	tracerName      = "github.com/MrEthical07/goPortal/tokenapi"
	maxResponseBody = 1 << 20
)

// ErrBaseURL is returned by New when Options.BaseURL is not an absolute URL.
var ErrBaseURL = errors.New("tokenapi: base url must be absolute")

// Options configures a Client. Zero values select the defaults.
type Options struct {
	BaseURL      string
	Timeout      time.Duration
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration

	// HTTPClient replaces the underlying transport client. Its Timeout is
	// overwritten by Timeout when Timeout is set.
	HTTPClient *http.Client

	// Logger receives retry diagnostics. Nil keeps the client silent.
	Logger retryablehttp.Logger

	TracerProvider trace.TracerProvider
}

// Client talks to the account service. It is safe for concurrent use.
type Client struct {
	base   *url.URL
	http   *retryablehttp.Client
	tracer trace.Tracer
}

// New returns a Client for opts.BaseURL.
func New(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/") + "/")
	if err != nil || !base.IsAbs() || base.Host == "" {
		return nil, ErrBaseURL
	}

	rc := retryablehttp.NewClient()
	rc.Logger = nil
	if opts.Logger != nil {
		rc.Logger = opts.Logger
	}
	if opts.HTTPClient != nil {
		rc.HTTPClient = opts.HTTPClient
	}
	if opts.Timeout > 0 {
		rc.HTTPClient.Timeout = opts.Timeout
	}
	if opts.RetryMax > 0 {
		rc.RetryMax = opts.RetryMax
	}
	if opts.RetryWaitMin > 0 {
		rc.RetryWaitMin = opts.RetryWaitMin
	}
	if opts.RetryWaitMax > 0 {
		rc.RetryWaitMax = opts.RetryWaitMax
	}
	rc.CheckRetry = retryPolicy
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	tp := opts.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	return &Client{
		base:   base,
		http:   rc,
		tracer: tp.Tracer(tracerName),
	}, nil
}

// retryPolicy retries connection failures for every method but 5xx and 429
// answers only for GET, so a verification code is never submitted twice.
func retryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if resp != nil && resp.Request != nil && resp.Request.Method != http.MethodGet {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

func organizationPath(org string, parts ...string) string {
	segments := make([]string, 0, len(parts)+4)
	segments = append(segments, "api", "v1", "radius", "organization", url.PathEscape(org))
	for _, p := range parts {
		segments = append(segments, url.PathEscape(p))
	}
	return strings.Join(segments, "/") + "/"
}

// call performs one JSON request inside a client span. in is encoded as the
// request body when non-nil; out receives the decoded 2xx body when non-nil.
func (c *Client) call(ctx context.Context, op, method, path, token string, in, out any) error {
	ctx, span := c.tracer.Start(ctx, "tokenapi."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("portal.operation", op),
			attribute.String("http.request.method", method),
		),
	)
	defer span.End()

	status, err := c.roundTrip(ctx, op, method, path, token, in, out)
	if status > 0 {
		span.SetAttributes(attribute.Int("http.response.status_code", status))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

func (c *Client) roundTrip(ctx context.Context, op, method, path, token string, in, out any) (int, error) {
	var body any
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("tokenapi: encode %s request: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	target := c.base.ResolveReference(&url.URL{Path: path})
	req, err := retryablehttp.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return 0, fmt.Errorf("tokenapi: build %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if id := goPortal.RequestIDFromContext(ctx); id != "" {
		req.Header.Set(RequestIDHeader, id)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.http.Do(req)
	if resp == nil {
		if err == nil {
			err = errors.New("empty response")
		}
		return 0, goPortal.NewNetworkError(err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return resp.StatusCode, goPortal.NewNetworkError(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, goPortal.NewServiceError(resp.StatusCode, statusText(resp), payload)
	}

	if out != nil && len(bytes.TrimSpace(payload)) > 0 {
		if err := json.Unmarshal(payload, out); err != nil {
			return resp.StatusCode, goPortal.NewNetworkError(fmt.Errorf("decode %s response: %w", op, err))
		}
	}
	return resp.StatusCode, nil
}

// statusText strips the numeric code from resp.Status ("404 Not Found").
func statusText(resp *http.Response) string {
	text := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if text == "" {
		text = http.StatusText(resp.StatusCode)
	}
	return text
}
