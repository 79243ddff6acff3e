package soap

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/pithecene-io/propwatch/codec"
	"github.com/pithecene-io/propwatch/collector"
	"github.com/pithecene-io/propwatch/fault"
	"github.com/pithecene-io/propwatch/iox"
	"github.com/pithecene-io/propwatch/log"
	"github.com/pithecene-io/propwatch/schema"
	"github.com/pithecene-io/propwatch/types"
	"github.com/pithecene-io/propwatch/xmltree"
)

// DefaultCollector is the managed object id of the property collector.
const DefaultCollector = "propertyCollector"

// DefaultTimeout bounds every call except WaitForUpdates.
const DefaultTimeout = 60 * time.Second

// ClientConfig configures a Client.
type ClientConfig struct {
	// URL is the SOAP endpoint, e.g. https://vc.example.com/sdk (required).
	URL string
	// Collector is the property collector id (default "propertyCollector").
	Collector string
	// Timeout bounds non-blocking calls (default 60s). WaitForUpdates is
	// bounded by its context only.
	Timeout time.Duration
	// Headers are added to every request.
	Headers map[string]string
	// Codec encodes requests and decodes responses. If nil, the builtin
	// namespace is used.
	Codec *codec.Codec
	// HTTPClient overrides the transport. A cookie jar is added if missing.
	HTTPClient *http.Client
	// Logger receives call logs. If nil, logs are discarded.
	Logger *log.Logger
}

// Client is a remote property collector session. The session is bound to
// the session cookie the server sets on the first call.
type Client struct {
	config ClientConfig
	codec  *codec.Codec
	http   *http.Client
	this   types.Reference
	logger *log.Logger

	mu      sync.Mutex
	filters []*remoteFilter
}

var _ collector.PropertyCollector = (*Client)(nil)

// NewClient creates a client. Returns an error if the URL is missing or invalid.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("soap client requires a URL")
	}
	if _, err := url.ParseRequestURI(cfg.URL); err != nil {
		return nil, fmt.Errorf("soap client: invalid URL: %w", err)
	}
	if cfg.Collector == "" {
		cfg.Collector = DefaultCollector
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	hc := &http.Client{}
	if cfg.HTTPClient != nil {
		copied := *cfg.HTTPClient
		hc = &copied
	}
	if hc.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("soap client: cookie jar: %w", err)
		}
		hc.Jar = jar
	}

	c := &Client{
		config: cfg,
		codec:  cfg.Codec,
		http:   hc,
		this:   types.NewReference(TypePropertyCollector, cfg.Collector),
		logger: cfg.Logger,
	}
	if c.codec == nil {
		c.codec = codec.New(nil)
	}
	c.logger = c.logger.Named("soap.client")
	return c, nil
}

// StatusError is returned for non-2xx responses that carry no SOAP fault.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// Temporary reports gateway and availability errors as retryable.
func (e *StatusError) Temporary() bool {
	switch e.Code {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// call posts one operation and returns its response element.
// Resolver returns the schema the client decodes with.
func (c *Client) Resolver() *schema.Resolver {
	return c.codec.Resolver()
}

func (c *Client) call(ctx context.Context, op string, blocking bool, params ...param) (*xmltree.Element, error) {
	body, err := buildEnvelope(c.codec, op, params...)
	if err != nil {
		return nil, err
	}

	if !blocking {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", op, err)
	}
	req.Header.Set("Content-Type", ContentType)
	req.Header.Set("SOAPAction", SOAPAction)
	for k, v := range c.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fault.Transport(op, err)
	}
	defer iox.DrainClose(resp.Body)

	el, err := parseBody(resp.Body)
	if err != nil {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fault.Transport(op, &StatusError{Code: resp.StatusCode})
		}
		return nil, err
	}
	if el.Tag() == "Fault" {
		return nil, decodeFault(c.codec, op, el)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fault.Transport(op, &StatusError{Code: resp.StatusCode})
	}
	if el.Tag() != op+"Response" {
		return nil, fault.New(fault.ErrMalformedDocument, op, "unexpected response <"+el.Tag()+">")
	}
	return el, nil
}

// CreateFilter registers a filter on the remote collector.
func (c *Client) CreateFilter(ctx context.Context, spec types.FilterSpec, partial bool) (collector.Filter, error) {
	if err := spec.Validate(); err != nil {
		return nil, fault.Wrap(fault.ErrInvalidPropertyPath, "createFilter", err)
	}
	el, err := c.call(ctx, "CreateFilter", false,
		param{"_this", schema.TypeReference, c.this},
		param{"spec", schema.TypePropertyFilterSpec, specObject(spec)},
		param{"partialUpdates", schema.TypeBoolean, partial},
	)
	if err != nil {
		return nil, err
	}
	v, err := c.codec.Decode(schema.TypeReference, el)
	if err != nil {
		return nil, err
	}
	ref, ok := v.(types.Reference)
	if !ok {
		return nil, fault.New(fault.ErrMalformedDocument, "createFilter", "missing filter reference")
	}

	f := &remoteFilter{client: c, ref: ref, spec: spec, partial: partial, state: collector.FilterFiled}
	c.mu.Lock()
	c.filters = append(c.filters, f)
	c.mu.Unlock()

	c.logger.Debug("remote filter created", map[string]any{"filter": ref.Value, "partial": partial})
	return f, nil
}

// CheckForUpdates polls without blocking.
func (c *Client) CheckForUpdates(ctx context.Context, version string) (*types.UpdateBatch, error) {
	return c.updates(ctx, "CheckForUpdates", false, version)
}

// WaitForUpdates blocks on the server until a change is available. It is
// bounded by ctx only.
func (c *Client) WaitForUpdates(ctx context.Context, version string) (*types.UpdateBatch, error) {
	return c.updates(ctx, "WaitForUpdates", true, version)
}

func (c *Client) updates(ctx context.Context, op string, blocking bool, version string) (*types.UpdateBatch, error) {
	el, err := c.call(ctx, op, blocking,
		param{"_this", schema.TypeReference, c.this},
		param{"version", schema.TypeString, version},
	)
	if err != nil {
		return nil, err
	}
	v, err := c.codec.Decode(schema.TypeUpdateSet, el)
	if err != nil {
		return nil, err
	}
	return batchFrom(v)
}

// CancelWaitForUpdates releases a WaitForUpdates blocked on the same session.
func (c *Client) CancelWaitForUpdates(ctx context.Context) error {
	_, err := c.call(ctx, "CancelWaitForUpdates", false,
		param{"_this", schema.TypeReference, c.this},
	)
	return err
}

// RetrieveProperties reads a snapshot of the selected properties.
func (c *Client) RetrieveProperties(ctx context.Context, specs []types.FilterSpec) ([]types.ObjectContent, error) {
	set := types.Array{ItemType: schema.TypePropertyFilterSpec}
	for _, s := range specs {
		set.Items = append(set.Items, specObject(s))
	}
	el, err := c.call(ctx, "RetrieveProperties", false,
		param{"_this", schema.TypeReference, c.this},
		param{"specSet", schema.ArrayName(schema.TypePropertyFilterSpec), set},
	)
	if err != nil {
		return nil, err
	}
	v, err := c.codec.Decode(schema.ArrayName(schema.TypeObjectContent), el)
	if err != nil {
		return nil, err
	}
	return contentsFrom(v)
}

// Filters returns the live filters created through this client.
func (c *Client) Filters(_ context.Context) ([]collector.Filter, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]collector.Filter, 0, len(c.filters))
	for _, f := range c.filters {
		out = append(out, f)
	}
	return out, nil
}

func (c *Client) forget(f *remoteFilter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filters = slices.DeleteFunc(c.filters, func(x *remoteFilter) bool { return x == f })
}

type remoteFilter struct {
	client  *Client
	ref     types.Reference
	spec    types.FilterSpec
	partial bool

	mu    sync.Mutex
	state collector.FilterState
}

func (f *remoteFilter) Handle() string         { return f.ref.Value }
func (f *remoteFilter) Spec() types.FilterSpec { return f.spec }
func (f *remoteFilter) PartialUpdates() bool   { return f.partial }

func (f *remoteFilter) State() collector.FilterState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Destroy destroys the remote filter. Destroying a destroyed filter succeeds
// without a call.
func (f *remoteFilter) Destroy(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == collector.FilterDestroyed {
		return nil
	}
	_, err := f.client.call(ctx, "DestroyPropertyFilter", false,
		param{"_this", schema.TypeReference, f.ref},
	)
	if err != nil && !errors.Is(err, fault.ErrNotFound) {
		return err
	}
	f.state = collector.FilterDestroyed
	f.client.forget(f)
	f.client.logger.Debug("remote filter destroyed", map[string]any{"filter": f.ref.Value})
	return nil
}
