// Package healthstore writes and searches FHIR resources in a remote clinical
// data store over HTTPS. Every request carries an AWS Signature Version 4
// computed from credentials retrieved at request time.
package healthstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/rs/zerolog"

	"github.com/ehr/intake/internal/platform/faults"
)

const fhirJSON = "application/fhir+json"

// Bodies of error responses are truncated to this many bytes.
const maxErrorBody = 4096

var (
	// ErrUnsupportedSearch is returned for requests the store proxy
	// refuses to forward.
	ErrUnsupportedSearch = errors.New("unsupported search")
	// ErrNotFound is returned when the store has no such resource.
	ErrNotFound = errors.New("resource not found")
)

// searchParams lists the query parameters forwarded per resource type.
var searchParams = map[string][]string{
	"Patient": {"identifier", "name", "family", "given", "_count", "_total"},
}

// searchDefaults are applied when the caller does not supply the parameter.
var searchDefaults = url.Values{
	"_count": {"20"},
	"_total": {"accurate"},
}

// Resource is anything the store can persist.
type Resource interface {
	GetResourceType() string
	GetID() string
}

// Created describes a resource accepted by the store.
type Created struct {
	ID         string
	VersionID  string
	Location   string
	StatusCode int
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient replaces the transport built from the config timeouts.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithLogger sets the client's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(cl *Client) { cl.logger = logger }
}

// Client is a process-scoped store client; it is safe for concurrent use.
type Client struct {
	cfg    Config
	base   string
	http   *http.Client
	creds  aws.CredentialsProvider
	signer *v4.Signer
	now    func() time.Time
	logger zerolog.Logger
}

// New creates a client with an explicit credentials provider.
func New(cfg Config, creds aws.CredentialsProvider, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if creds == nil {
		return nil, fmt.Errorf("%w: no credentials provider for the clinical data store", faults.ErrConfiguration)
	}

	c := &Client{
		cfg:    cfg,
		base:   cfg.BaseURL(),
		http:   newHTTPClient(cfg),
		creds:  creds,
		signer: v4.NewSigner(),
		now:    time.Now,
		logger: zerolog.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// NewFromEnvironment creates a client whose credentials come from the
// default AWS provider chain (environment, shared config, instance role).
func NewFromEnvironment(ctx context.Context, cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("%w: load AWS configuration: %w", faults.ErrConfiguration, err)
	}
	return New(cfg, awsCfg.Credentials, opts...)
}

func newHTTPClient(cfg Config) *http.Client {
	dialer := &net.Dialer{
		Timeout:   cfg.connectTimeout(),
		KeepAlive: 30 * time.Second,
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = dialer.DialContext
	transport.TLSHandshakeTimeout = cfg.connectTimeout()
	transport.ResponseHeaderTimeout = cfg.readTimeout()
	return &http.Client{Transport: transport}
}

// Validate re-checks the client configuration without I/O.
func (c *Client) Validate() error {
	return c.cfg.Validate()
}

// BaseURL is the FHIR base the client talks to.
func (c *Client) BaseURL() string {
	return c.base
}

// Create persists resource with POST {base}/{resourceType}.
func (c *Client) Create(ctx context.Context, resource Resource) (*Created, error) {
	rt := resource.GetResourceType()
	if rt == "" {
		return nil, fmt.Errorf("%w: resource has no resourceType", faults.ErrConfiguration)
	}

	body, err := json.Marshal(resource)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", rt, err)
	}

	resp, respBody, err := c.do(ctx, http.MethodPost, c.base+"/"+rt, body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: create %s: status %d: %s", faults.ErrRemoteService, rt, resp.StatusCode, truncate(respBody))
	}

	out := &Created{
		ID:         resource.GetID(),
		Location:   resp.Header.Get("Location"),
		StatusCode: resp.StatusCode,
	}
	var echoed struct {
		ID   string `json:"id"`
		Meta *struct {
			VersionID string `json:"versionId"`
		} `json:"meta"`
	}
	if len(respBody) > 0 && json.Unmarshal(respBody, &echoed) == nil {
		if echoed.ID != "" {
			out.ID = echoed.ID
		}
		if echoed.Meta != nil {
			out.VersionID = echoed.Meta.VersionID
		}
	}

	c.logger.Info().
		Str("resource_type", rt).
		Str("resource_id", out.ID).
		Int("status", resp.StatusCode).
		Msg("resource created in clinical data store")
	return out, nil
}

// Search runs GET {base}/{resourceType}?... forwarding only allow-listed
// parameters, and returns the raw search Bundle.
func (c *Client) Search(ctx context.Context, resourceType string, params url.Values) (json.RawMessage, error) {
	forwarded, err := FilterSearchParams(resourceType, params)
	if err != nil {
		return nil, err
	}

	target := c.base + "/" + resourceType + "?" + forwarded.Encode()

	resp, body, err := c.do(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: search %s: status %d: %s", faults.ErrRemoteService, resourceType, resp.StatusCode, truncate(body))
	}
	return json.RawMessage(body), nil
}

// Read fetches one resource with GET {base}/{resourceType}/{id}. A 404 from
// the store is reported as ErrNotFound.
func (c *Client) Read(ctx context.Context, resourceType, id string) (json.RawMessage, error) {
	if _, ok := searchParams[resourceType]; !ok {
		return nil, fmt.Errorf("%w: resource type %q is not readable", ErrUnsupportedSearch, resourceType)
	}
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: missing %s id", ErrUnsupportedSearch, resourceType)
	}

	resp, body, err := c.do(ctx, http.MethodGet, c.base+"/"+resourceType+"/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	switch resp.StatusCode {
	case http.StatusOK:
		return json.RawMessage(body), nil
	case http.StatusNotFound, http.StatusGone:
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, resourceType, id)
	default:
		return nil, fmt.Errorf("%w: read %s: status %d: %s", faults.ErrRemoteService, resourceType, resp.StatusCode, truncate(body))
	}
}

// FilterSearchParams keeps only the parameters the store proxy forwards for
// resourceType and fills in searchDefaults. Unknown resource types are
// rejected with ErrUnsupportedSearch.
func FilterSearchParams(resourceType string, params url.Values) (url.Values, error) {
	allowed, ok := searchParams[resourceType]
	if !ok {
		return nil, fmt.Errorf("%w: resource type %q is not searchable", ErrUnsupportedSearch, resourceType)
	}
	out := url.Values{}
	for k, vs := range params {
		if !slices.Contains(allowed, k) {
			continue
		}
		for _, v := range vs {
			if v != "" {
				out.Add(k, v)
			}
		}
	}
	for k, vs := range searchDefaults {
		if _, set := out[k]; !set && slices.Contains(allowed, k) {
			out[k] = slices.Clone(vs)
		}
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, target string, body []byte) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: build request: %w", faults.ErrConfiguration, err)
	}
	req.Header.Set("Accept", fhirJSON)
	if body != nil {
		req.Header.Set("Content-Type", fhirJSON)
	}

	if err := c.sign(ctx, req, body); err != nil {
		return nil, nil, err
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s %s: %w", faults.ErrRemoteService, method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: read response: %w", faults.ErrRemoteService, err)
	}

	c.logger.Debug().
		Str("method", method).
		Str("path", req.URL.Path).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("clinical data store request")
	return resp, respBody, nil
}

// sign attaches a SigV4 signature using freshly retrieved credentials.
func (c *Client) sign(ctx context.Context, req *http.Request, body []byte) error {
	creds, err := c.creds.Retrieve(ctx)
	if err != nil {
		return fmt.Errorf("%w: retrieve AWS credentials: %w", faults.ErrRemoteService, err)
	}
	sum := sha256.Sum256(body)
	if err := c.signer.SignHTTP(ctx, creds, req, hex.EncodeToString(sum[:]), SigningService, c.cfg.Region, c.now()); err != nil {
		return fmt.Errorf("%w: sign request: %w", faults.ErrConfiguration, err)
	}
	return nil
}

func truncate(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) <= maxErrorBody {
		return s
	}
	cut := maxErrorBody
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
