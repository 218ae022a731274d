// Package dam is the HTTP client for the Digital Asset Management backend.
package dam

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/fruitsalade/assetgateway/internal/apperr"
	"github.com/fruitsalade/assetgateway/internal/logging"
	"github.com/fruitsalade/assetgateway/internal/metrics"
	"github.com/fruitsalade/assetgateway/internal/models"
	"github.com/fruitsalade/assetgateway/internal/normalize"
	"github.com/fruitsalade/assetgateway/internal/retry"
)

const (
	loginPath     = "/webapp/1.0/login"
	resourcesPath = "/webapp/1.0/resources"
	searchPath    = "/webapp/1.0/search"

	// Envelope messages the backend uses instead of HTTP status codes.
	msgServerError  = "A server error occurred"
	msgLoginFailure = "Invalid user name or password. Please try again."
	msgBadPlatform  = "Invalid user or password"

	maxBodySize = 32 << 20
)

// errRejected marks a call the backend refused because the session is no
// longer valid.
var errRejected = errors.New("session rejected by backend")

// Config holds client configuration.
type Config struct {
	BaseURL string

	// PublicURL is the gateway's externally visible base URL. Normalized
	// assets point their source and thumbnail URLs at PublicURL + "/f/".
	PublicURL string

	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client talks to the DAM web API.
type Client struct {
	baseURL    string
	prefix     string
	httpClient *http.Client
	session    *Session
}

// New creates a new client. A nil session starts without credentials;
// call Connect before use.
func New(cfg Config, session *Session) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if session == nil {
		session = NewSession(Credentials{})
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		}
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		prefix:     strings.TrimRight(cfg.PublicURL, "/") + "/f/",
		httpClient: httpClient,
		session:    session,
	}
}

// Host returns the backend host, used to namespace cache keys.
func (c *Client) Host() string {
	u, err := url.Parse(c.baseURL)
	if err != nil || u.Host == "" {
		return c.baseURL
	}
	return u.Host
}

// Session returns the client's session.
func (c *Client) Session() *Session {
	return c.session
}

// Tracking returns the tracking cookie of the current session.
func (c *Client) Tracking() string {
	tok, _ := c.session.Token()
	return tok.Tracking
}

// Connect establishes a session. A cached token is adopted without a
// round trip; otherwise the client logs in immediately.
func (c *Client) Connect(ctx context.Context, creds Credentials) error {
	c.session.SetCredentials(creds)
	if creds.HasToken() {
		c.session.Set(creds.token())
		return nil
	}
	if tok, ok := c.session.Token(); ok {
		c.session.Invalidate(tok)
	}
	_, err := c.session.Ensure(ctx, c.login)
	return err
}

type loginResponse struct {
	APIKey   string `json:"apikey"`
	UserUUID string `json:"useruuid"`
}

func (c *Client) login(ctx context.Context, creds Credentials) (tok Token, err error) {
	if !creds.CanLogin() {
		return Token{}, apperr.Auth("no login credentials configured", nil)
	}

	start := time.Now()
	defer func() {
		metrics.RecordLogin(err == nil)
		metrics.RecordBackendCall("login", time.Since(start), outcome(err))
	}()

	form := url.Values{
		"p70": {creds.Username},
		"p80": {creds.Password},
		"p90": {creds.Platform},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+loginPath, strings.NewReader(form.Encode()))
	if err != nil {
		return Token{}, apperr.Transport("build login request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Token{}, transportError(ctx, "login", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return Token{}, transportError(ctx, "read login response", err)
	}

	payload, msg, decodeErr := decodeEnvelope(body)
	switch {
	case msg == msgBadPlatform:
		return Token{}, apperr.Auth("backend rejected platform", apperr.ErrInvalidPlatform)
	case msg == msgLoginFailure || resp.StatusCode == http.StatusUnauthorized:
		return Token{}, apperr.Auth("backend rejected credentials", nil)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return Token{}, apperr.Transport("login", fmt.Errorf("backend returned %d", resp.StatusCode))
	case decodeErr != nil:
		return Token{}, apperr.Transport("undecodable login response", decodeErr)
	case msg != "":
		return Token{}, apperr.Protocol("unexpected login response", errors.New(msg))
	}

	var lr loginResponse
	if err := json.Unmarshal(payload, &lr); err != nil {
		return Token{}, apperr.Transport("undecodable login response", err)
	}
	if lr.APIKey == "" || lr.UserUUID == "" {
		return Token{}, apperr.Protocol("login response missing session fields", nil)
	}

	logging.Info("DAM session established", logging.String("user", creds.Username))
	return Token{APIKey: lr.APIKey, UserUUID: lr.UserUUID, Tracking: trackingFrom(resp)}, nil
}

func trackingFrom(resp *http.Response) string {
	var parts []string
	for _, ck := range resp.Cookies() {
		parts = append(parts, ck.Name+"="+ck.Value)
	}
	return strings.Join(parts, "; ")
}

// call issues an authenticated GET and returns the envelope payload. On an
// auth rejection the session is refreshed and the call retried exactly once.
func (c *Client) call(ctx context.Context, op, path string, query url.Values) (json.RawMessage, error) {
	return retry.Do(ctx, c.retryPolicy(op), func(ctx context.Context, attempt int) (json.RawMessage, error) {
		tok, err := c.session.Ensure(ctx, c.login)
		if err != nil {
			return nil, err
		}

		start := time.Now()
		payload, err := c.get(ctx, path, query, tok)
		metrics.RecordBackendCall(op, time.Since(start), outcome(err))

		if errors.Is(err, errRejected) {
			c.session.Invalidate(tok)
			return nil, retry.Retryable(apperr.Auth(op, err))
		}
		return payload, err
	})
}

// retryPolicy retries once after logging in again.
func (c *Client) retryPolicy(op string) retry.Config {
	return retry.Once(func(ctx context.Context, attempt int, lastErr error) error {
		logging.WithContext(ctx).Warn("DAM session rejected, logging in again", logging.String("operation", op))
		_, err := c.session.Ensure(ctx, c.login)
		return err
	})
}

func (c *Client) get(ctx context.Context, path string, query url.Values, tok Token) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(path, query, tok), nil)
	if err != nil {
		return nil, apperr.Transport("build request", err)
	}
	req.Header.Set("Accept", "application/json")
	applyAuth(req, tok)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, transportError(ctx, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, transportError(ctx, "read response", err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, errRejected
	}

	payload, msg, decodeErr := decodeEnvelope(body)
	switch msg {
	case "":
	case msgLoginFailure:
		return nil, errRejected
	case msgServerError:
		return nil, apperr.NotFound("backend reported no such item", query.Get("folderuuid")+query.Get("searchterm"))
	default:
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil, apperr.Protocol("unexpected backend message", errors.New(msg))
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apperr.Transport(path, fmt.Errorf("backend returned %d", resp.StatusCode))
	}
	if decodeErr != nil {
		return nil, apperr.Transport("undecodable response", decodeErr)
	}
	return payload, nil
}

func (c *Client) endpoint(path string, query url.Values, tok Token) string {
	q := url.Values{}
	for k, v := range query {
		q[k] = v
	}
	q.Set("p10", tok.APIKey)
	q.Set("p20", tok.UserUUID)
	return c.baseURL + path + "?" + q.Encode()
}

// applyAuth adds the tracking cookie to a request.
func applyAuth(req *http.Request, tok Token) {
	if tok.Tracking != "" {
		req.Header.Set("Cookie", tok.Tracking)
	}
}

// envelope is the outer shape of every DAM response.
type envelope struct {
	Message  json.RawMessage `json:"message"`
	Response json.RawMessage `json:"response"`
}

// decodeEnvelope returns the payload (the "response" member when present,
// otherwise the whole body) and the envelope message, if any.
func decodeEnvelope(body []byte) (json.RawMessage, string, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, "", err
	}

	var msg string
	if len(env.Message) > 0 && string(env.Message) != "null" {
		if err := json.Unmarshal(env.Message, &msg); err != nil {
			msg = string(env.Message)
		}
	}

	if len(env.Response) > 0 && string(env.Response) != "null" {
		return env.Response, msg, nil
	}
	return body, msg, nil
}

func transportError(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return apperr.Transport(op, err)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, errRejected):
		return "rejected"
	default:
		return apperr.KindOf(err).String()
	}
}

// ListFolder returns the raw listing of a folder. "" and "0" mean root.
func (c *Client) ListFolder(ctx context.Context, id string) (*normalize.FolderRecord, error) {
	query := url.Values{}
	if id != "" && id != models.RootID {
		query.Set("folderuuid", id)
	}

	payload, err := c.call(ctx, "list_folder", resourcesPath, query)
	if err != nil {
		return nil, err
	}

	var rec normalize.FolderRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, apperr.Protocol("malformed folder listing", err)
	}
	if !rec.HasContent() {
		return nil, apperr.NotFound("folder not found", id)
	}
	if rec.FolderUUID == "" && id != models.RootID {
		rec.FolderUUID = id
	}
	return &rec, nil
}

// GetFolderInfo returns a folder and its immediate children.
func (c *Client) GetFolderInfo(ctx context.Context, id string) (*models.Asset, error) {
	rec, err := c.ListFolder(ctx, id)
	if err != nil {
		return nil, err
	}
	return normalize.Folder(c.prefix, id, rec), nil
}

// flexInt decodes a JSON number or a numeric string.
type flexInt int

func (n *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("numFound: %w", err)
	}
	*n = flexInt(v)
	return nil
}

type searchResponse struct {
	NumFound flexInt                `json:"numFound"`
	Docs     []normalize.FileRecord `json:"doc"`
}

// GetAssetInfo looks a file up by id. Anything but exactly one match is
// reported as ambiguous.
func (c *Client) GetAssetInfo(ctx context.Context, id string) (*models.Asset, error) {
	payload, err := c.call(ctx, "search", searchPath, url.Values{"searchterm": {id}})
	if err != nil {
		return nil, err
	}

	var sr searchResponse
	if err := json.Unmarshal(payload, &sr); err != nil {
		return nil, apperr.Protocol("malformed search response", err)
	}
	if sr.NumFound != 1 {
		return nil, apperr.Ambiguous(id, int(sr.NumFound))
	}
	if len(sr.Docs) != 1 {
		return nil, apperr.Ambiguous(id, len(sr.Docs))
	}
	return normalize.File(c.prefix, &sr.Docs[0]), nil
}

// Resource addresses a file's bytes on the backend.
type Resource struct {
	ID  string
	Ext string

	// RawQuery is appended verbatim after the generated parameters.
	RawQuery string
}

func (c *Client) resourceURL(res Resource, tok Token) string {
	q := url.Values{"fileuuid": {res.ID}}
	if res.Ext != "" {
		q.Set("ext", res.Ext)
	}
	u := c.endpoint(resourcesPath, q, tok)
	if res.RawQuery != "" {
		u += "&" + res.RawQuery
	}
	return u
}

// ResourceURL returns the authenticated backend URL for a file's bytes.
func (c *Client) ResourceURL(ctx context.Context, res Resource) (string, error) {
	tok, err := c.session.Ensure(ctx, c.login)
	if err != nil {
		return "", err
	}
	return c.resourceURL(res, tok), nil
}

// ProbeContentType issues a HEAD for a file and returns its Content-Type.
func (c *Client) ProbeContentType(ctx context.Context, id string) (string, error) {
	resp, err := c.open(ctx, "probe", http.MethodHead, Resource{ID: id}, "")
	if err != nil {
		return "", err
	}
	resp.Body.Close()
	return resp.Header.Get("Content-Type"), nil
}

// Content is a streamed backend response. The caller must close Body.
type Content struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// Fetch streams the bytes of a resource. A non-empty rangeHeader is
// forwarded as the Range header.
func (c *Client) Fetch(ctx context.Context, res Resource, rangeHeader string) (*Content, error) {
	resp, err := c.open(ctx, "fetch", http.MethodGet, res, rangeHeader)
	if err != nil {
		return nil, err
	}
	return &Content{StatusCode: resp.StatusCode, Header: resp.Header, Body: resp.Body}, nil
}

// open issues an authenticated request for a resource. A rejected session is
// refreshed and the request rebuilt and retried exactly once. Errors name the
// resource id only, never the signed URL.
func (c *Client) open(ctx context.Context, op, method string, res Resource, rangeHeader string) (*http.Response, error) {
	return retry.Do(ctx, c.retryPolicy(op), func(ctx context.Context, attempt int) (*http.Response, error) {
		tok, err := c.session.Ensure(ctx, c.login)
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, method, c.resourceURL(res, tok), nil)
		if err != nil {
			return nil, apperr.Transport("build "+op+" request", err)
		}
		applyAuth(req, tok)
		if rangeHeader != "" {
			req.Header.Set("Range", rangeHeader)
		}

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			err = transportError(ctx, op, err)
			metrics.RecordBackendCall(op, time.Since(start), outcome(err))
			return nil, err
		}
		if rejected(resp) {
			resp.Body.Close()
			metrics.RecordBackendCall(op, time.Since(start), outcome(errRejected))
			c.session.Invalidate(tok)
			return nil, retry.Retryable(apperr.Auth(op, errRejected))
		}
		if err := statusError(op, res.ID, resp.StatusCode); err != nil {
			resp.Body.Close()
			metrics.RecordBackendCall(op, time.Since(start), outcome(err))
			return nil, err
		}
		metrics.RecordBackendCall(op, time.Since(start), "ok")
		return resp, nil
	})
}

// envelopePeek bounds how much of a JSON content response is inspected for a
// login-failure envelope.
const envelopePeek = 512

// rejected reports a 401, or a 2xx JSON body carrying the login-failure
// envelope. A body that is not a rejection is left readable from the start.
func rejected(resp *http.Response) bool {
	if resp.StatusCode == http.StatusUnauthorized {
		return true
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 ||
		!strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		return false
	}

	head := make([]byte, envelopePeek)
	n, err := io.ReadFull(resp.Body, head)
	head = head[:n]
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		if _, msg, _ := decodeEnvelope(head); msg == msgLoginFailure {
			return true
		}
	}
	resp.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(head), resp.Body), resp.Body}
	return false
}

func statusError(op, what string, status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusNotFound:
		return apperr.NotFound("backend has no such resource", what)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return apperr.Auth(op, fmt.Errorf("backend returned %d", status))
	default:
		return apperr.Transport(op, fmt.Errorf("backend returned %d", status))
	}
}
