package shotgrid

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	apiPrefix        = "/api/v1"
	searchMediaType  = "application/vnd+shotgun.api3_array+json"
	tokenRefreshSkew = 30 * time.Second
	maxErrorBody     = 4096
)

// HTTPClient is the REST client. Access tokens are cached until shortly
// before expiry; concurrent refreshes share one request.
type HTTPClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	chunkSize  int64

	mu         sync.RWMutex
	serverURL  string
	scriptName string
	apiKey     string
	token      string
	expiresAt  time.Time

	connected atomic.Bool
	tokens    singleflight.Group
}

func NewHTTPClient(serverURL, scriptName, apiKey string, chunkSize int64, timeoutSeconds int, logger *slog.Logger) *HTTPClient {
	if timeoutSeconds <= 0 {
		timeoutSeconds = 60
	}
	return &HTTPClient{
		httpClient: &http.Client{
			Timeout: time.Duration(timeoutSeconds) * time.Second,
		},
		logger:     logger,
		chunkSize:  chunkSize,
		serverURL:  normalizeServerURL(serverURL),
		scriptName: scriptName,
		apiKey:     apiKey,
	}
}

// normalizeServerURL strips a trailing /api3/json (legacy SDK form) and
// slashes.
func normalizeServerURL(s string) string {
	s = strings.TrimRight(strings.TrimSpace(s), "/")
	s = strings.TrimSuffix(s, "/api3/json")
	return strings.TrimRight(s, "/")
}

func (c *HTTPClient) ServerURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverURL
}

func (c *HTTPClient) IsConnected() bool {
	return c.connected.Load()
}

// UpdateCredentials swaps credentials and drops the cached token. The next
// request authenticates again.
func (c *HTTPClient) UpdateCredentials(serverURL, scriptName, apiKey string) {
	c.mu.Lock()
	c.serverURL = normalizeServerURL(serverURL)
	c.scriptName = scriptName
	c.apiKey = apiKey
	c.token = ""
	c.expiresAt = time.Time{}
	c.mu.Unlock()
	c.connected.Store(false)
	c.logger.Info("shotgrid credentials updated", "server", c.ServerURL(), "script", scriptName)
}

// Connect fetches an access token.
func (c *HTTPClient) Connect(ctx context.Context) error {
	_, err := c.accessToken(ctx)
	return err
}

// TestConnection authenticates and looks up one project.
func (c *HTTPClient) TestConnection(ctx context.Context) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}
	if _, err := c.Find(ctx, TypeProject, Query{Fields: []string{"name"}, Limit: 1}); err != nil {
		return &RemoteConnectionError{Server: c.ServerURL(), Op: "test connection", Err: err}
	}
	return nil
}

func (c *HTTPClient) accessToken(ctx context.Context) (string, error) {
	if token, ok := c.cachedToken(); ok {
		return token, nil
	}

	v, err, _ := c.tokens.Do("token", func() (any, error) {
		if token, ok := c.cachedToken(); ok {
			return token, nil
		}
		return c.fetchToken(ctx)
	})
	if err != nil {
		c.connected.Store(false)
		return "", err
	}
	return v.(string), nil
}

func (c *HTTPClient) cachedToken() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token != "" && time.Now().Before(c.expiresAt) {
		return c.token, true
	}
	return "", false
}

func (c *HTTPClient) fetchToken(ctx context.Context) (string, error) {
	c.mu.RLock()
	server, script, key := c.serverURL, c.scriptName, c.apiKey
	c.mu.RUnlock()

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {script},
		"client_secret": {key},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, server+apiPrefix+"/auth/access_token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", &RemoteConnectionError{Server: server, Op: "authenticate", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &RemoteConnectionError{Server: server, Op: "authenticate", Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &RemoteConnectionError{Server: server, Op: "authenticate", Err: &statusError{StatusCode: resp.StatusCode, Body: string(body)}}
	}

	var tok accessToken
	if err := json.Unmarshal(body, &tok); err != nil || tok.AccessToken == "" {
		return "", &RemoteConnectionError{Server: server, Op: "authenticate", Err: fmt.Errorf("invalid token response: %s", body)}
	}

	ttl := time.Duration(tok.ExpiresIn) * time.Second
	if ttl <= tokenRefreshSkew {
		ttl = 2 * tokenRefreshSkew
	}
	c.mu.Lock()
	c.token = tok.AccessToken
	c.expiresAt = time.Now().Add(ttl - tokenRefreshSkew)
	c.mu.Unlock()

	if !c.connected.Swap(true) {
		c.logger.Info("connected to shotgrid", "server", server, "script", script)
	}
	return tok.AccessToken, nil
}

// resolve turns an API path or a returned link into an absolute URL. The
// bool reports whether the URL is on the Shotgrid server and needs auth.
func (c *HTTPClient) resolve(link string) (string, bool) {
	if strings.HasPrefix(link, "http://") || strings.HasPrefix(link, "https://") {
		return link, strings.HasPrefix(link, c.ServerURL())
	}
	if !strings.HasPrefix(link, "/") {
		link = "/" + link
	}
	if !strings.HasPrefix(link, apiPrefix) {
		link = apiPrefix + link
	}
	return c.ServerURL() + link, true
}

// do sends one request and decodes a 2xx JSON body into out when out is
// not nil. Non-2xx responses become *statusError.
func (c *HTTPClient) do(ctx context.Context, method, link, contentType string, body io.Reader, out any) error {
	target, authed := c.resolve(link)
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if authed {
		token, err := c.accessToken(ctx)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized && authed {
		c.mu.Lock()
		c.token = ""
		c.mu.Unlock()
		c.connected.Store(false)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &statusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *HTTPClient) doJSON(ctx context.Context, method, link, contentType string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	if contentType == "" {
		contentType = "application/json"
	}
	return c.do(ctx, method, link, contentType, body, out)
}

// Find runs an entity _search.
func (c *HTTPClient) Find(ctx context.Context, entityType string, q Query) ([]Entity, error) {
	params := url.Values{}
	if len(q.Fields) > 0 {
		params.Set("fields", strings.Join(q.Fields, ","))
	}
	if q.Sort != "" {
		params.Set("sort", q.Sort)
	}
	if q.Limit > 0 {
		params.Set("page[size]", strconv.Itoa(q.Limit))
	}
	link := fmt.Sprintf("/entity/%s/_search", entityPath(entityType))
	if len(params) > 0 {
		link += "?" + params.Encode()
	}

	filters := q.Filters
	if filters == nil {
		filters = []Filter{}
	}
	var out struct {
		Data []Entity `json:"data"`
	}
	if err := c.doJSON(ctx, http.MethodPost, link, searchMediaType, map[string]any{"filters": filters}, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (c *HTTPClient) Create(ctx context.Context, entityType string, attrs map[string]any) (*Entity, error) {
	var out struct {
		Data Entity `json:"data"`
	}
	link := "/entity/" + entityPath(entityType)
	if err := c.doJSON(ctx, http.MethodPost, link, "", attrs, &out); err != nil {
		return nil, mutationError("create", entityType, "", err)
	}
	if out.Data.Type == "" {
		out.Data.Type = entityType
	}
	return &out.Data, nil
}

func (c *HTTPClient) Update(ctx context.Context, entityType string, id int, attrs map[string]any) (*Entity, error) {
	var out struct {
		Data Entity `json:"data"`
	}
	link := fmt.Sprintf("/entity/%s/%d", entityPath(entityType), id)
	if err := c.doJSON(ctx, http.MethodPut, link, "", attrs, &out); err != nil {
		return nil, mutationError("update", entityType, "", err)
	}
	return &out.Data, nil
}

// Upload sends path to a field of an entity: request an upload URL, PUT
// the bytes (in parts above the chunk size) and complete the upload.
func (c *HTTPClient) Upload(ctx context.Context, entityType string, id int, field, path string) error {
	wrap := func(err error) error { return mutationError("upload", entityType, path, err) }

	f, err := os.Open(path)
	if err != nil {
		return wrap(err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return wrap(err)
	}

	name := filepath.Base(path)
	multipart := c.chunkSize > 0 && info.Size() > c.chunkSize
	params := url.Values{"filename": {name}}
	if multipart {
		params.Set("multipart_upload", "true")
	}
	link := fmt.Sprintf("/entity/%s/%d/%s/_upload?%s", entityPath(entityType), id, field, params.Encode())

	var up uploadInfo
	if err := c.doJSON(ctx, http.MethodGet, link, "", nil, &up); err != nil {
		return wrap(err)
	}
	if up.Links.Upload == "" || up.Links.CompleteUpload == "" {
		return wrap(fmt.Errorf("upload links missing from response"))
	}

	if up.Data == nil {
		up.Data = map[string]any{}
	}
	complete := map[string]any{
		"upload_info": up.Data,
		"upload_data": map[string]any{"display_name": name},
	}

	if !multipart {
		if err := c.do(ctx, http.MethodPut, up.Links.Upload, "application/octet-stream", f, nil); err != nil {
			return wrap(err)
		}
	} else {
		etags, err := c.uploadParts(ctx, f, up)
		if err != nil {
			return wrap(err)
		}
		up.Data["etags"] = etags
	}

	if err := c.doJSON(ctx, http.MethodPost, up.Links.CompleteUpload, "", complete, nil); err != nil {
		return wrap(err)
	}
	c.logger.Info("media uploaded", "entity", entityType, "id", id, "field", field, "file", name, "bytes", info.Size())
	return nil
}

func (c *HTTPClient) uploadParts(ctx context.Context, r io.Reader, up uploadInfo) ([]string, error) {
	buf := make([]byte, c.chunkSize)
	var etags []string
	uploadURL := up.Links.Upload
	nextPart := up.Links.GetNextPart

	for part := 1; ; part++ {
		n, err := io.ReadFull(r, buf)
		if n == 0 && (err == io.EOF || err == io.ErrUnexpectedEOF) {
			break
		}
		if err != nil && err != io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("read part %d: %w", part, err)
		}

		if part > 1 {
			if nextPart == "" {
				return nil, fmt.Errorf("no link for part %d", part)
			}
			var next uploadInfo
			if err := c.doJSON(ctx, http.MethodGet, nextPart, "", nil, &next); err != nil {
				return nil, err
			}
			uploadURL, nextPart = next.Links.Upload, next.Links.GetNextPart
		}

		etag, err := c.putPart(ctx, uploadURL, buf[:n])
		if err != nil {
			return nil, fmt.Errorf("upload part %d: %w", part, err)
		}
		etags = append(etags, etag)
		if n < len(buf) {
			break
		}
	}
	return etags, nil
}

func (c *HTTPClient) putPart(ctx context.Context, link string, data []byte) (string, error) {
	target, authed := c.resolve(link)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if authed {
		token, err := c.accessToken(ctx)
		if err != nil {
			return "", err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", &statusError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	io.Copy(io.Discard, resp.Body)
	return resp.Header.Get("ETag"), nil
}
