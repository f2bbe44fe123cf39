// Package erpclient talks to Infor CloudSuite Industrial's JSON IDO
// gateway: LoadCollection for bulk reads, GetIDOInfo for schema
// discovery, InvokeMethod for business-logic calls.
package erpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

// forbiddenConfigs lists config names that refer to a live production
// environment; the client refuses to start against any of them.
var forbiddenConfigs = []string{"LIVE", "PROD", "PRODUCTION", "SL"}

// Row is one record returned by LoadCollection: field name -> raw value.
type Row map[string]interface{}

// LoadResult is the outcome of one LoadCollection call.
type LoadResult struct {
	Data     []Row
	Bookmark string
	HasMore  bool
}

// Client talks to one Infor environment, identified by baseURL+config.
type Client struct {
	baseURL string
	config  string

	httpClient  *http.Client
	tokenSource oauth2.TokenSource
	limiter     *rate.Limiter
}

// Config describes how to reach and authenticate against one Infor
// environment.
type Config struct {
	BaseURL            string
	ConfigName         string
	Username           string
	Password           string
	RequestsPerSecond  float64
	BurstSize          int
	HTTPClient         *http.Client
}

// New builds a Client, refusing to construct one against a production
// config name — this mirrors the source client's hard safety check.
func New(cfg Config) (*Client, error) {
	upper := strings.ToUpper(cfg.ConfigName)
	for _, forbidden := range forbiddenConfigs {
		if upper == forbidden {
			return nil, fmt.Errorf("erpclient: config %q refers to a production environment, refusing to connect", cfg.ConfigName)
		}
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	burst := cfg.BurstSize
	if burst <= 0 {
		burst = 5
	}

	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		config:     cfg.ConfigName,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
	}
	c.tokenSource = oauth2.ReuseTokenSource(nil, &tokenFetcher{client: c, username: cfg.Username, password: cfg.Password})
	return c, nil
}

// tokenFetcher implements oauth2.TokenSource against Infor's
// UserId/Password token endpoint. The token is valid for 60 minutes
// per SyteLine defaults; we treat it as expiring after 55 to leave
// headroom, matching the source client.
type tokenFetcher struct {
	client   *Client
	username string
	password string
}

func (t *tokenFetcher) Token() (*oauth2.Token, error) {
	req, err := http.NewRequest(http.MethodGet, fmt.Sprintf("%s/json/token/%s", t.client.baseURL, t.client.config), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("UserId", t.username)
	req.Header.Set("Password", t.password)
	req.Header.Set("accept", "application/json")

	resp, err := t.client.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("erpclient: token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("erpclient: token request failed: %d %s", resp.StatusCode, body)
	}

	var payload map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("erpclient: decode token response: %w", err)
	}

	token := firstString(payload, "Token", "token", "SecurityToken", "value")
	if token == "" {
		return nil, fmt.Errorf("erpclient: token not found in response")
	}

	return &oauth2.Token{
		AccessToken: token,
		Expiry:      time.Now().Add(55 * time.Minute),
	}, nil
}

func firstString(m map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

// LoadOptions parameterizes a LoadCollection call.
type LoadOptions struct {
	Filter    string
	OrderBy   string
	RecordCap int // 0 = unlimited, -1 = omit (server default 200)
	LoadType  string
	Bookmark  string
	Distinct  bool
}

// SetLimit adjusts the client's outbound request rate and burst size
// in place, so an operator override applies without reconnecting.
func (c *Client) SetLimit(requestsPerSecond float64, burst int) {
	c.limiter.SetLimit(rate.Limit(requestsPerSecond))
	c.limiter.SetBurst(burst)
}

// LoadCollection fetches rows from an IDO, normalizing both the
// array-of-arrays and array-of-objects response shapes into Row maps
// keyed by the requested property names.
func (c *Client) LoadCollection(ctx context.Context, idoName string, properties []string, opts LoadOptions) (*LoadResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("erpclient: rate limit wait: %w", err)
	}

	token, err := c.tokenSource.Token()
	if err != nil {
		return nil, fmt.Errorf("erpclient: get token: %w", err)
	}

	params := url.Values{}
	params.Set("props", strings.Join(properties, ","))
	if opts.Filter != "" {
		params.Set("filter", opts.Filter)
	}
	if opts.OrderBy != "" {
		params.Set("orderBy", opts.OrderBy)
	}
	if opts.RecordCap >= 0 {
		params.Set("rowcap", strconv.Itoa(opts.RecordCap))
	}
	if opts.LoadType != "" {
		params.Set("loadtype", opts.LoadType)
	}
	if opts.Bookmark != "" {
		params.Set("bookmark", opts.Bookmark)
	}
	if opts.Distinct {
		params.Set("distinct", "true")
	}

	reqURL := fmt.Sprintf("%s/json/%s/adv?%s", c.baseURL, idoName, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", token.AccessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("erpclient: load collection %s: %w", idoName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("erpclient: load collection %s failed: %d %s", idoName, resp.StatusCode, body)
	}

	var raw interface{}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("erpclient: decode response: %w", err)
	}

	return parseLoadResponse(raw, properties, opts.RecordCap)
}

func parseLoadResponse(raw interface{}, properties []string, recordCap int) (*LoadResult, error) {
	var resultArray []interface{}
	var bookmark string

	switch v := raw.(type) {
	case map[string]interface{}:
		bookmark = firstString(v, "Bookmark", "bookmark")
		if items, ok := v["Items"].([]interface{}); ok {
			resultArray = items
		} else if items, ok := v["value"].([]interface{}); ok {
			resultArray = items
		}
	case []interface{}:
		resultArray = v
	}

	rows := make([]Row, 0, len(resultArray))
	for _, entry := range resultArray {
		switch r := entry.(type) {
		case []interface{}:
			if len(r) > 0 {
				if first, ok := r[0].(map[string]interface{}); ok {
					if _, hasName := first["Name"]; hasName {
						obj := Row{}
						for _, item := range r {
							if pair, ok := item.(map[string]interface{}); ok {
								name, _ := pair["Name"].(string)
								obj[name] = pair["Value"]
							}
						}
						rows = append(rows, obj)
						continue
					}
				}
			}
			obj := Row{}
			for i, val := range r {
				if i >= len(properties) {
					break
				}
				obj[properties[i]] = val
			}
			rows = append(rows, obj)
		case map[string]interface{}:
			rows = append(rows, Row(r))
		}
	}

	hasMore := false
	if bookmark != "" {
		if recordCap == 0 {
			hasMore = len(rows) > 0
		} else {
			hasMore = len(rows) == recordCap
		}
	}

	return &LoadResult{Data: rows, Bookmark: bookmark, HasMore: hasMore}, nil
}

// GetIDOInfo fetches schema metadata for an IDO.
func (c *Client) GetIDOInfo(ctx context.Context, idoName string) (map[string]interface{}, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	token, err := c.tokenSource.Token()
	if err != nil {
		return nil, fmt.Errorf("erpclient: get token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/json/idoinfo/%s", c.baseURL, idoName), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", token.AccessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("erpclient: get ido info %s: %w", idoName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("erpclient: get ido info %s failed: %d %s", idoName, resp.StatusCode, body)
	}

	var out map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("erpclient: decode ido info: %w", err)
	}
	return out, nil
}

// InvokeMethod calls an IDO business method with string parameters.
func (c *Client) InvokeMethod(ctx context.Context, idoName, methodName string, parameters map[string]string) (map[string]interface{}, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	token, err := c.tokenSource.Token()
	if err != nil {
		return nil, fmt.Errorf("erpclient: get token: %w", err)
	}

	params := url.Values{}
	for k, v := range parameters {
		params.Set(k, v)
	}

	reqURL := fmt.Sprintf("%s/json/method/%s/%s?%s", c.baseURL, idoName, methodName, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", token.AccessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("erpclient: invoke method %s.%s: %w", idoName, methodName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("erpclient: invoke method %s.%s failed: %d %s", idoName, methodName, resp.StatusCode, body)
	}

	var out map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("erpclient: decode invoke response: %w", err)
	}
	return out, nil
}
