// Package kis implements the broker interface against the Korea Investment &
// Securities open API. One Client serves one account in one mode; mock and
// real trading differ only in base URL, TR ID prefix and token cache file.
package kis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"mystocks/internal/broker"
	"mystocks/internal/logger"
)

const tokenSafetyMargin = 10 * time.Minute

// Options configures a Client.
type Options struct {
	AppKey    string
	AppSecret string
	// AccountNo is "CANO-ACNT_PRDT_CD", e.g. "12345678-01".
	AccountNo string
	BaseURL   string
	Mock      bool
	Timeout   time.Duration
	// TokenDir is where the access token cache file lives.
	TokenDir string
}

// Client talks to the KIS REST API. Safe for concurrent use.
type Client struct {
	opts Options
	cano string
	prdt string
	http *http.Client

	mu           sync.Mutex
	accessToken  string
	tokenExpires time.Time
}

// New validates opts and builds a Client.
func New(opts Options) (*Client, error) {
	if opts.AppKey == "" || opts.AppSecret == "" {
		return nil, fmt.Errorf("kis: app key and secret are required")
	}
	parts := strings.SplitN(opts.AccountNo, "-", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, fmt.Errorf("kis: account number must be CANO-PRDT, got %q", opts.AccountNo)
	}
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("kis: base URL is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.TokenDir == "" {
		opts.TokenDir = "."
	}
	return &Client{
		opts: opts,
		cano: parts[0],
		prdt: parts[1],
		http: &http.Client{Timeout: opts.Timeout},
	}, nil
}

// Name identifies the client by mode.
func (c *Client) Name() string {
	if c.opts.Mock {
		return "kis-mock"
	}
	return "kis-real"
}

// trID maps a real-trading TR ID to the mode-appropriate one. Mock trading
// TR IDs replace the leading T with V.
func (c *Client) trID(base string) string {
	if c.opts.Mock && strings.HasPrefix(base, "T") {
		return "V" + base[1:]
	}
	return base
}

func (c *Client) tokenFile() string {
	suffix := "real"
	if c.opts.Mock {
		suffix = "mock"
	}
	return filepath.Join(c.opts.TokenDir, "kis_token_"+suffix+".json")
}

type cachedToken struct {
	AccessToken string `json:"access_token"`
	ExpiredAt   int64  `json:"expired_at"`
}

// token returns a valid access token, loading the file cache or issuing a
// fresh one. KIS rate-limits token issuance, hence the persistent cache.
func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if c.accessToken != "" && now.Before(c.tokenExpires.Add(-tokenSafetyMargin)) {
		return c.accessToken, nil
	}

	if raw, err := os.ReadFile(c.tokenFile()); err == nil {
		var cached cachedToken
		if json.Unmarshal(raw, &cached) == nil && cached.AccessToken != "" {
			exp := time.Unix(cached.ExpiredAt, 0)
			if now.Before(exp.Add(-tokenSafetyMargin)) {
				c.accessToken = cached.AccessToken
				c.tokenExpires = exp
				return c.accessToken, nil
			}
		}
	}

	body, _ := json.Marshal(map[string]string{
		"grant_type": "client_credentials",
		"appkey":     c.opts.AppKey,
		"appsecret":  c.opts.AppSecret,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.opts.BaseURL+"/oauth2/tokenP", bytes.NewReader(body))
	if err != nil {
		return "", broker.NewFault(broker.FaultValidation, "token", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", broker.NewFault(broker.FaultTransient, "token", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", broker.NewFault(broker.FaultTransient, "token", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", broker.Faultf(broker.FaultRejected, "token",
			"status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	parsed := gjson.ParseBytes(raw)
	tok := parsed.Get("access_token").String()
	if tok == "" {
		return "", broker.Faultf(broker.FaultRejected, "token",
			"no access_token in response: %s", parsed.Get("error_description").String())
	}
	expiresIn := parsed.Get("expires_in").Int()
	if expiresIn <= 0 {
		expiresIn = 86400
	}
	c.accessToken = tok
	c.tokenExpires = now.Add(time.Duration(expiresIn) * time.Second)

	cache, _ := json.Marshal(cachedToken{AccessToken: tok, ExpiredAt: c.tokenExpires.Unix()})
	if err := os.WriteFile(c.tokenFile(), cache, 0o600); err != nil {
		logger.Warnf("kis: persist token cache: %v", err)
	}
	logger.Infof("kis: issued new access token (%s)", c.Name())
	return c.accessToken, nil
}

func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.accessToken = ""
	c.tokenExpires = time.Time{}
	c.mu.Unlock()
	_ = os.Remove(c.tokenFile())
}

// call performs one authenticated API call and returns the parsed body.
// A 401/403 invalidates the token and retries once.
func (c *Client) call(ctx context.Context, method, endpoint, trID string,
	params url.Values, body map[string]string) (gjson.Result, error) {
	res, retry, err := c.callOnce(ctx, method, endpoint, trID, params, body)
	if retry {
		c.invalidateToken()
		logger.Warnf("kis: token rejected, reissuing and retrying %s", endpoint)
		res, _, err = c.callOnce(ctx, method, endpoint, trID, params, body)
	}
	return res, err
}

func (c *Client) callOnce(ctx context.Context, method, endpoint, trID string,
	params url.Values, body map[string]string) (res gjson.Result, authRetry bool, err error) {
	op := trID
	tok, err := c.token(ctx)
	if err != nil {
		return res, false, err
	}

	u := c.opts.BaseURL + endpoint
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	var reader io.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return res, false, broker.NewFault(broker.FaultValidation, op, err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("appkey", c.opts.AppKey)
	req.Header.Set("appsecret", c.opts.AppSecret)
	req.Header.Set("tr_id", trID)
	req.Header.Set("custtype", "P")

	resp, err := c.http.Do(req)
	if err != nil {
		return res, false, broker.NewFault(broker.FaultTransient, op, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return res, false, broker.NewFault(broker.FaultTransient, op, err)
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return res, true, broker.Faultf(broker.FaultRejected, op, "auth failure %d", resp.StatusCode)
	case resp.StatusCode >= 500:
		return res, false, broker.Faultf(broker.FaultTransient, op,
			"status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	case resp.StatusCode != http.StatusOK:
		return res, false, broker.Faultf(broker.FaultRejected, op,
			"status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return gjson.ParseBytes(raw), false, nil
}
