package controller

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/httprunner/ImageAgent/pkg/imageerr"
)

const (
	// DefaultRequestTimeout bounds a single controller call. It is unrelated to the wait budget.
	DefaultRequestTimeout = 30 * time.Second
	defaultLoginDomain    = "local"
	authHeader            = "Authorization"
)

// Config configures RestClient.
type Config struct {
	BaseURL        string
	Username       string
	Password       string
	Domain         string
	Token          string
	Insecure       bool
	RequestTimeout time.Duration
	HTTPClient     *http.Client
}

// RestClient talks to the controller REST API over resty.
type RestClient struct {
	cfg    Config
	client *resty.Client

	loginMu sync.Mutex
	token   string
}

// NewRestClient builds a client for cfg.BaseURL.
func NewRestClient(cfg Config) (*RestClient, error) {
	cfg.BaseURL = strings.TrimSuffix(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		return nil, errors.New("controller base url is empty")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if strings.TrimSpace(cfg.Domain) == "" {
		cfg.Domain = defaultLoginDomain
	}

	var client *resty.Client
	if cfg.HTTPClient != nil {
		client = resty.NewWithClient(cfg.HTTPClient)
	} else {
		client = resty.New()
	}
	client.SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.RequestTimeout).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.Insecure {
		client.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true}) //nolint:gosec
	}
	return &RestClient{cfg: cfg, client: client, token: strings.TrimSpace(cfg.Token)}, nil
}

// HTTPClient exposes the underlying *http.Client so tests can intercept it.
func (c *RestClient) HTTPClient() *http.Client {
	return c.client.GetClient()
}

// Login obtains a session token when credentials are configured and no token is cached.
func (c *RestClient) Login(ctx context.Context) error {
	c.loginMu.Lock()
	defer c.loginMu.Unlock()
	if c.token != "" {
		return nil
	}
	if c.cfg.Username == "" {
		return nil
	}
	body := map[string]string{
		"userName":   c.cfg.Username,
		"userPasswd": c.cfg.Password,
		"domain":     c.cfg.Domain,
	}
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(body).
		Post(LoginEndpoint.Path)
	if err != nil {
		return &imageerr.TransportError{Op: "RestClient.Login", Verb: http.MethodPost, Path: LoginEndpoint.Path, Err: err}
	}
	if resp.StatusCode() != http.StatusOK {
		return &imageerr.TransportError{
			Op:         "RestClient.Login",
			Verb:       http.MethodPost,
			Path:       LoginEndpoint.Path,
			ReturnCode: resp.StatusCode(),
			Message:    strings.TrimSpace(resp.String()),
		}
	}
	var out struct {
		JWTToken string `json:"jwttoken"`
		Token    string `json:"token"`
	}
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return errors.Wrap(err, "decode login response")
	}
	token := out.JWTToken
	if token == "" {
		token = out.Token
	}
	if token == "" {
		return errors.New("controller login returned no token")
	}
	c.token = token
	log.Debug().Str("user", c.cfg.Username).Msg("controller login succeeded")
	return nil
}

// Send issues one request and normalizes the reply. A non-2xx reply is still
// returned as a Response; only network failures and undecodable bodies error.
func (c *RestClient) Send(ctx context.Context, verb, path string, body any) (*Response, error) {
	if err := c.Login(ctx); err != nil {
		return nil, err
	}
	verb = strings.ToUpper(strings.TrimSpace(verb))
	req := c.client.R().SetContext(ctx)
	if c.token != "" {
		req.SetHeader(authHeader, "Bearer "+c.token)
	}
	if body != nil {
		req.SetBody(body)
	}
	start := time.Now()
	resp, err := req.Execute(verb, path)
	if err != nil {
		log.Error().Err(err).Str("method", verb).Str("path", path).Msg("controller request failed")
		return nil, &imageerr.TransportError{Op: "RestClient.Send", Verb: verb, Path: path, Err: err}
	}
	log.Debug().
		Str("method", verb).
		Str("path", path).
		Int("status", resp.StatusCode()).
		Dur("elapsed", time.Since(start)).
		Msg("controller request")

	out := &Response{
		ReturnCode:  resp.StatusCode(),
		Method:      verb,
		RequestPath: path,
		Message:     http.StatusText(resp.StatusCode()),
	}
	raw := resp.Body()
	if len(strings.TrimSpace(string(raw))) == 0 {
		return out, nil
	}
	if !json.Valid(raw) {
		if resp.IsSuccess() {
			return nil, &imageerr.TransportError{
				Op:         "RestClient.Send",
				Verb:       verb,
				Path:       path,
				ReturnCode: resp.StatusCode(),
				Message:    "malformed response body",
			}
		}
		quoted, _ := json.Marshal(strings.TrimSpace(string(raw)))
		out.Data = quoted
		return out, nil
	}
	out.Data = json.RawMessage(raw)
	if msg := errorMessage(raw); msg != "" && !resp.IsSuccess() {
		out.Message = msg
	}
	return out, nil
}

// errorMessage extracts the controller's error text from an object body.
func errorMessage(raw []byte) string {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return ""
	}
	for _, key := range []string{"message", "error", "MESSAGE"} {
		if v, ok := obj[key].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
