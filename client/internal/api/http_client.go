package api

import (
	"bytes"
	"context"
	"fmt"
	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"io"
	"net/http"
	"net/url"
	"strings"
)

type (
	Params struct {
		Method      string
		Path        string
		Body        interface{}
		Response    interface{}
		QueryParams map[string]string
	}

	Client interface {
		Do(ctx context.Context, param Params) error
		Stream(ctx context.Context, param Params) (io.ReadCloser, error)
	}

	Config struct {
		Host      string
		AccessKey string
		TenantID  string
		Role      string
	}

	// APIError is a non-2xx reply from the server.
	APIError struct {
		StatusCode int
		Message    string
	}

	client struct {
		httpClient *http.Client
		baseUrl    string
		cfg        Config
	}
)

const (
	accessKeyHeader = "X-Access-Token"
	tenantHeader    = "X-Tenant-ID"
	roleHeader      = "X-Role"
)

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server replied %d", e.StatusCode)
	}
	return e.Message
}

func NewClient(cfg Config) Client {
	host := strings.TrimSuffix(cfg.Host, "/")
	if !strings.HasSuffix(host, "/v1") {
		host += "/v1"
	}

	return &client{
		httpClient: &http.Client{},
		baseUrl:    host + "/",
		cfg:        cfg,
	}
}

func (c client) Do(ctx context.Context, param Params) error {
	resp, err := c.send(ctx, param)
	if err != nil {
		return err
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.parseError(resp.StatusCode, responseBody)
	}

	if param.Response != nil {
		if err := json.Unmarshal(responseBody, param.Response); err != nil {
			return errors.Wrap(err, "unexpected response from server")
		}
	}
	return nil
}

// Stream returns the raw body of a long-lived response; the caller closes it.
func (c client) Stream(ctx context.Context, param Params) (io.ReadCloser, error) {
	resp, err := c.send(ctx, param)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer func() {
			_ = resp.Body.Close()
		}()
		body, _ := io.ReadAll(resp.Body)
		return nil, c.parseError(resp.StatusCode, body)
	}
	return resp.Body, nil
}

func (c client) send(ctx context.Context, param Params) (*http.Response, error) {
	requestUrl, err := url.Parse(c.baseUrl + strings.TrimPrefix(param.Path, "/"))
	if err != nil {
		return nil, err
	}

	if len(param.QueryParams) > 0 {
		values := url.Values{}
		for k, v := range param.QueryParams {
			if v != "" {
				values.Add(k, v)
			}
		}
		requestUrl.RawQuery = values.Encode()
	}

	var body io.Reader
	if param.Body != nil {
		bodyBin, err := json.Marshal(param.Body)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(bodyBin)
	}

	req, err := http.NewRequestWithContext(ctx, param.Method, requestUrl.String(), body)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	if c.cfg.AccessKey != "" {
		req.Header.Set(accessKeyHeader, c.cfg.AccessKey)
	}
	if c.cfg.TenantID != "" {
		req.Header.Set(tenantHeader, c.cfg.TenantID)
	}
	if c.cfg.Role != "" {
		req.Header.Set(roleHeader, c.cfg.Role)
	}

	return c.httpClient.Do(req)
}

func (c client) parseError(status int, b []byte) error {
	var errorResponse struct {
		Message string `json:"message"`
	}
	_ = json.Unmarshal(b, &errorResponse)
	return &APIError{StatusCode: status, Message: errorResponse.Message}
}
