package integrations

import (
	"bytes"
	"context"
	"fmt"
	"github.com/goccy/go-json"
	"io"
	"net/http"
	"time"
)

type HttpClient interface {
	Do(ctx context.Context, method, requestUrl string, body, response interface{}) error
}

type impl struct {
	client  *http.Client
	baseUrl string
}

func NewHttpClient(baseUrl string) HttpClient {
	return impl{client: &http.Client{Timeout: 30 * time.Second}, baseUrl: baseUrl}
}

func (c impl) Do(ctx context.Context, method, requestUrl string, body, response interface{}) error {
	var reqBody io.Reader
	if body != nil {
		bodyBin, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(bodyBin)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseUrl+requestUrl, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
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
		return fmt.Errorf("request failed: %d %s", resp.StatusCode, string(responseBody))
	}

	if response != nil && len(responseBody) > 0 {
		if err := json.Unmarshal(responseBody, response); err != nil {
			return err
		}
	}
	return nil
}
