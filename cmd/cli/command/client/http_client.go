package client

// http_client.go = REST client for the relay's /api routes.

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"panelbridge/internal/microservices/http-api/dto"
	"panelbridge/internal/microservices/relay"
)

// APIError is a non-2xx reply from the relay
type APIError struct {
	Status int
	Msg    string
	Code   string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%d %s (%s)", e.Status, e.Msg, e.Code)
	}
	return fmt.Sprintf("%d %s", e.Status, e.Msg)
}

// IsStatus reports whether err is an APIError with the given status
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	token      string
	adminUser  string
	adminPass  string
}

func NewHTTPClient(apiURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(apiURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// SetToken sets the panel token sent as a bearer token
func (c *HTTPClient) SetToken(token string) {
	c.token = token
}

// SetAdmin sets the basic auth credentials for the admin routes
func (c *HTTPClient) SetAdmin(user, password string) {
	c.adminUser = user
	c.adminPass = password
}

func (c *HTTPClient) Health() (*dto.HealthResponse, error) {
	var out dto.HealthResponse
	if err := c.do(http.MethodGet, "/healthz", nil, false, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) State() (*dto.StateResponse, error) {
	var out dto.StateResponse
	if err := c.do(http.MethodGet, "/api/state", nil, false, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) Stats() (*relay.StatsSnapshot, error) {
	var out relay.StatsSnapshot
	if err := c.do(http.MethodGet, "/api/stats", nil, false, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SendCommand posts one pipe command, e.g. "counter|increment"
func (c *HTTPClient) SendCommand(raw string) (*dto.CommandResponse, error) {
	var out dto.CommandResponse
	if err := c.do(http.MethodPost, "/api/commands", dto.CommandRequest{Command: raw}, false, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SendEnvelope posts one JSON envelope as-is
func (c *HTTPClient) SendEnvelope(envelope json.RawMessage) (*dto.CommandResponse, error) {
	var out dto.CommandResponse
	if err := c.do(http.MethodPost, "/api/commands", dto.CommandRequest{Envelope: envelope}, false, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) IssueToken(panel string) (*dto.IssueTokenResponse, error) {
	var out dto.IssueTokenResponse
	if err := c.do(http.MethodPost, "/api/tokens", dto.IssueTokenRequest{Panel: panel}, true, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) RecentCommands(limit int) (*dto.RecentCommandsResponse, error) {
	path := "/api/commands/recent"
	if limit > 0 {
		path += "?" + url.Values{"limit": {strconv.Itoa(limit)}}.Encode()
	}
	var out dto.RecentCommandsResponse
	if err := c.do(http.MethodGet, path, nil, true, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) do(method, path string, body any, admin bool, out any) error {
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if admin {
		req.SetBasicAuth(c.adminUser, c.adminPass)
	} else if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	response, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		var apiErr dto.ErrorResponse
		if err := json.NewDecoder(response.Body).Decode(&apiErr); err != nil || apiErr.Error == "" {
			apiErr.Error = http.StatusText(response.StatusCode)
		}
		return &APIError{Status: response.StatusCode, Msg: apiErr.Error, Code: apiErr.Code}
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(response.Body).Decode(out)
}
