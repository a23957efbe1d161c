package xui

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Gateway is the provisioning capability the rest of the service depends
// on. Operations are idempotent and keyed by the stable client key plus the
// buyer's telegram id; "already in the desired state" is success, a failing
// panel is an error left to the task queue's retry.
type Gateway interface {
	EnsureActive(clientKey string, telegramID int64) error
	Disable(clientKey string, telegramID int64) error
}

type Client struct {
	BaseURL    string
	Username   string
	Password   string
	InboundID  int
	HTTPClient *http.Client

	mu       sync.Mutex
	loggedIn bool
}

func NewClient(baseURL, username, password string, inboundID int) *Client {
	jar, _ := cookiejar.New(nil)
	return &Client{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		Username:  username,
		Password:  password,
		InboundID: inboundID,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
			Jar:     jar,
		},
	}
}

// EnsureActive creates the client enabled when the panel has never seen it,
// and re-enables it otherwise.
func (c *Client) EnsureActive(clientKey string, telegramID int64) error {
	if err := c.ensureLogin(); err != nil {
		return err
	}

	email := fmt.Sprintf("%d", telegramID)
	exists, err := c.clientExists(email)
	if err != nil {
		return err
	}

	cfg := ClientConfig{
		ID:     clientKey,
		Email:  email,
		Enable: true,
	}
	if !exists {
		return c.addClient(cfg)
	}
	return c.updateClient(clientKey, cfg)
}

// Disable turns the client off. A client the panel does not know about is
// already in the desired state.
func (c *Client) Disable(clientKey string, telegramID int64) error {
	if err := c.ensureLogin(); err != nil {
		return err
	}

	email := fmt.Sprintf("%d", telegramID)
	exists, err := c.clientExists(email)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}

	return c.updateClient(clientKey, ClientConfig{
		ID:     clientKey,
		Email:  email,
		Enable: false,
	})
}

func (c *Client) ensureLogin() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loggedIn {
		return nil
	}

	form := url.Values{}
	form.Set("username", c.Username)
	form.Set("password", c.Password)

	resp, err := c.HTTPClient.PostForm(fmt.Sprintf("%s/login", c.BaseURL), form)
	if err != nil {
		return fmt.Errorf("panel login request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read login response: %w", err)
	}

	var api apiResponse
	if err := json.Unmarshal(body, &api); err != nil {
		return fmt.Errorf("failed to unmarshal login response: %w", err)
	}
	if !api.Success {
		return fmt.Errorf("panel login rejected: %s", api.Msg)
	}

	c.loggedIn = true
	return nil
}

func (c *Client) clientExists(email string) (bool, error) {
	body, err := c.doRequest("GET", fmt.Sprintf("/panel/api/inbounds/getClientTraffics/%s", email), nil)
	if err != nil {
		return false, err
	}

	var api apiResponse
	if err := json.Unmarshal(body, &api); err != nil {
		return false, fmt.Errorf("failed to unmarshal traffic response: %w", err)
	}
	if !api.Success {
		return false, fmt.Errorf("panel lookup failed: %s", api.Msg)
	}

	// The panel answers success with a null object for unknown clients.
	if len(api.Obj) == 0 {
		return false, nil
	}
	var traffic *clientTraffic
	if err := json.Unmarshal(api.Obj, &traffic); err != nil {
		return false, fmt.Errorf("failed to unmarshal client traffic: %w", err)
	}
	return traffic != nil, nil
}

func (c *Client) addClient(cfg ClientConfig) error {
	return c.postClients("/panel/api/inbounds/addClient", cfg)
}

func (c *Client) updateClient(clientKey string, cfg ClientConfig) error {
	return c.postClients(fmt.Sprintf("/panel/api/inbounds/updateClient/%s", clientKey), cfg)
}

func (c *Client) postClients(endpoint string, cfg ClientConfig) error {
	settings, err := json.Marshal(clientSettings{Clients: []ClientConfig{cfg}})
	if err != nil {
		return fmt.Errorf("failed to marshal client settings: %w", err)
	}

	body, err := c.doRequest("POST", endpoint, addClientRequest{
		ID:       c.InboundID,
		Settings: string(settings),
	})
	if err != nil {
		return err
	}

	var api apiResponse
	if err := json.Unmarshal(body, &api); err != nil {
		return fmt.Errorf("failed to unmarshal panel response: %w", err)
	}
	if !api.Success {
		return fmt.Errorf("panel request rejected: %s", api.Msg)
	}
	return nil
}

func (c *Client) doRequest(method, endpoint string, body interface{}) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequest(method, fmt.Sprintf("%s%s", c.BaseURL, endpoint), bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		// Session expired; the next attempt logs in again.
		c.mu.Lock()
		c.loggedIn = false
		c.mu.Unlock()
		return nil, errors.New("panel session expired")
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("api error: %s (status: %d)", string(respBody), resp.StatusCode)
	}

	return respBody, nil
}
