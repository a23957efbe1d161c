package xui

import "encoding/json"

// 3x-ui wraps every API response in this envelope.
type apiResponse struct {
	Success bool            `json:"success"`
	Msg     string          `json:"msg"`
	Obj     json.RawMessage `json:"obj"`
}

// ClientConfig is one client entry inside an inbound. Email doubles as the
// panel-side lookup key; ID is the stable vless uuid.
type ClientConfig struct {
	ID     string `json:"id"`
	Email  string `json:"email"`
	Enable bool   `json:"enable"`
	Flow   string `json:"flow,omitempty"`
}

type clientTraffic struct {
	ID      int    `json:"id"`
	Email   string `json:"email"`
	Enable  bool   `json:"enable"`
	Up      int64  `json:"up"`
	Down    int64  `json:"down"`
	Total   int64  `json:"total"`
	ExpTime int64  `json:"expiryTime"`
}

// addClientRequest carries the clients list pre-serialized, the way the
// panel expects it.
type addClientRequest struct {
	ID       int    `json:"id"`
	Settings string `json:"settings"`
}

type clientSettings struct {
	Clients []ClientConfig `json:"clients"`
}
