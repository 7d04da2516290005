package chat

import (
	"encoding/json"
	"fmt"
)

// Message types.
const (
	TypeConnect      = "connect"
	TypeMessage      = "message"
	TypeAnnouncement = "announcement"
	TypeLocation     = "location"
	TypeError        = "error"
)

// Texts sent by the server.
const (
	TextJoined        = "bergabung!"
	TextUsernameInUse = "Username is already in use."
)

// timeLayout is HH:MM:SS.
const timeLayout = "15:04:05"

// Request is a message received from a client.
type Request struct {
	Type     string   `json:"type"`
	Username string   `json:"username"`
	Message  string   `json:"message,omitempty"`
	Lat      *float64 `json:"lat,omitempty"`
	Lon      *float64 `json:"lon,omitempty"`
}

// ChatMessage is a chat line or announcement delivered to clients.
type ChatMessage struct {
	Username string `json:"username"`
	Message  string `json:"message"`
	Time     string `json:"time"`
	Type     string `json:"type"`
}

// Location is the last known position of a user.
type Location struct {
	Type     string  `json:"type"`
	Username string  `json:"username"`
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
}

// ErrorMessage is sent to a client before its connection is closed.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func parseRequest(text string) (req Request, err error) {
	if err = json.Unmarshal([]byte(text), &req); err != nil {
		return req, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	if req.Type == "" {
		return req, fmt.Errorf("%w: missing type", ErrBadRequest)
	}
	return req, nil
}

func encode(v any) string {
	p, err := json.Marshal(v)
	if err != nil {
		// Message types above always marshal.
		panic(err)
	}
	return string(p)
}
