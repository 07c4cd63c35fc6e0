package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
)

// ICE servers come from one of two places, checked in order:
//
//  1. ROVERLINK_ICE_SERVERS_JSON: a JSON array in the browser RTCIceServer
//     shape, for deployments that template the whole list.
//  2. The flat convenience vars ROVERLINK_STUN_URLS and ROVERLINK_TURN_URLS
//     (comma-separated), with ROVERLINK_TURN_USERNAME / _CREDENTIAL applied
//     to the TURN entry.
//
// Load defers any error from here into Config.ICEConfigError: a bad TURN
// entry must not keep the rover from starting with host candidates on a LAN.

const (
	envICEServersJSON = "ROVERLINK_ICE_SERVERS_JSON"

	envStunURLs       = "ROVERLINK_STUN_URLS"
	envTurnURLs       = "ROVERLINK_TURN_URLS"
	envTurnUsername   = "ROVERLINK_TURN_USERNAME"
	envTurnCredential = "ROVERLINK_TURN_CREDENTIAL"
)

func parseICEServersFromValues(iceServersJSON, stunURLs, turnURLs, turnUsername, turnCredential string) ([]webrtc.ICEServer, error) {
	if raw := strings.TrimSpace(iceServersJSON); raw != "" {
		return parseICEServersJSON(raw)
	}
	return convenienceICEServers(stunURLs, turnURLs, turnUsername, turnCredential)
}

func parseICEServersJSON(raw string) ([]webrtc.ICEServer, error) {
	var entries []struct {
		URLs       json.RawMessage `json:"urls"`
		Username   string          `json:"username"`
		Credential string          `json:"credential"`
	}
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&entries); err != nil {
		return nil, fmt.Errorf("%s: %w", envICEServersJSON, err)
	}

	servers := make([]webrtc.ICEServer, 0, len(entries))
	for i, entry := range entries {
		urls, err := decodeURLList(entry.URLs)
		if err != nil {
			return nil, fmt.Errorf("%s: servers[%d]: %w", envICEServersJSON, i, err)
		}
		server, err := newICEServer(urls, entry.Username, entry.Credential)
		if err != nil {
			return nil, fmt.Errorf("%s: servers[%d]: %w", envICEServersJSON, i, err)
		}
		servers = append(servers, server)
	}
	return servers, nil
}

// decodeURLList accepts both RTCIceServer.urls shapes: a single string or an
// array of strings.
func decodeURLList(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 {
		return nil, errors.New("missing urls")
	}
	if bytes.HasPrefix(bytes.TrimSpace(raw), []byte("[")) {
		var urls []string
		if err := json.Unmarshal(raw, &urls); err != nil {
			return nil, fmt.Errorf("urls: %w", err)
		}
		return urls, nil
	}
	var url string
	if err := json.Unmarshal(raw, &url); err != nil {
		return nil, fmt.Errorf("urls: %w", err)
	}
	return []string{url}, nil
}

func convenienceICEServers(stunURLs, turnURLs, turnUsername, turnCredential string) ([]webrtc.ICEServer, error) {
	var servers []webrtc.ICEServer

	if urls := splitURLList(stunURLs); len(urls) > 0 {
		server, err := newICEServer(urls, "", "")
		if err != nil {
			return nil, fmt.Errorf("%s: %w", envStunURLs, err)
		}
		servers = append(servers, server)
	}

	if urls := splitURLList(turnURLs); len(urls) > 0 {
		server, err := newICEServer(urls, turnUsername, turnCredential)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", envTurnURLs, err)
		}
		servers = append(servers, server)
	}

	return servers, nil
}

// newICEServer validates the urls and attaches credentials. TURN entries
// require both a username and a credential; STUN entries carry none.
func newICEServer(urls []string, username, credential string) (webrtc.ICEServer, error) {
	username = strings.TrimSpace(username)
	credential = strings.TrimSpace(credential)

	cleaned := make([]string, 0, len(urls))
	turn := false
	for _, raw := range urls {
		url := strings.TrimSpace(raw)
		if url == "" {
			continue
		}
		scheme, _, ok := strings.Cut(url, ":")
		if !ok {
			return webrtc.ICEServer{}, fmt.Errorf("url %q has no scheme", url)
		}
		switch scheme {
		case "stun", "stuns":
		case "turn", "turns":
			turn = true
		default:
			return webrtc.ICEServer{}, fmt.Errorf("url %q: unsupported scheme %q", url, scheme)
		}
		cleaned = append(cleaned, url)
	}
	if len(cleaned) == 0 {
		return webrtc.ICEServer{}, errors.New("missing urls")
	}

	if turn && (username == "" || credential == "") {
		return webrtc.ICEServer{}, errors.New("turn urls require a username and credential")
	}

	server := webrtc.ICEServer{URLs: cleaned, Username: username}
	if credential != "" {
		server.Credential = credential
	}
	return server, nil
}

func splitURLList(value string) []string {
	var urls []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			urls = append(urls, part)
		}
	}
	return urls
}
