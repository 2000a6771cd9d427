package internal

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var (
	httpTimeout = 5 * time.Second
	runTimeout  = 30 * time.Second
)

type sessionFile struct {
	Username    string `json:"username"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Token       string `json:"token"`
}

type historyResponse struct {
	Messages []ChatEvent `json:"messages"`
}

func apiSignup(baseURL, username, password string) error {
	payload := signupRequest{Username: username, Password: password}
	return doJSONRequest(http.MethodPost, baseURL+"/signup", "", payload, nil, httpTimeout)
}

func apiLogin(baseURL, username, password string) (*loginResponse, error) {
	payload := loginRequest{Username: username, Password: password}
	var resp loginResponse
	if err := doJSONRequest(http.MethodPost, baseURL+"/login", "", payload, &resp, httpTimeout); err != nil {
		return nil, err
	}
	return &resp, nil
}

func apiCreateRoom(baseURL, token, name string) (*roomResponse, error) {
	var resp roomResponse
	if err := doJSONRequest(http.MethodPost, baseURL+"/api/rooms", token, createRoomRequest{Name: name}, &resp, httpTimeout); err != nil {
		return nil, err
	}
	return &resp, nil
}

func apiHistory(baseURL, token, roomID string) ([]ChatEvent, error) {
	endpoint := baseURL + "/chat/messages?roomId=" + url.QueryEscape(roomID)
	var resp historyResponse
	if err := doJSONRequest(http.MethodGet, endpoint, token, nil, &resp, httpTimeout); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

func apiRun(baseURL, token, language, code string) (RunResult, error) {
	var resp RunResult
	err := doJSONRequest(http.MethodPost, baseURL+"/api/run", token, RunRequest{Language: language, Code: code}, &resp, runTimeout)
	return resp, err
}

func doJSONRequest(method, endpoint, token string, payload interface{}, out interface{}, timeout time.Duration) error {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewBuffer(buf)
	}
	req, err := http.NewRequest(method, endpoint, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return errUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, readResponseError(resp.Body))
	}
	if out == nil {
		return nil
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

func readResponseError(body io.Reader) string {
	data, err := io.ReadAll(body)
	if err != nil || len(data) == 0 {
		return "request failed"
	}
	var parsed map[string]string
	if err := json.Unmarshal(data, &parsed); err == nil {
		if msg, ok := parsed["error"]; ok {
			return msg
		}
	}
	return strings.TrimSpace(string(data))
}

func httpBaseFromWSURL(wsURL string) (string, error) {
	parsed, err := url.Parse(wsURL)
	if err != nil {
		return "", err
	}
	switch parsed.Scheme {
	case "ws":
		parsed.Scheme = "http"
	case "wss":
		parsed.Scheme = "https"
	default:
		return "", fmt.Errorf("unsupported scheme %s", parsed.Scheme)
	}
	parsed.Path = ""
	parsed.RawQuery = ""
	parsed.Fragment = ""
	return strings.TrimRight(parsed.String(), "/"), nil
}

func loadSessionFromDisk(path string) (*sessionFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var session sessionFile
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, err
	}
	if session.Username == "" || session.Token == "" {
		return nil, errors.New("session file incomplete")
	}
	return &session, nil
}

func saveSessionToDisk(path string, session sessionFile) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func deleteSessionFile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
