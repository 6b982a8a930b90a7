package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"nhooyr.io/websocket"

	"canvas-sync/internal/ws"
)

type client struct {
	BaseURL string
	Project string
	Token   string
	HTTP    *http.Client
}

func (c *client) api(path string) string {
	return strings.TrimRight(c.BaseURL, "/") + "/api/" + url.PathEscape(c.Project) + path
}

func (c *client) do(ctx context.Context, method, u string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return c.HTTP.Do(req)
}

// call performs a JSON request and fails on any non-2xx status.
func (c *client) call(ctx context.Context, method, path string, in any) ([]byte, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(b)
	}
	resp, err := c.do(ctx, method, c.api(path), body, "application/json")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("%s %s: status=%d body=%s", method, path, resp.StatusCode, strings.TrimSpace(string(out)))
	}
	return out, nil
}

func (c *client) wsURL() string {
	u := strings.TrimRight(c.BaseURL, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws?project=" + url.QueryEscape(c.Project)
}

// session holds a live connection; mutations must name a connected
// client id.
type session struct {
	conn     *websocket.Conn
	clientID string
}

func (c *client) open(ctx context.Context) (*session, error) {
	conn, _, err := websocket.Dial(ctx, c.wsURL(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	conn.SetReadLimit(64 << 20)
	f, err := readFrame(ctx, conn)
	if err != nil {
		conn.Close(websocket.StatusInternalError, "")
		return nil, err
	}
	if f.Type != ws.TypeRegisterUser {
		conn.Close(websocket.StatusProtocolError, "")
		return nil, fmt.Errorf("expected %s, got %q", ws.TypeRegisterUser, f.Type)
	}
	return &session{conn: conn, clientID: f.ClientID}, nil
}

func (s *session) Close() { s.conn.Close(websocket.StatusNormalClosure, "bye") }

type frame struct {
	ClientID string          `json:"clientId"`
	Type     string          `json:"type"`
	Data     json.RawMessage `json:"data"`
}

func readFrame(ctx context.Context, conn *websocket.Conn) (frame, error) {
	_, b, err := conn.Read(ctx)
	if err != nil {
		return frame{}, err
	}
	var f frame
	if err := json.Unmarshal(b, &f); err != nil {
		// relayed peer frames are opaque
		return frame{Data: b}, nil
	}
	return f, nil
}

func printJSON(w io.Writer, raw []byte) {
	var v any
	if json.Unmarshal(raw, &v) == nil {
		p, _ := json.MarshalIndent(v, "", "  ")
		fmt.Fprintln(w, string(p))
		return
	}
	fmt.Fprintln(w, string(raw))
}
