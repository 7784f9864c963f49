// voxchat is a small interactive client for the relay's text endpoints.
// It sends each stdin line as one conversation turn and prints the reply.
// Type /reset to clear the session, /quit to exit.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

type options struct {
	baseURL string
	session string
	model   string
	system  string
	useWS   bool
	timeout time.Duration
}

type turnRequest struct {
	Text    string `json:"text"`
	Session string `json:"session,omitempty"`
	Model   string `json:"llm_model,omitempty"`
	System  string `json:"system,omitempty"`
	Reset   bool   `json:"reset,omitempty"`
}

type turnResponse struct {
	OK    bool   `json:"ok"`
	Reply string `json:"reply"`
	Model string `json:"model"`
	Error string `json:"error"`
	Code  string `json:"code"`
}

func main() {
	var opts options
	flag.StringVar(&opts.baseURL, "url", "http://127.0.0.1:8787", "relay base URL")
	flag.StringVar(&opts.session, "session", "voxchat", "session key")
	flag.StringVar(&opts.model, "model", "", "model override")
	flag.StringVar(&opts.system, "system", "", "system directive for the session")
	flag.BoolVar(&opts.useWS, "ws", false, "use the websocket endpoint instead of HTTP")
	flag.DurationVar(&opts.timeout, "timeout", 90*time.Second, "per-turn timeout")
	flag.Parse()

	var send func(turnRequest) (turnResponse, error)
	if opts.useWS {
		conn, err := dialWS(opts)
		if err != nil {
			fmt.Fprintf(os.Stderr, "websocket dial failed: %v\n", err)
			os.Exit(1)
		}
		defer conn.Close()
		send = func(req turnRequest) (turnResponse, error) {
			return wsTurn(conn, req, opts.timeout)
		}
	} else {
		client := &http.Client{Timeout: opts.timeout}
		send = func(req turnRequest) (turnResponse, error) {
			return httpTurn(client, opts.baseURL, req)
		}
	}

	fmt.Printf("session %q ready, /reset clears it, /quit exits\n", opts.session)
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	firstTurn := true

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit" || line == "/exit":
			return
		case line == "/reset":
			if _, err := send(turnRequest{Session: opts.session, Reset: true}); err != nil {
				fmt.Fprintf(os.Stderr, "reset failed: %v\n", err)
				continue
			}
			firstTurn = true
			fmt.Println("session cleared")
			continue
		}

		req := turnRequest{
			Text:    line,
			Session: opts.session,
			Model:   opts.model,
		}
		// The directive is sticky server-side; sending it once is enough.
		if firstTurn {
			req.System = opts.system
		}

		res, err := send(req)
		if err != nil {
			fmt.Fprintf(os.Stderr, "turn failed: %v\n", err)
			continue
		}
		if !res.OK {
			fmt.Fprintf(os.Stderr, "relay error (%s): %s\n", res.Code, res.Error)
			continue
		}
		firstTurn = false
		fmt.Println(res.Reply)
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "stdin error: %v\n", err)
		os.Exit(1)
	}
}

func httpTurn(client *http.Client, baseURL string, req turnRequest) (turnResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return turnResponse{}, err
	}
	httpRes, err := client.Post(strings.TrimRight(baseURL, "/")+"/llm", "application/json", bytes.NewReader(payload))
	if err != nil {
		return turnResponse{}, err
	}
	defer httpRes.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpRes.Body, 1<<20))
	if err != nil {
		return turnResponse{}, err
	}
	var res turnResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return turnResponse{}, fmt.Errorf("unexpected response (%d): %s", httpRes.StatusCode, strings.TrimSpace(string(body)))
	}
	return res, nil
}

func dialWS(opts options) (*websocket.Conn, error) {
	u, err := url.Parse(opts.baseURL)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/chat/ws"
	conn, res, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if res != nil {
		res.Body.Close()
	}
	return conn, err
}

func wsTurn(conn *websocket.Conn, req turnRequest, timeout time.Duration) (turnResponse, error) {
	_ = conn.SetWriteDeadline(time.Now().Add(timeout))
	if err := conn.WriteJSON(req); err != nil {
		return turnResponse{}, err
	}
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	var res turnResponse
	if err := conn.ReadJSON(&res); err != nil {
		return turnResponse{}, err
	}
	return res, nil
}
