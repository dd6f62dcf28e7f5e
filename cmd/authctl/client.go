package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"golang.org/x/term"
)

// rpcError mirrors the server's wire error.
type rpcError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

// Client speaks the broker's JSON-lines protocol over one connection.
// The server ties authentication to the connection, so a Client
// authenticates once and issues all of its calls on the same socket.
type Client struct {
	conn   net.Conn
	enc    *json.Encoder
	dec    *json.Decoder
	nextID int
}

// dial connects to "unix:///path" or "host:port".
func dial(addr string) (*Client, error) {
	network, address, err := parseAddress(addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.DialTimeout(network, address, 10*time.Second)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, enc: json.NewEncoder(conn), dec: json.NewDecoder(bufio.NewReader(conn))}, nil
}

// newClient connects using the current config and authenticates with
// whatever it carries: an API key, a token from AUTHCTL_TOKEN, or an
// interactive password prompt. Unix socket peers may already be
// authenticated by the server.
func newClient() (*Client, error) {
	addr := cfg.Address
	if v := os.Getenv("AUTHCTL_ADDR"); v != "" {
		addr = v
	}
	c, err := dial(addr)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}
	if err := c.authenticate(); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) authenticate() error {
	var ok bool
	switch {
	case cfg.APIKey != "":
		if err := c.callInto(&ok, "auth.login_with_api_key", cfg.APIKey); err != nil {
			return err
		}
	case os.Getenv("AUTHCTL_TOKEN") != "":
		if err := c.callInto(&ok, "auth.login_with_token", os.Getenv("AUTHCTL_TOKEN")); err != nil {
			return err
		}
	case cfg.Username != "":
		return c.loginInteractive(cfg.Username)
	default:
		return nil
	}
	if !ok {
		return errors.New("authentication failed")
	}
	return nil
}

func (c *Client) loginInteractive(username string) error {
	password, err := prompt("Password: ", true)
	if err != nil {
		return err
	}
	var twoFactor bool
	if err := c.callInto(&twoFactor, "auth.two_factor_auth"); err != nil {
		return err
	}
	var otp any
	if twoFactor {
		code, err := prompt("OTP: ", false)
		if err != nil {
			return err
		}
		otp = code
	}
	var ok bool
	if err := c.callInto(&ok, "auth.login", username, password, otp); err != nil {
		return err
	}
	if !ok {
		return errors.New("login failed")
	}
	return nil
}

// prompt reads a line from the terminal, without echo when secret.
func prompt(label string, secret bool) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("no terminal available for interactive prompt")
	}
	fmt.Fprint(os.Stderr, label)
	if secret {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading input: %w", err)
		}
		return string(b), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("reading input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

type request struct {
	ID     int    `json:"id"`
	Method string `json:"method"`
	Params []any  `json:"params"`
}

type response struct {
	ID     *int            `json:"id"`
	Msg    string          `json:"msg"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (c *Client) call(method string, params ...any) (json.RawMessage, error) {
	c.nextID++
	if params == nil {
		params = []any{}
	}
	if err := c.enc.Encode(request{ID: c.nextID, Method: method, Params: params}); err != nil {
		return nil, err
	}
	for {
		var resp response
		if err := c.dec.Decode(&resp); err != nil {
			return nil, err
		}
		// Events for subscriptions are not used by the CLI.
		if resp.Msg == "event" || resp.ID == nil || *resp.ID != c.nextID {
			continue
		}
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	}
}

func (c *Client) callInto(dst any, method string, params ...any) error {
	raw, err := c.call(method, params...)
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

func (c *Client) Close() error {
	return c.conn.Close()
}
