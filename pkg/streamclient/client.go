// Package streamclient is the embedded consumer for the telemetry push
// stream. It keeps a websocket subscription alive and degrades to polling
// the snapshot endpoint whenever the push channel is down, so dashboards
// keep receiving data either way.
package streamclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
)

// State describes the delivery mode of the client.
type State int

const (
	StateConnected State = iota
	StateReconnecting
	StatePolling
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StatePolling:
		return "polling"
	default:
		return "unknown"
	}
}

// Envelope mirrors the payload wrapper used on every stream topic.
type Envelope struct {
	Topic     string          `json:"topic"`
	EmittedAt time.Time       `json:"emitted_at"`
	Data      json.RawMessage `json:"data"`
}

// Options configure a Client. BaseURL and Token are required.
type Options struct {
	BaseURL          string
	Token            string
	Topics           []string
	PollInterval     time.Duration
	ReconnectBackoff time.Duration
	Logger           *slog.Logger
	OnEnvelope       func(Envelope)
	OnStateChange    func(State)
}

const (
	defaultPollInterval     = 15 * time.Second
	defaultReconnectBackoff = 3 * time.Second
)

// Client consumes the telemetry stream with automatic degradation.
type Client struct {
	baseURL    *url.URL
	token      string
	topics     string
	poll       time.Duration
	backoff    time.Duration
	logger     *slog.Logger
	onEnvelope func(Envelope)
	onState    func(State)
	httpClient *http.Client

	mu       sync.Mutex
	state    State
	lastSeen map[string]time.Time
}

// New validates options and returns a Client ready to Run.
func New(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimSpace(opts.BaseURL))
	if err != nil || base.Host == "" {
		return nil, errors.New("streamclient: invalid base URL")
	}
	if strings.TrimSpace(opts.Token) == "" {
		return nil, errors.New("streamclient: token is required")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.ReconnectBackoff <= 0 {
		opts.ReconnectBackoff = defaultReconnectBackoff
	}
	logger := opts.Logger
	if logger != nil {
		logger = logger.With("component", "streamclient")
	}
	return &Client{
		baseURL:    base,
		token:      opts.Token,
		topics:     strings.Join(opts.Topics, ","),
		poll:       opts.PollInterval,
		backoff:    opts.ReconnectBackoff,
		logger:     logger,
		onEnvelope: opts.OnEnvelope,
		onState:    opts.OnStateChange,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		state:      StateReconnecting,
		lastSeen:   make(map[string]time.Time),
	}, nil
}

// State reports the current delivery mode.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Run drives the client until the context is cancelled. Push is preferred;
// while push is down the client polls the snapshot endpoint on the poll
// interval so no payload shape is lost, and a successful reconnect stops
// the polling immediately.
func (c *Client) Run(ctx context.Context) error {
	for {
		conn, err := c.dial(ctx)
		if err != nil {
			conn, err = c.degraded(ctx)
			if err != nil {
				return err
			}
		}
		c.setState(StateConnected)
		c.readLoop(ctx, conn)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.setState(StateReconnecting)
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	wsURL := *c.baseURL
	switch wsURL.Scheme {
	case "https":
		wsURL.Scheme = "wss"
	default:
		wsURL.Scheme = "ws"
	}
	wsURL.Path = "/ws/stream"
	if c.topics != "" {
		wsURL.RawQuery = url.Values{"topics": {c.topics}}.Encode()
	}
	header := http.Header{"Authorization": {"Bearer " + c.token}}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL.String(), header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial stream: %w", err)
	}
	return conn, nil
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && c.logger != nil {
				c.logger.Warn("push channel lost", "error", err)
			}
			return
		}
		var env Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			if c.logger != nil {
				c.logger.Warn("malformed stream payload", "error", err)
			}
			continue
		}
		c.dispatch(env)
	}
}

// degraded polls snapshots while retrying the websocket. Returns the new
// connection once redial succeeds.
func (c *Client) degraded(ctx context.Context) (*websocket.Conn, error) {
	c.setState(StatePolling)
	c.pollOnce(ctx)

	poll := time.NewTicker(c.poll)
	defer poll.Stop()
	retry := time.NewTicker(c.backoff)
	defer retry.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-poll.C:
			c.pollOnce(ctx)
		case <-retry.C:
			if conn, err := c.dial(ctx); err == nil {
				return conn, nil
			}
		}
	}
}

func (c *Client) pollOnce(ctx context.Context) {
	snapURL := *c.baseURL
	snapURL.Path = "/api/stream/snapshot"
	if c.topics != "" {
		snapURL.RawQuery = url.Values{"topics": {c.topics}}.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, snapURL.String(), nil)
	if err != nil {
		return
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() == nil && c.logger != nil {
			c.logger.Warn("snapshot poll failed", "error", err)
		}
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		if c.logger != nil {
			c.logger.Warn("snapshot poll rejected", "status", resp.StatusCode)
		}
		return
	}
	var snapshot struct {
		GeneratedAt time.Time                  `json:"generated_at"`
		Topics      map[string]json.RawMessage `json:"topics"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
		if c.logger != nil {
			c.logger.Warn("malformed snapshot", "error", err)
		}
		return
	}
	for _, raw := range snapshot.Topics {
		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			continue
		}
		c.dispatch(env)
	}
}

// dispatch forwards an envelope once. Snapshots overlap with pushed
// payloads after a reconnect, so repeats per topic are suppressed by
// emission time.
func (c *Client) dispatch(env Envelope) {
	c.mu.Lock()
	last, seen := c.lastSeen[env.Topic]
	if seen && !env.EmittedAt.After(last) {
		c.mu.Unlock()
		return
	}
	c.lastSeen[env.Topic] = env.EmittedAt
	c.mu.Unlock()
	if c.onEnvelope != nil {
		c.onEnvelope(env)
	}
}

func (c *Client) setState(next State) {
	c.mu.Lock()
	changed := c.state != next
	c.state = next
	c.mu.Unlock()
	if !changed {
		return
	}
	if c.logger != nil {
		c.logger.Info("stream state changed", "state", next.String())
	}
	if c.onState != nil {
		c.onState(next)
	}
}
