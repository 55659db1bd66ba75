package deriv

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"dtrader/logger"
	"dtrader/metrics"
)

const (
	defaultPingInterval = 30 * time.Second
	defaultCallTimeout  = 15 * time.Second

	reconnectBase   = 1500 * time.Millisecond
	reconnectFactor = 1.8
	reconnectMax    = 30 * time.Second

	tickBuffer     = 256
	contractBuffer = 16
)

// Config configures a broker connection.
type Config struct {
	URL      string // base endpoint, e.g. wss://ws.derivws.com/websockets/v3
	AppID    string
	Token    string // API token; empty for a public (market data only) session
	Language string

	PingInterval time.Duration // application-level ping cadence
	CallTimeout  time.Duration // applied when the caller's context has no deadline

	// OnReconnect runs after a successful redial + reauthorize + resubscribe,
	// so owners can re-warm derived state (tick windows, balances).
	OnReconnect func()
}

func (c *Config) setDefaults() {
	if c.PingInterval <= 0 {
		c.PingInterval = defaultPingInterval
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = defaultCallTimeout
	}
	if c.Language == "" {
		c.Language = "en"
	}
}

// Client is a Deriv WebSocket API session: request/response correlation by
// req_id, long-lived subscription streams, keepalive and reconnect with
// resubscribe. One Client serves one token (authorize is per-connection).
type Client struct {
	cfg Config

	connMu sync.RWMutex
	conn   *websocket.Conn
	auth   *Authorize

	writeMu sync.Mutex

	reqID int64

	pendingMu sync.Mutex
	pending   map[int64]*pendingCall

	subsMu sync.RWMutex
	subs   map[string]*subscription

	done      chan struct{}
	closeOnce sync.Once

	errMu   sync.Mutex
	termErr error
}

type pendingCall struct {
	ch  chan callResult
	sub *subscription // non-nil when the call opens a stream
}

type callResult struct {
	raw []byte
	err error
}

// subscription is one live broker stream. The request is kept so the stream
// can be replayed on a fresh connection.
type subscription struct {
	key     string
	req     map[string]interface{}
	id      string
	deliver func(raw []byte)
	closeCh func()
}

// envelope is the part of every broker message this client routes on.
type envelope struct {
	MsgType      string          `json:"msg_type"`
	ReqID        int64           `json:"req_id"`
	Error        *APIError       `json:"error"`
	Subscription *subscriptionID `json:"subscription"`
}

// New creates a client; call Connect before use.
func New(cfg Config) *Client {
	cfg.setDefaults()
	return &Client{
		cfg:     cfg,
		pending: make(map[int64]*pendingCall),
		subs:    make(map[string]*subscription),
		done:    make(chan struct{}),
	}
}

// ============================================================================
// Connection lifecycle
// ============================================================================

// Connect dials the broker and authorizes when a token is configured.
func (c *Client) Connect(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	go c.readLoop(conn)
	go c.pingLoop(conn)

	if c.cfg.Token != "" {
		if _, err := c.Authorize(ctx); err != nil {
			c.Close()
			return fmt.Errorf("authorize failed: %w", err)
		}
	}
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	endpoint := fmt.Sprintf("%s?app_id=%s&l=%s",
		c.cfg.URL, url.QueryEscape(c.cfg.AppID), url.QueryEscape(c.cfg.Language))

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("deriv dial %s: %w", c.cfg.URL, err)
	}
	conn.SetReadLimit(1 << 20)
	return conn, nil
}

// Close shuts the session down. Safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)

		c.connMu.Lock()
		if c.conn != nil {
			_ = c.conn.Close()
			c.conn = nil
		}
		c.connMu.Unlock()

		c.failPending(ErrClosed)
		c.closeAllSubs()
	})
	return nil
}

// Done is closed when the client will never serve another call.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err returns the terminal error that stopped the client, if any.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.termErr
}

func (c *Client) setTerminal(err error) {
	c.errMu.Lock()
	if c.termErr == nil {
		c.termErr = err
	}
	c.errMu.Unlock()
}

func (c *Client) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// AuthorizeInfo returns the result of the last successful authorize.
func (c *Client) AuthorizeInfo() *Authorize {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.auth
}

// ============================================================================
// Pumps
// ============================================================================

func (c *Client) readLoop(conn *websocket.Conn) {
	readWait := 2*c.cfg.PingInterval + 10*time.Second
	for {
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			c.handleDisconnect(conn, err)
			return
		}
		c.dispatch(msg)
	}
}

func (c *Client) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			// application-level ping; any response refreshes the read deadline
			if err := c.writeRequest(map[string]interface{}{"ping": 1}); err != nil {
				_ = conn.Close()
				return
			}
			// pingLoop belongs to one physical connection
			if c.currentConn() != conn {
				return
			}
		}
	}
}

func (c *Client) currentConn() *websocket.Conn {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.conn
}

func (c *Client) dispatch(msg []byte) {
	var env envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		logger.Debugf("[Deriv] dropping unparseable message: %v", err)
		return
	}

	if env.Error != nil {
		metrics.APIErrors.WithLabelValues(env.Error.Code).Inc()
	}

	// response to a pending call
	if env.ReqID != 0 {
		c.pendingMu.Lock()
		pc, ok := c.pending[env.ReqID]
		if ok {
			delete(c.pending, env.ReqID)
		}
		c.pendingMu.Unlock()

		if ok {
			if env.Error != nil {
				pc.ch <- callResult{err: env.Error}
				return
			}
			// a call that opens a stream binds its subscription id here, so
			// stream updates arriving right behind the response find the sub
			if pc.sub != nil && env.Subscription != nil {
				c.bindSub(pc.sub, env.Subscription.ID)
				pc.sub.deliver(msg)
			}
			pc.ch <- callResult{raw: msg}
			return
		}
		// fallthrough: unsolicited response (e.g. fire-and-forget ping)
	}

	// stream update
	if env.Subscription != nil {
		c.subsMu.RLock()
		sub := c.subs[env.Subscription.ID]
		c.subsMu.RUnlock()
		if sub != nil {
			sub.deliver(msg)
			return
		}
	}

	if env.MsgType == "ping" || env.MsgType == "pong" {
		return
	}
	logger.Debugf("[Deriv] unroutable message type=%s", env.MsgType)
}

func (c *Client) bindSub(sub *subscription, id string) {
	c.subsMu.Lock()
	sub.id = id
	c.subs[id] = sub
	c.subsMu.Unlock()
}

func (c *Client) unbindSub(id string) *subscription {
	c.subsMu.Lock()
	sub := c.subs[id]
	delete(c.subs, id)
	c.subsMu.Unlock()
	return sub
}

// ============================================================================
// Reconnect
// ============================================================================

func (c *Client) handleDisconnect(conn *websocket.Conn, cause error) {
	_ = conn.Close()

	c.connMu.Lock()
	if c.conn != conn {
		// an overlapping reconnect already replaced this connection
		c.connMu.Unlock()
		return
	}
	c.conn = nil
	c.connMu.Unlock()

	// in-flight calls cannot be replayed safely (a buy may have landed)
	c.failPending(ErrClosed)

	if c.isClosed() {
		return
	}

	logger.Warnf("[Deriv] connection lost: %v, reconnecting...", cause)

	backoff := reconnectBase
	for {
		select {
		case <-c.done:
			return
		case <-time.After(backoff):
		}
		metrics.WSReconnects.Inc()

		if err := c.redial(); err != nil {
			if IsTerminal(err) {
				logger.Errorf("[Deriv] ❌ reconnect rejected, stopping client: %v", err)
				c.setTerminal(err)
				c.Close()
				return
			}
			logger.Warnf("[Deriv] reconnect failed: %v", err)
			backoff = time.Duration(math.Min(float64(reconnectMax), float64(backoff)*reconnectFactor))
			continue
		}

		logger.Infof("[Deriv] ✅ reconnected (%d streams replayed)", c.subCount())
		if c.cfg.OnReconnect != nil {
			c.cfg.OnReconnect()
		}
		return
	}
}

func (c *Client) redial() error {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.CallTimeout)
	defer cancel()

	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	go c.readLoop(conn)
	go c.pingLoop(conn)

	if c.cfg.Token != "" {
		if _, err := c.Authorize(ctx); err != nil {
			_ = conn.Close()
			return err
		}
	}

	return c.resubscribeAll(ctx)
}

// resubscribeAll replays every live stream on the fresh connection. Streams
// the broker rejects (e.g. a contract that settled while we were away) are
// closed so consumers fall back to polling.
func (c *Client) resubscribeAll(ctx context.Context) error {
	c.subsMu.Lock()
	old := c.subs
	c.subs = make(map[string]*subscription, len(old))
	c.subsMu.Unlock()

	seen := make(map[*subscription]bool, len(old))
	for _, sub := range old {
		if seen[sub] {
			continue
		}
		seen[sub] = true

		if _, err := c.call(ctx, cloneRequest(sub.req), sub); err != nil {
			logger.Warnf("[Deriv] resubscribe %s failed: %v", sub.key, err)
			sub.closeCh()
		}
	}
	return nil
}

func cloneRequest(req map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(req))
	for k, v := range req {
		out[k] = v
	}
	return out
}

func (c *Client) subCount() int {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	return len(c.subs)
}

func (c *Client) failPending(err error) {
	c.pendingMu.Lock()
	for id, pc := range c.pending {
		delete(c.pending, id)
		pc.ch <- callResult{err: err}
	}
	c.pendingMu.Unlock()
}

func (c *Client) closeAllSubs() {
	c.subsMu.Lock()
	subs := c.subs
	c.subs = make(map[string]*subscription)
	c.subsMu.Unlock()

	seen := make(map[*subscription]bool, len(subs))
	for _, sub := range subs {
		if !seen[sub] {
			seen[sub] = true
			sub.closeCh()
		}
	}
}

// ============================================================================
// Request plumbing
// ============================================================================

func (c *Client) nextReqID() int64 {
	return atomic.AddInt64(&c.reqID, 1)
}

func (c *Client) writeRequest(req map[string]interface{}) error {
	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	if conn == nil {
		return ErrClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(req)
}

// call sends one request and waits for the correlated response. When sub is
// non-nil the response's subscription id is bound before the call resolves.
func (c *Client) call(ctx context.Context, req map[string]interface{}, sub *subscription) ([]byte, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.CallTimeout)
		defer cancel()
	}

	id := c.nextReqID()
	req["req_id"] = id

	pc := &pendingCall{ch: make(chan callResult, 1), sub: sub}
	c.pendingMu.Lock()
	c.pending[id] = pc
	c.pendingMu.Unlock()

	if err := c.writeRequest(req); err != nil {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return nil, err
	}

	select {
	case res := <-pc.ch:
		return res.raw, res.err
	case <-ctx.Done():
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrClosed
	}
}

// ============================================================================
// Calls
// ============================================================================

// Authorize authenticates the session with the configured token.
func (c *Client) Authorize(ctx context.Context) (*Authorize, error) {
	raw, err := c.call(ctx, map[string]interface{}{"authorize": c.cfg.Token}, nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Authorize *Authorize `json:"authorize"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("parse authorize: %w", err)
	}
	if resp.Authorize == nil {
		return nil, fmt.Errorf("authorize: empty response")
	}

	c.connMu.Lock()
	c.auth = resp.Authorize
	c.connMu.Unlock()
	return resp.Authorize, nil
}

// Balance fetches the current account balance.
func (c *Client) Balance(ctx context.Context) (*Balance, error) {
	raw, err := c.call(ctx, map[string]interface{}{"balance": 1}, nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Balance *Balance `json:"balance"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("parse balance: %w", err)
	}
	if resp.Balance == nil {
		return nil, fmt.Errorf("balance: empty response")
	}
	return resp.Balance, nil
}

// ActiveSymbols lists tradable symbols (brief form).
func (c *Client) ActiveSymbols(ctx context.Context) ([]ActiveSymbol, error) {
	raw, err := c.call(ctx, map[string]interface{}{
		"active_symbols": "brief",
		"product_type":   "basic",
	}, nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		ActiveSymbols []ActiveSymbol `json:"active_symbols"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("parse active_symbols: %w", err)
	}
	return resp.ActiveSymbols, nil
}

// TicksHistory fetches the most recent count ticks for a symbol.
func (c *Client) TicksHistory(ctx context.Context, symbol string, count int) ([]Tick, error) {
	raw, err := c.call(ctx, map[string]interface{}{
		"ticks_history": symbol,
		"count":         count,
		"end":           "latest",
		"style":         "ticks",
	}, nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		History *History `json:"history"`
		PipSize int      `json:"pip_size"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("parse ticks_history: %w", err)
	}
	if resp.History == nil {
		return nil, fmt.Errorf("ticks_history: empty response")
	}

	ticks := make([]Tick, 0, len(resp.History.Prices))
	for i, price := range resp.History.Prices {
		var epoch int64
		if i < len(resp.History.Times) {
			epoch = resp.History.Times[i]
		}
		ticks = append(ticks, Tick{
			Symbol:  symbol,
			Quote:   price,
			Epoch:   epoch,
			PipSize: resp.PipSize,
		})
	}
	return ticks, nil
}

// Proposal requests a price quote for a potential purchase.
func (c *Client) Proposal(ctx context.Context, req ProposalRequest) (*Proposal, error) {
	raw, err := c.call(ctx, req.toRequest(), nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Proposal *Proposal `json:"proposal"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("parse proposal: %w", err)
	}
	if resp.Proposal == nil {
		return nil, fmt.Errorf("proposal: empty response")
	}
	return resp.Proposal, nil
}

// Buy purchases a proposed contract at up to maxPrice.
func (c *Client) Buy(ctx context.Context, proposalID string, maxPrice float64) (*Buy, error) {
	raw, err := c.call(ctx, map[string]interface{}{
		"buy":   proposalID,
		"price": maxPrice,
	}, nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Buy *Buy `json:"buy"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("parse buy: %w", err)
	}
	if resp.Buy == nil {
		return nil, fmt.Errorf("buy: empty response")
	}
	return resp.Buy, nil
}

// Sell closes an open contract early. price 0 sells at market.
func (c *Client) Sell(ctx context.Context, contractID int64, price float64) (*SellResult, error) {
	raw, err := c.call(ctx, map[string]interface{}{
		"sell":  contractID,
		"price": price,
	}, nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Sell *SellResult `json:"sell"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("parse sell: %w", err)
	}
	if resp.Sell == nil {
		return nil, fmt.Errorf("sell: empty response")
	}
	if resp.Sell.ContractID == 0 {
		resp.Sell.ContractID = contractID
	}
	return resp.Sell, nil
}

// OpenContractState polls the current state of a contract (one-shot).
func (c *Client) OpenContractState(ctx context.Context, contractID int64) (*OpenContract, error) {
	raw, err := c.call(ctx, map[string]interface{}{
		"proposal_open_contract": 1,
		"contract_id":            contractID,
	}, nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		POC *OpenContract `json:"proposal_open_contract"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("parse proposal_open_contract: %w", err)
	}
	if resp.POC == nil {
		return nil, fmt.Errorf("proposal_open_contract: empty response")
	}
	return resp.POC, nil
}

// Ping round-trips an application ping.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.call(ctx, map[string]interface{}{"ping": 1}, nil)
	return err
}

// Forget cancels one stream by subscription id.
func (c *Client) Forget(ctx context.Context, subID string) (bool, error) {
	if sub := c.unbindSub(subID); sub != nil {
		sub.closeCh()
	}
	raw, err := c.call(ctx, map[string]interface{}{"forget": subID}, nil)
	if err != nil {
		return false, err
	}
	var resp struct {
		Forget int `json:"forget"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return false, fmt.Errorf("parse forget: %w", err)
	}
	return resp.Forget == 1, nil
}

// ForgetAll cancels every stream of the given types (e.g. "ticks",
// "proposal_open_contract").
func (c *Client) ForgetAll(ctx context.Context, types ...string) error {
	if len(types) == 0 {
		return nil
	}
	_, err := c.call(ctx, map[string]interface{}{"forget_all": types}, nil)
	return err
}
