package deriv

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBroker is an in-process stand-in for the vendor endpoint. It speaks
// just enough of the protocol for the client: echoed req_id, msg_type
// envelopes, subscription ids, error objects.
type fakeBroker struct {
	t   *testing.T
	srv *httptest.Server

	upgrader websocket.Upgrader

	mu          sync.Mutex
	conn        *websocket.Conn
	connCount   int
	subSeq      int
	lastTickSub string
	lastPOCSub  string

	async       bool   // answer each request in its own goroutine
	delaySymbol string // ticks_history for this symbol answers late
}

func (f *fakeBroker) setAsync(delaySymbol string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.async = true
	f.delaySymbol = delaySymbol
}

func newFakeBroker(t *testing.T) *fakeBroker {
	f := &fakeBroker{
		t:        t,
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
	f.srv = httptest.NewServer(http.HandlerFunc(f.handleHTTP))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeBroker) url() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

func (f *fakeBroker) handleHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	f.mu.Lock()
	f.conn = conn
	f.connCount++
	f.mu.Unlock()

	for {
		var req map[string]interface{}
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		f.mu.Lock()
		async := f.async
		f.mu.Unlock()
		if async {
			go f.answer(req)
		} else {
			f.answer(req)
		}
	}
}

func (f *fakeBroker) answer(req map[string]interface{}) {
	for _, msg := range f.respond(req) {
		f.write(msg)
	}
}

func (f *fakeBroker) write(msg map[string]interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn == nil {
		return
	}
	_ = f.conn.WriteJSON(msg)
}

func (f *fakeBroker) dropConn() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn != nil {
		_ = f.conn.Close()
	}
}

func (f *fakeBroker) connections() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connCount
}

func (f *fakeBroker) nextSubID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subSeq++
	return fmt.Sprintf("sub-%d", f.subSeq)
}

func (f *fakeBroker) pushTick(symbol string, quote float64) {
	f.mu.Lock()
	id := f.lastTickSub
	f.mu.Unlock()

	f.write(map[string]interface{}{
		"msg_type": "tick",
		"tick": map[string]interface{}{
			"id": id, "symbol": symbol, "quote": quote,
			"epoch": time.Now().Unix(), "pip_size": 2,
		},
		"subscription": map[string]interface{}{"id": id},
	})
}

func (f *fakeBroker) pushContractState(contractID int64, status string, profit float64) {
	f.mu.Lock()
	id := f.lastPOCSub
	f.mu.Unlock()

	poc := map[string]interface{}{
		"contract_id": contractID,
		"status":      status,
		"profit":      profit,
	}
	if status != StatusOpen {
		poc["is_expired"] = 1
		poc["is_sold"] = 1
	}
	f.write(map[string]interface{}{
		"msg_type":               "proposal_open_contract",
		"proposal_open_contract": poc,
		"subscription":           map[string]interface{}{"id": id},
	})
}

func (f *fakeBroker) respond(req map[string]interface{}) []map[string]interface{} {
	base := func(msgType string) map[string]interface{} {
		m := map[string]interface{}{"msg_type": msgType, "echo_req": req}
		if id, ok := req["req_id"]; ok {
			m["req_id"] = id
		}
		return m
	}
	fail := func(m map[string]interface{}, code, message string) []map[string]interface{} {
		m["error"] = map[string]interface{}{"code": code, "message": message}
		return []map[string]interface{}{m}
	}

	switch {
	case req["authorize"] != nil:
		m := base("authorize")
		if req["authorize"] != "good-token" {
			return fail(m, CodeInvalidToken, "The token is invalid.")
		}
		m["authorize"] = map[string]interface{}{
			"loginid": "VRTC1001", "balance": 10000.0, "currency": "USD", "is_virtual": 1,
		}
		return []map[string]interface{}{m}

	case req["balance"] != nil:
		m := base("balance")
		m["balance"] = map[string]interface{}{"balance": 9876.5, "currency": "USD", "loginid": "VRTC1001"}
		return []map[string]interface{}{m}

	case req["active_symbols"] != nil:
		m := base("active_symbols")
		m["active_symbols"] = []map[string]interface{}{
			{"symbol": "R_100", "display_name": "Volatility 100 Index", "market": "synthetic_index", "pip": 0.01, "exchange_is_open": 1},
			{"symbol": "R_50", "display_name": "Volatility 50 Index", "market": "synthetic_index", "pip": 0.0001, "exchange_is_open": 1},
		}
		return []map[string]interface{}{m}

	case req["ticks_history"] != nil:
		symbol := req["ticks_history"].(string)
		f.mu.Lock()
		delayed := f.delaySymbol == symbol
		f.mu.Unlock()
		if delayed {
			time.Sleep(150 * time.Millisecond)
		}
		quote := 100.0
		if symbol == "R_50" {
			quote = 50.0
		}
		m := base("history")
		m["history"] = map[string]interface{}{
			"prices": []float64{quote, quote + 0.01, quote + 0.02},
			"times":  []int64{1000, 1002, 1004},
		}
		m["pip_size"] = 2
		return []map[string]interface{}{m}

	case req["proposal"] != nil:
		amount := req["amount"].(float64)
		m := base("proposal")
		if amount > 5000 {
			return fail(m, CodeContractBuyValidation, "Stake too high.")
		}
		m["proposal"] = map[string]interface{}{
			"id": "prop-1", "ask_price": amount, "payout": amount * 1.95, "spot": 100.55,
		}
		return []map[string]interface{}{m}

	case req["buy"] != nil:
		m := base("buy")
		if req["buy"] == "stale-prop" {
			return fail(m, CodePriceMoved, "The underlying price moved.")
		}
		m["buy"] = map[string]interface{}{
			"contract_id": 777, "buy_price": req["price"], "payout": 1.95,
			"transaction_id": 4242, "purchase_time": time.Now().Unix(), "longcode": "Win payout if ...",
		}
		return []map[string]interface{}{m}

	case req["sell"] != nil:
		m := base("sell")
		m["sell"] = map[string]interface{}{"sold_for": 1.2, "transaction_id": 4243}
		return []map[string]interface{}{m}

	case req["ticks"] != nil:
		id := f.nextSubID()
		f.mu.Lock()
		f.lastTickSub = id
		f.mu.Unlock()

		m := base("tick")
		m["tick"] = map[string]interface{}{
			"id": id, "symbol": req["ticks"], "quote": 100.55,
			"epoch": time.Now().Unix(), "pip_size": 2,
		}
		m["subscription"] = map[string]interface{}{"id": id}
		return []map[string]interface{}{m}

	case req["proposal_open_contract"] != nil:
		m := base("proposal_open_contract")
		poc := map[string]interface{}{
			"contract_id": req["contract_id"], "status": StatusOpen,
			"buy_price": 1.0, "payout": 1.95, "is_valid_to_sell": 1,
		}
		m["proposal_open_contract"] = poc
		if req["subscribe"] != nil {
			id := f.nextSubID()
			f.mu.Lock()
			f.lastPOCSub = id
			f.mu.Unlock()
			m["subscription"] = map[string]interface{}{"id": id}
		}
		return []map[string]interface{}{m}

	case req["forget"] != nil:
		m := base("forget")
		m["forget"] = 1
		return []map[string]interface{}{m}

	case req["forget_all"] != nil:
		m := base("forget_all")
		m["forget_all"] = []interface{}{}
		return []map[string]interface{}{m}

	case req["ping"] != nil:
		m := base("ping")
		m["ping"] = "pong"
		return []map[string]interface{}{m}
	}

	return nil
}

func newTestClient(t *testing.T, f *fakeBroker, token string) *Client {
	c := New(Config{
		URL:         f.url(),
		AppID:       "1089",
		Token:       token,
		CallTimeout: 5 * time.Second,
	})
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestClient_AuthorizeAndCalls(t *testing.T) {
	f := newFakeBroker(t)
	c := newTestClient(t, f, "good-token")

	auth := c.AuthorizeInfo()
	require.NotNil(t, auth)
	assert.Equal(t, "VRTC1001", auth.LoginID)
	assert.Equal(t, "USD", auth.Currency)

	bal, err := c.Balance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 9876.5, bal.Balance)

	symbols, err := c.ActiveSymbols(context.Background())
	require.NoError(t, err)
	require.Len(t, symbols, 2)
	assert.True(t, symbols[0].Tradable())

	ticks, err := c.TicksHistory(context.Background(), "R_100", 3)
	require.NoError(t, err)
	require.Len(t, ticks, 3)
	assert.Equal(t, 100.0, ticks[0].Quote)
	assert.Equal(t, int64(1000), ticks[0].Epoch)
	assert.Equal(t, 2, ticks[0].PipSize)
}

func TestClient_AuthorizeRejected(t *testing.T) {
	f := newFakeBroker(t)
	c := New(Config{URL: f.url(), AppID: "1089", Token: "bad-token", CallTimeout: 5 * time.Second})

	err := c.Connect(context.Background())
	require.Error(t, err)

	apiErr, ok := AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, CodeInvalidToken, apiErr.Code)
	assert.True(t, IsTerminal(err))
}

func TestClient_ProposalBuySellFlow(t *testing.T) {
	f := newFakeBroker(t)
	c := newTestClient(t, f, "good-token")

	prop, err := c.Proposal(context.Background(), ProposalRequest{
		ContractType: "DIGITOVER", Symbol: "R_100", Amount: 1.0,
		Currency: "USD", DurationTicks: 5, Barrier: "4",
	})
	require.NoError(t, err)
	assert.Equal(t, "prop-1", prop.ID)
	assert.Equal(t, 1.95, prop.Payout)

	buy, err := c.Buy(context.Background(), prop.ID, prop.AskPrice)
	require.NoError(t, err)
	assert.Equal(t, int64(777), buy.ContractID)

	sell, err := c.Sell(context.Background(), buy.ContractID, 0)
	require.NoError(t, err)
	assert.Equal(t, 1.2, sell.SoldFor)
	assert.Equal(t, int64(777), sell.ContractID)
}

func TestClient_ProposalValidationError(t *testing.T) {
	f := newFakeBroker(t)
	c := newTestClient(t, f, "good-token")

	_, err := c.Proposal(context.Background(), ProposalRequest{
		ContractType: "CALL", Symbol: "R_100", Amount: 10000,
		Currency: "USD", DurationTicks: 5,
	})
	require.Error(t, err)

	apiErr, ok := AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, CodeContractBuyValidation, apiErr.Code)
	assert.False(t, IsTerminal(err))
}

func TestIsTerminal(t *testing.T) {
	terminal := []string{CodeInvalidToken, CodeAuthorizationRequired, CodeDisabledClient, CodeInsufficientBalance}
	for _, code := range terminal {
		assert.True(t, IsTerminal(&APIError{Code: code}), code)
	}
	transient := []string{CodeRateLimit, CodeMarketIsClosed, CodeContractBuyValidation, CodePriceMoved}
	for _, code := range transient {
		assert.False(t, IsTerminal(&APIError{Code: code}), code)
	}
	assert.False(t, IsTerminal(errors.New("dial tcp: timeout")))
}

func TestClient_BuyPriceMoved(t *testing.T) {
	f := newFakeBroker(t)
	c := newTestClient(t, f, "good-token")

	_, err := c.Buy(context.Background(), "stale-prop", 1.0)
	require.Error(t, err)
	assert.True(t, IsPriceMoved(err))
}

func TestClient_SubscribeTicks(t *testing.T) {
	f := newFakeBroker(t)
	c := newTestClient(t, f, "good-token")

	sub, err := c.SubscribeTicks(context.Background(), "R_100")
	require.NoError(t, err)

	// first tick arrives with the subscribe response
	first := <-sub.C
	assert.Equal(t, "R_100", first.Symbol)
	assert.Equal(t, 100.55, first.Quote)

	f.pushTick("R_100", 100.61)
	select {
	case tick := <-sub.C:
		assert.Equal(t, 100.61, tick.Quote)
	case <-time.After(2 * time.Second):
		t.Fatal("pushed tick never arrived")
	}

	require.NoError(t, sub.Forget(context.Background()))
	_, open := <-sub.C
	assert.False(t, open, "channel must be closed after forget")
}

func TestClient_SubscribeContractSettles(t *testing.T) {
	f := newFakeBroker(t)
	c := newTestClient(t, f, "good-token")

	sub, err := c.SubscribeContract(context.Background(), 777)
	require.NoError(t, err)

	first := <-sub.C
	assert.Equal(t, StatusOpen, first.Status)
	assert.False(t, first.Settled())

	f.pushContractState(777, StatusWon, 0.95)
	select {
	case state := <-sub.C:
		assert.True(t, state.Settled())
		assert.True(t, state.Won())
		assert.Equal(t, 0.95, state.Profit)
	case <-time.After(2 * time.Second):
		t.Fatal("settle update never arrived")
	}
}

func TestClient_OpenContractState(t *testing.T) {
	f := newFakeBroker(t)
	c := newTestClient(t, f, "good-token")

	state, err := c.OpenContractState(context.Background(), 777)
	require.NoError(t, err)
	assert.Equal(t, int64(777), state.ContractID)
	assert.Equal(t, StatusOpen, state.Status)
}

func TestClient_ConcurrentCallCorrelation(t *testing.T) {
	f := newFakeBroker(t)
	f.setAsync("R_50") // the first call answers after the second

	c := newTestClient(t, f, "good-token")

	var wg sync.WaitGroup
	var slow, fast []Tick
	var slowErr, fastErr error

	wg.Add(2)
	go func() {
		defer wg.Done()
		slow, slowErr = c.TicksHistory(context.Background(), "R_50", 3)
	}()
	time.Sleep(20 * time.Millisecond)
	go func() {
		defer wg.Done()
		fast, fastErr = c.TicksHistory(context.Background(), "R_100", 3)
	}()
	wg.Wait()

	require.NoError(t, slowErr)
	require.NoError(t, fastErr)
	assert.Equal(t, 50.0, slow[0].Quote, "delayed response must resolve the matching call")
	assert.Equal(t, 100.0, fast[0].Quote)
}

func TestClient_ReconnectResubscribes(t *testing.T) {
	f := newFakeBroker(t)

	reconnected := make(chan struct{}, 1)
	c := New(Config{
		URL: f.url(), AppID: "1089", Token: "good-token",
		CallTimeout: 5 * time.Second,
		OnReconnect: func() { reconnected <- struct{}{} },
	})
	require.NoError(t, c.Connect(context.Background()))
	defer c.Close()

	sub, err := c.SubscribeTicks(context.Background(), "R_100")
	require.NoError(t, err)
	<-sub.C // initial tick

	f.dropConn()

	select {
	case <-reconnected:
	case <-time.After(10 * time.Second):
		t.Fatal("client never reconnected")
	}
	assert.GreaterOrEqual(t, f.connections(), 2)

	// the replayed stream delivers its fresh initial tick on the same channel
	select {
	case tick, open := <-sub.C:
		require.True(t, open, "stream must survive a reconnect")
		assert.Equal(t, "R_100", tick.Symbol)
	case <-time.After(5 * time.Second):
		t.Fatal("no tick after reconnect")
	}

	f.pushTick("R_100", 101.01)
	select {
	case tick := <-sub.C:
		assert.Equal(t, 101.01, tick.Quote)
	case <-time.After(2 * time.Second):
		t.Fatal("pushed tick after reconnect never arrived")
	}
}

func TestClient_CallsFailFastOnDisconnect(t *testing.T) {
	f := newFakeBroker(t)
	c := newTestClient(t, f, "good-token")

	c.Close()

	_, err := c.Balance(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}
