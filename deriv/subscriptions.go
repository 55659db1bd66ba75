package deriv

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"dtrader/logger"
)

// tickStream guards the typed channel so a late dispatch cannot race a close.
type tickStream struct {
	mu     sync.Mutex
	closed bool
	ch     chan Tick
}

func (t *tickStream) deliver(raw []byte) {
	var resp struct {
		Tick *Tick `json:"tick"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil || resp.Tick == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	select {
	case t.ch <- *resp.Tick:
	default:
		// slow consumer: drop rather than stall the read pump
		logger.Debugf("[Deriv] tick channel full for %s, dropping update", resp.Tick.Symbol)
	}
}

func (t *tickStream) close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.ch)
	}
}

// TickSub is a live tick stream for one symbol. C is closed when the stream
// ends (forget, client close, or a failed replay after reconnect).
type TickSub struct {
	C      <-chan Tick
	Symbol string

	c   *Client
	sub *subscription
}

// Forget cancels the stream broker-side and closes C.
func (s *TickSub) Forget(ctx context.Context) error {
	return s.c.forgetSub(ctx, s.sub)
}

// SubscribeTicks opens a tick stream for the symbol. The first tick arrives
// on C together with the call response.
func (c *Client) SubscribeTicks(ctx context.Context, symbol string) (*TickSub, error) {
	stream := &tickStream{ch: make(chan Tick, tickBuffer)}
	sub := &subscription{
		key:     "ticks:" + symbol,
		req:     map[string]interface{}{"ticks": symbol, "subscribe": 1},
		deliver: stream.deliver,
		closeCh: stream.close,
	}

	if _, err := c.call(ctx, cloneRequest(sub.req), sub); err != nil {
		stream.close()
		return nil, fmt.Errorf("subscribe ticks %s: %w", symbol, err)
	}

	return &TickSub{C: stream.ch, Symbol: symbol, c: c, sub: sub}, nil
}

// contractStream mirrors tickStream for proposal_open_contract updates.
type contractStream struct {
	mu     sync.Mutex
	closed bool
	ch     chan OpenContract
}

func (t *contractStream) deliver(raw []byte) {
	var resp struct {
		POC *OpenContract `json:"proposal_open_contract"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil || resp.POC == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	select {
	case t.ch <- *resp.POC:
	default:
		logger.Debugf("[Deriv] contract channel full for %d, dropping update", resp.POC.ContractID)
	}
}

func (t *contractStream) close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.ch)
	}
}

// ContractSub is a live proposal_open_contract stream for one contract. The
// current state arrives first; C is closed when the stream ends.
type ContractSub struct {
	C          <-chan OpenContract
	ContractID int64

	c   *Client
	sub *subscription
}

// Forget cancels the stream broker-side and closes C.
func (s *ContractSub) Forget(ctx context.Context) error {
	return s.c.forgetSub(ctx, s.sub)
}

// SubscribeContract opens a state stream for a purchased contract.
func (c *Client) SubscribeContract(ctx context.Context, contractID int64) (*ContractSub, error) {
	stream := &contractStream{ch: make(chan OpenContract, contractBuffer)}
	sub := &subscription{
		key: fmt.Sprintf("poc:%d", contractID),
		req: map[string]interface{}{
			"proposal_open_contract": 1,
			"contract_id":            contractID,
			"subscribe":              1,
		},
		deliver: stream.deliver,
		closeCh: stream.close,
	}

	if _, err := c.call(ctx, cloneRequest(sub.req), sub); err != nil {
		stream.close()
		return nil, fmt.Errorf("subscribe contract %d: %w", contractID, err)
	}

	return &ContractSub{C: stream.ch, ContractID: contractID, c: c, sub: sub}, nil
}

// forgetSub tears one stream down: local unbind first so no further updates
// route to it, then the vendor-side forget.
func (c *Client) forgetSub(ctx context.Context, sub *subscription) error {
	c.subsMu.Lock()
	id := sub.id
	if id != "" {
		delete(c.subs, id)
	}
	c.subsMu.Unlock()

	sub.closeCh()

	if id == "" || c.isClosed() {
		return nil
	}
	if _, err := c.Forget(ctx, id); err != nil {
		return err
	}
	return nil
}
