package trader

import (
	"context"
	"fmt"

	"dtrader/config"
	"dtrader/deriv"
	"dtrader/store"
)

// API is the slice of the broker session the engine drives. Production code
// wraps *deriv.Client via NewAPI; tests substitute a fake.
type API interface {
	Connect(ctx context.Context) error
	Authorize(ctx context.Context) (*deriv.Authorize, error)
	Balance(ctx context.Context) (*deriv.Balance, error)
	ActiveSymbols(ctx context.Context) ([]deriv.ActiveSymbol, error)
	Proposal(ctx context.Context, req deriv.ProposalRequest) (*deriv.Proposal, error)
	Buy(ctx context.Context, proposalID string, maxPrice float64) (*deriv.Buy, error)
	Sell(ctx context.Context, contractID int64, price float64) (*deriv.SellResult, error)
	OpenContractState(ctx context.Context, contractID int64) (*deriv.OpenContract, error)
	SubscribeContract(ctx context.Context, contractID int64) (ContractStream, error)
	Close() error
}

// ContractStream is a live view of one purchased contract. Updates carries
// state snapshots until the stream ends; Forget cancels it broker-side.
type ContractStream interface {
	Updates() <-chan deriv.OpenContract
	Forget(ctx context.Context) error
}

// Window provides the rolling tick window strategies read. Satisfied by
// *market.TickMonitor.
type Window interface {
	EnsureSymbol(ctx context.Context, symbol string) error
	LastTicks(symbol string, n int) ([]deriv.Tick, error)
	LastDigits(symbol string, n int) ([]int, error)
	WindowSize(symbol string) int
}

// apiClient adapts *deriv.Client to the API interface. Only SubscribeContract
// needs a shim; everything else is promoted from the embedded client.
type apiClient struct {
	*deriv.Client
}

// NewAPI wraps a broker client in the engine-facing interface.
func NewAPI(c *deriv.Client) API {
	return apiClient{Client: c}
}

func (a apiClient) SubscribeContract(ctx context.Context, contractID int64) (ContractStream, error) {
	sub, err := a.Client.SubscribeContract(ctx, contractID)
	if err != nil {
		return nil, err
	}
	return contractSub{sub}, nil
}

// contractSub exposes the concrete stream through ContractStream.
type contractSub struct {
	*deriv.ContractSub
}

func (s contractSub) Updates() <-chan deriv.OpenContract { return s.C }

// Dial opens and authorizes a dedicated broker session for a stored account.
// The caller owns the returned session and must Close it.
func Dial(ctx context.Context, account *store.DerivAccount) (API, error) {
	if account.Token == "" {
		return nil, fmt.Errorf("account %s has no API token", account.ID)
	}

	cfg := config.Get()
	appID := account.AppID
	if appID == "" {
		appID = cfg.DerivAppID
	}

	client := deriv.New(deriv.Config{
		URL:      cfg.DerivWSURL,
		AppID:    appID,
		Token:    account.Token,
		Language: cfg.DerivLanguage,
	})
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect account %s: %w", account.ID, err)
	}
	return NewAPI(client), nil
}
