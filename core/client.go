package core

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

type CallKind string

const (
	CallTransfer CallKind = "transfer"
	CallFunction CallKind = "function"
	CallDeploy   CallKind = "deploy"
)

// Call is one outbound asynchronous call. Its Outcome is matched back by Token.
type Call struct {
	Token      string         `json:"token"`
	ProposalID uint64         `json:"proposal_id"`
	Purpose    PendingPurpose `json:"purpose"`
	Kind       CallKind       `json:"kind"`
	Receiver   AccountID      `json:"receiver"`
	TokenID    string         `json:"token_id,omitempty"`
	Amount     Balance        `json:"amount"`
	Msg        string         `json:"msg,omitempty"`
	Actions    []ActionCall   `json:"actions,omitempty"`
	Code       []byte         `json:"code,omitempty"`
	CodeHash   common.Hash    `json:"code_hash,omitempty"`
}

type Outcome struct {
	Token   string `json:"token"`
	Success bool   `json:"success"`
	Payload []byte `json:"payload,omitempty"`
}

// Client carries calls to their receivers. Every accepted call produces
// exactly one Outcome.
type Client interface {
	Dispatch(ctx context.Context, call *Call) error

	Outcomes() <-chan Outcome
}

var _ Client = (*MockClient)(nil)

// MockClient records calls and delivers outcomes when told to.
type MockClient struct {
	mu       sync.Mutex
	calls    []*Call
	outcomes chan Outcome
	// Refuse makes Dispatch fail.
	Refuse error
}

func NewMockClient() *MockClient {
	return &MockClient{
		outcomes: make(chan Outcome, 64),
	}
}

func (mc *MockClient) Dispatch(ctx context.Context, call *Call) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if mc.Refuse != nil {
		return mc.Refuse
	}
	mc.calls = append(mc.calls, call)
	return nil
}

func (mc *MockClient) Outcomes() <-chan Outcome {
	return mc.outcomes
}

func (mc *MockClient) Calls() []*Call {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return append([]*Call(nil), mc.calls...)
}

// LastCall returns the most recent call made for proposal id with purpose.
func (mc *MockClient) LastCall(id uint64, purpose PendingPurpose) (*Call, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	for i := len(mc.calls) - 1; i >= 0; i-- {
		if mc.calls[i].ProposalID == id && mc.calls[i].Purpose == purpose {
			return mc.calls[i], nil
		}
	}
	return nil, errors.Errorf("no %s call for proposal %d", purpose, id)
}

// Resolve publishes the outcome of token on the outcome channel.
func (mc *MockClient) Resolve(token string, success bool) {
	mc.outcomes <- Outcome{Token: token, Success: success}
}
