package executor

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/Rican7/retry"
	"github.com/Rican7/retry/strategy"
	"github.com/axiomesh/treasury/core"
	"github.com/axiomesh/treasury/repo"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// tokenABI covers ERC-20 transfer and ERC-1363 transferAndCall.
const tokenABI = `[
	{"type":"function","name":"transfer","inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"transferAndCall","inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"},{"name":"data","type":"bytes"}],"outputs":[{"name":"","type":"bool"}]}
]`

var token = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(tokenABI))
	if err != nil {
		panic(err)
	}
	return parsed
}()

var ErrReceiptFailed = errors.New("transaction reverted")

// Backend is the part of ethclient the EVM executor needs.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// EVM carries transfers and function calls as transactions signed by the
// treasury key.
type EVM struct {
	Backend Backend
	Logger  *logrus.Logger

	key          *ecdsa.PrivateKey
	from         common.Address
	gasLimit     uint64
	pollInterval time.Duration
	retries      uint

	// nonce allocation
	sendMu sync.Mutex
}

func NewEVM(backend Backend, key *ecdsa.PrivateKey, config *repo.Executor, logger *logrus.Logger) *EVM {
	return &EVM{
		Backend:      backend,
		Logger:       logger,
		key:          key,
		from:         crypto.PubkeyToAddress(key.PublicKey),
		gasLimit:     config.GasLimit,
		pollInterval: config.ReceiptPollInterval,
		retries:      config.ReceiptRetries,
	}
}

// LoadKey reads the hex encoded signing key at path.
func LoadKey(path string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.LoadECDSA(path)
	if err != nil {
		return nil, errors.Wrapf(err, "load private key %s", path)
	}
	return key, nil
}

func (e *EVM) From() common.Address {
	return e.from
}

type txRequest struct {
	to    common.Address
	value *big.Int
	data  []byte
}

// requests turns call into the transactions that carry it.
func (e *EVM) requests(call *core.Call) ([]txRequest, error) {
	receiver := common.HexToAddress(string(call.Receiver))
	switch call.Kind {
	case core.CallTransfer:
		if call.TokenID == core.NativeToken {
			return []txRequest{{to: receiver, value: call.Amount.ToBig()}}, nil
		}
		var (
			data []byte
			err  error
		)
		if call.Msg == "" {
			data, err = token.Pack("transfer", receiver, call.Amount.ToBig())
		} else {
			data, err = token.Pack("transferAndCall", receiver, call.Amount.ToBig(), []byte(call.Msg))
		}
		if err != nil {
			return nil, errors.Wrap(err, "pack token transfer")
		}
		return []txRequest{{to: common.HexToAddress(call.TokenID), value: new(big.Int), data: data}}, nil
	case core.CallFunction:
		reqs := make([]txRequest, 0, len(call.Actions))
		for _, action := range call.Actions {
			reqs = append(reqs, txRequest{
				to:    receiver,
				value: action.Deposit.ToBig(),
				data:  append(methodID(action.MethodName), action.Args...),
			})
		}
		return reqs, nil
	}
	return nil, errors.Wrapf(core.ErrUnsupportedAction, "evm can not carry %s calls", call.Kind)
}

// methodID is the selector of a method signature such as "upgrade(bytes)".
func methodID(signature string) []byte {
	return crypto.Keccak256([]byte(signature))[:4]
}

// Execute sends the transactions of call one after another and waits for
// their receipts. The call succeeds only if every receipt does.
func (e *EVM) Execute(ctx context.Context, call *core.Call) ([]byte, error) {
	reqs, err := e.requests(call)
	if err != nil {
		return nil, err
	}

	var hashes []string
	for i, req := range reqs {
		tx, err := e.send(ctx, req)
		if err != nil {
			return nil, errors.WithMessagef(err, "action %d", i)
		}
		hashes = append(hashes, tx.Hash().Hex())

		receipt, err := e.waitReceipt(ctx, tx.Hash())
		if err != nil {
			return nil, errors.WithMessagef(err, "action %d", i)
		}
		if receipt.Status != types.ReceiptStatusSuccessful {
			return nil, errors.Wrapf(ErrReceiptFailed, "tx %s", tx.Hash())
		}
		e.Logger.WithFields(logrus.Fields{
			"token": call.Token,
			"tx":    tx.Hash().Hex(),
			"block": receipt.BlockNumber,
		}).Debug("transaction mined")
	}
	return []byte(strings.Join(hashes, ",")), nil
}

func (e *EVM) send(ctx context.Context, req txRequest) (*types.Transaction, error) {
	e.sendMu.Lock()
	defer e.sendMu.Unlock()

	chainID, err := e.Backend.ChainID(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "get chain id")
	}
	nonce, err := e.Backend.PendingNonceAt(ctx, e.from)
	if err != nil {
		return nil, errors.Wrap(err, "get nonce")
	}
	gasPrice, err := e.Backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "suggest gas price")
	}

	tx, err := types.SignTx(types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      e.gasLimit,
		To:       &req.to,
		Value:    req.value,
		Data:     req.data,
	}), types.LatestSignerForChainID(chainID), e.key)
	if err != nil {
		return nil, errors.Wrap(err, "sign transaction")
	}
	if err := e.Backend.SendTransaction(ctx, tx); err != nil {
		return nil, errors.Wrap(err, "send transaction")
	}
	return tx, nil
}

func (e *EVM) waitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	var receipt *types.Receipt
	action := func(attempt uint) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		r, err := e.Backend.TransactionReceipt(ctx, hash)
		if err != nil {
			return err
		}
		receipt = r
		return nil
	}
	if err := retry.Retry(action, strategy.Limit(e.retries), strategy.Wait(e.pollInterval)); err != nil {
		return nil, errors.Wrapf(err, "receipt of %s", hash)
	}
	return receipt, nil
}
