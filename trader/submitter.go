package trader

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/google/uuid"

	"perpx/logger"
)

// DefaultSubmitTimeout bounds how long a submission waits for inclusion
const DefaultSubmitTimeout = 180 * time.Second

// Journal row statuses
const (
	StatusSubmitted = "submitted"
	StatusIncluded  = "included"
	StatusReverted  = "reverted"
	StatusTimeout   = "timeout"
)

// Submitter sends one encoded payload and waits for its outcome. From is
// the wallet the payloads are signed with.
type Submitter interface {
	From() common.Address
	Submit(ctx context.Context, call *EncodedCall) (*TradeReceipt, error)
}

// NodeBackend is the node surface the submitter needs, satisfied by
// *ethclient.Client.
type NodeBackend interface {
	bind.DeployBackend
	ethereum.ContractCaller
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// SubmissionRecord is one row of the local audit trail.
type SubmissionRecord struct {
	ClientRef string
	Network   string
	Wallet    string
	Op        string
	PairIndex uint16
	TxHash    string
	Status    string
	Block     uint64
	GasUsed   uint64
	Detail    string
}

// Recorder receives submission lifecycle events, first the submitted row,
// then its outcome. Failures to record never fail the submission.
type Recorder interface {
	RecordSubmitted(rec *SubmissionRecord)
	RecordOutcome(rec *SubmissionRecord)
}

// ChainSubmitter signs and sends payloads over a single wallet. The mutex
// serializes the nonce-fetch/sign/send window so concurrent operations get
// distinct nonces; waiting for inclusion happens outside the lock, so slow
// blocks do not serialize the whole client.
type ChainSubmitter struct {
	node    NodeBackend
	network NetworkConfig
	priv    *ecdsa.PrivateKey
	from    common.Address
	signer  types.Signer
	timeout time.Duration
	rec     Recorder

	mu sync.Mutex
}

func NewChainSubmitter(node NodeBackend, network NetworkConfig, privateKeyHex string) (*ChainSubmitter, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	from := crypto.PubkeyToAddress(key.PublicKey)
	logger.Infof("Submitter wallet %s on %s (chain %d)", ToChecksumAddress(from.Hex()), network.ID, network.ChainID)
	return &ChainSubmitter{
		node:    node,
		network: network,
		priv:    key,
		from:    from,
		signer:  types.LatestSignerForChainID(big.NewInt(network.ChainID)),
		timeout: DefaultSubmitTimeout,
	}, nil
}

// WalletFromKey derives the wallet address controlled by a private key.
func WalletFromKey(privateKeyHex string) (common.Address, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to parse private key: %w", err)
	}
	return crypto.PubkeyToAddress(key.PublicKey), nil
}

// SetTimeout overrides the inclusion patience window.
func (s *ChainSubmitter) SetTimeout(d time.Duration) {
	if d > 0 {
		s.timeout = d
	}
}

// SetRecorder attaches the submission journal.
func (s *ChainSubmitter) SetRecorder(r Recorder) {
	s.rec = r
}

func (s *ChainSubmitter) From() common.Address {
	return s.from
}

// Submit signs, sends and awaits one payload. Everything before the send is
// a plain failure and safe to retry; after the send the payload is out, so
// an unobserved outcome is reported as a timeout carrying the tx hash, and
// nothing is ever re-sent automatically.
func (s *ChainSubmitter) Submit(ctx context.Context, call *EncodedCall) (*TradeReceipt, error) {
	submittedAt := time.Now()

	s.mu.Lock()
	signed, err := s.signNext(ctx, call)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if err := s.node.SendTransaction(ctx, signed); err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %w", ErrSubmissionFailed, err)
	}
	s.mu.Unlock()

	txHash := signed.Hash().Hex()
	rec := &SubmissionRecord{
		ClientRef: uuid.NewString(),
		Network:   s.network.ID,
		Wallet:    ToChecksumAddress(s.from.Hex()),
		Op:        call.Op,
		PairIndex: call.PairIndex,
		TxHash:    txHash,
		Status:    StatusSubmitted,
	}
	if s.rec != nil {
		s.rec.RecordSubmitted(rec)
	}
	logger.Infof("🔄 %s submitted: %s (nonce %d, gas limit %d)", call.Op, txHash, signed.Nonce(), call.GasLimit)

	waitCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	receipt, err := bind.WaitMined(waitCtx, s.node, signed)
	if err != nil {
		s.outcome(rec, StatusTimeout, 0, 0, err.Error())
		logger.Warnf("⚠️ %s inclusion not observed for %s: %v", call.Op, txHash, err)
		return nil, &SubmitTimeoutError{TxHash: txHash, Cause: err}
	}

	block := receipt.BlockNumber.Uint64()
	if receipt.Status == types.ReceiptStatusFailed {
		reason := s.revertReason(ctx, signed, receipt)
		s.outcome(rec, StatusReverted, block, receipt.GasUsed, reason)
		logger.Errorf("❌ %s reverted in block %d: %s (tx %s)", call.Op, block, reason, txHash)
		return nil, &RevertError{TxHash: txHash, Block: block, Reason: reason}
	}

	s.outcome(rec, StatusIncluded, block, receipt.GasUsed, "")
	logger.Infof("✓ %s confirmed in block %d, gas used %d (tx %s)", call.Op, block, receipt.GasUsed, txHash)

	return &TradeReceipt{
		Op:          call.Op,
		TxHash:      txHash,
		Block:       block,
		GasUsed:     receipt.GasUsed,
		PairIndex:   call.PairIndex,
		SubmittedAt: submittedAt,
		ConfirmedAt: time.Now(),
		Logs:        receipt.Logs,
	}, nil
}

// signNext builds and signs a legacy transaction on the next pending nonce.
// Caller holds the mutex.
func (s *ChainSubmitter) signNext(ctx context.Context, call *EncodedCall) (*types.Transaction, error) {
	nonce, err := s.node.PendingNonceAt(ctx, s.from)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to fetch nonce: %w", ErrSubmissionFailed, err)
	}
	gasPrice, err := s.node.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to fetch gas price: %w", ErrSubmissionFailed, err)
	}

	to := call.To
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      call.GasLimit,
		To:       &to,
		Value:    call.Value,
		Data:     call.Data,
	})
	signed, err := types.SignTx(tx, s.signer, s.priv)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to sign transaction: %w", ErrSubmissionFailed, err)
	}
	return signed, nil
}

func (s *ChainSubmitter) outcome(rec *SubmissionRecord, status string, block, gasUsed uint64, detail string) {
	rec.Status = status
	rec.Block = block
	rec.GasUsed = gasUsed
	rec.Detail = detail
	if s.rec != nil {
		s.rec.RecordOutcome(rec)
	}
}

// revertReason replays the failed call at its inclusion block and extracts
// the revert string, best effort. An empty string means the node did not
// expose one.
func (s *ChainSubmitter) revertReason(ctx context.Context, tx *types.Transaction, receipt *types.Receipt) string {
	msg := ethereum.CallMsg{
		From:     s.from,
		To:       tx.To(),
		Gas:      tx.Gas(),
		GasPrice: tx.GasPrice(),
		Value:    tx.Value(),
		Data:     tx.Data(),
	}
	_, err := s.node.CallContract(ctx, msg, receipt.BlockNumber)
	if err == nil {
		return ""
	}
	return revertReasonFrom(err)
}

// revertReasonFrom digs the ABI revert payload out of an RPC error. Falls
// back to the raw error text when the node carries no data or the payload
// is not a standard Error(string).
func revertReasonFrom(err error) string {
	var de rpc.DataError
	if !errors.As(err, &de) {
		return err.Error()
	}
	hexData, ok := de.ErrorData().(string)
	if !ok {
		return err.Error()
	}
	raw, decodeErr := hexutil.Decode(hexData)
	if decodeErr != nil {
		return err.Error()
	}
	reason, unpackErr := abi.UnpackRevert(raw)
	if unpackErr != nil {
		return err.Error()
	}
	return reason
}
