package token

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"

	xerrors "TokenAction-Chain/internal/errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/core/txpool"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// rejectionErrs are node answers that mean the transaction was refused and
// will not be mined as submitted.
var rejectionErrs = []error{
	// Nonces
	core.ErrNonceTooLow,
	core.ErrNonceTooHigh,
	core.ErrNonceMax,

	// Fees
	txpool.ErrReplaceUnderpriced,
	txpool.ErrUnderpriced,
	core.ErrTipAboveFeeCap,
	core.ErrFeeCapTooLow,

	// Validity
	txpool.ErrOversizedData,
	txpool.ErrInvalidSender,
	txpool.ErrGasLimit,
	txpool.ErrNegativeValue,
	core.ErrInsufficientFunds,
	core.ErrInsufficientFundsForTransfer,
	core.ErrGasUintOverflow,
	core.ErrIntrinsicGas,
	core.ErrTxTypeNotSupported,
}

const revertMarker = "execution reverted"

// recognize maps err onto a known txpool or core error by message. Errors
// that crossed the JSON-RPC boundary lose their identity, so only the text
// is left to compare.
func recognize(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, txpool.ErrAlreadyKnown.Error()) {
		return txpool.ErrAlreadyKnown
	}
	for _, known := range rejectionErrs {
		if strings.Contains(msg, known.Error()) {
			return known
		}
	}
	return nil
}

func isAlreadyKnown(err error) bool {
	return errors.Is(recognize(err), txpool.ErrAlreadyKnown)
}

func isRevert(err error) bool {
	var dataErr gethrpc.DataError
	if errors.As(err, &dataErr) && dataErr.ErrorData() != nil {
		return true
	}
	return strings.Contains(err.Error(), revertMarker)
}

func isNodeError(err error) bool {
	var rpcErr gethrpc.Error
	return errors.As(err, &rpcErr)
}

// neverDelivered reports failures that happen before a single request byte
// can reach the node.
func neverDelivered(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var httpErr gethrpc.HTTPError
	if errors.As(err, &httpErr) {
		// 4xx comes from the gateway in front of the node; the request was
		// not processed.
		return httpErr.StatusCode >= http.StatusBadRequest && httpErr.StatusCode < http.StatusInternalServerError
	}
	return false
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func nodeMessage(err error) string {
	var rpcErr gethrpc.Error
	if errors.As(err, &rpcErr) {
		return rpcErr.Error()
	}
	return err.Error()
}

// readFailure classifies an eth_call error. A revert means the contract does
// not answer the call as declared; anything else is the endpoint's fault.
func readFailure(method string, err error) error {
	if _, ok := xerrors.From(err); ok {
		return err
	}
	if isRevert(err) {
		return xerrors.Wrap(xerrors.CodeDecodeError, err, method+" 调用被合约回滚")
	}
	return xerrors.Wrap(xerrors.CodeRPCUnavailable, err, method+" 调用失败")
}

// preflightFailure classifies errors raised while preparing a transaction.
// Nothing has been broadcast yet.
func preflightFailure(stage string, err error) error {
	if _, ok := xerrors.From(err); ok {
		return err
	}
	if isRevert(err) || recognize(err) != nil {
		return xerrors.Wrap(xerrors.CodeSubmissionRejected, err, stage+"被节点拒绝",
			xerrors.WithMetadata("node_message", nodeMessage(err)))
	}
	return xerrors.Wrap(xerrors.CodeRPCUnavailable, err, stage+"失败")
}

// sendFailure classifies an eth_sendRawTransaction error. Only a definite
// node answer or a failure before delivery is reported as non-ambiguous.
func sendFailure(hash common.Hash, nonce uint64, err error) error {
	nonceMeta := xerrors.WithMetadata("nonce", strconv.FormatUint(nonce, 10))
	if isNodeError(err) || recognize(err) != nil {
		return xerrors.Wrap(xerrors.CodeSubmissionRejected, err, "交易被节点拒绝",
			xerrors.WithMetadata("node_message", nodeMessage(err)),
			xerrors.WithMetadata("tx_hash", hash.Hex()), nonceMeta)
	}
	if neverDelivered(err) {
		return xerrors.Wrap(xerrors.CodeRPCUnavailable, err, "无法连接节点，交易未广播")
	}
	reason := "交易广播中断，结果未知"
	if errors.Is(err, context.Canceled) {
		reason = "交易广播被取消，结果未知"
	} else if isTimeout(err) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		reason = "交易广播超时，结果未知"
	}
	return xerrors.Wrap(xerrors.CodeSubmissionAmbiguous, err, reason,
		xerrors.WithMetadata("tx_hash", hash.Hex()), nonceMeta)
}
