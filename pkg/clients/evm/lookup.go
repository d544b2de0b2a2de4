// Package evm reads source chain transactions from EVM JSON-RPC endpoints.
package evm

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/model"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/resilience"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/protocol"
	"github.com/smartcontractkit/chainlink-common/pkg/logger"
)

// RPCClient is the subset of ethclient.Client used by the lookup.
type RPCClient interface {
	TransactionByHash(ctx context.Context, hash common.Hash) (tx *types.Transaction, isPending bool, err error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

var _ protocol.ChainLookup = (*Lookup)(nil)

// Lookup routes each request to the RPC client of the source chain.
type Lookup struct {
	clients map[protocol.ChainSelector]RPCClient
	lggr    logger.SugaredLogger
}

func NewLookup(clients map[protocol.ChainSelector]RPCClient, lggr logger.SugaredLogger) *Lookup {
	return &Lookup{clients: clients, lggr: lggr}
}

// Dial connects to every configured chain. The returned function closes all connections.
func Dial(ctx context.Context, chains []model.ChainConfig, lggr logger.SugaredLogger) (*Lookup, func(), error) {
	clients := make(map[protocol.ChainSelector]RPCClient, len(chains))
	var opened []*ethclient.Client
	closeAll := func() {
		for _, c := range opened {
			c.Close()
		}
	}

	for _, chain := range chains {
		client, err := ethclient.DialContext(ctx, chain.RPCURL)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("failed to dial chain %d: %w", chain.Selector, err)
		}
		opened = append(opened, client)
		clients[protocol.ChainSelector(chain.Selector)] = client
		lggr.Infow("Connected to chain", "chainSelector", chain.Selector)
	}
	return NewLookup(clients, lggr), closeAll, nil
}

// Lookup reports whether txRef exists on chain and the digest of its calldata. A reverted
// transaction is reported as non-existent. A transaction that is not yet mined is indeterminate.
func (l *Lookup) Lookup(ctx context.Context, chain protocol.ChainSelector, txRef protocol.Bytes32) (*protocol.ChainTx, error) {
	client, ok := l.clients[chain]
	if !ok {
		return nil, resilience.Permanent(fmt.Errorf("%w: no rpc client for chain %d", protocol.ErrNotConfigured, chain))
	}
	hash := common.Hash(txRef)

	tx, pending, err := client.TransactionByHash(ctx, hash)
	switch {
	case errors.Is(err, ethereum.NotFound):
		return nil, fmt.Errorf("%w: %s on chain %d", protocol.ErrTxNotFound, hash.Hex(), chain)
	case err != nil:
		return nil, fmt.Errorf("failed to get transaction %s: %w", hash.Hex(), err)
	case pending:
		return nil, fmt.Errorf("%w: transaction %s is pending", protocol.ErrIndeterminate, hash.Hex())
	}

	receipt, err := client.TransactionReceipt(ctx, hash)
	switch {
	case errors.Is(err, ethereum.NotFound):
		return nil, fmt.Errorf("%w: receipt of %s not available", protocol.ErrIndeterminate, hash.Hex())
	case err != nil:
		return nil, fmt.Errorf("failed to get receipt %s: %w", hash.Hex(), err)
	}

	result := &protocol.ChainTx{
		Exists:        receipt.Status == types.ReceiptStatusSuccessful,
		PayloadDigest: protocol.Keccak256(tx.Data()),
	}
	if receipt.BlockNumber != nil {
		result.BlockHeight = receipt.BlockNumber.Uint64()
	}
	if !result.Exists {
		l.lggr.Infow("Source transaction reverted", "chainSelector", chain, "txHash", hash.Hex())
	}
	return result, nil
}
