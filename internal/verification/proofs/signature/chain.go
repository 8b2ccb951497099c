package signature

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"tokenverif/internal/verification/proofs"
)

// ErrNoOwnerAccessor means the contract has no callable owner() or it reverted.
var ErrNoOwnerAccessor = errors.New("contract has no owner accessor")

// ownerSelector is keccak256("owner()")[:4].
var ownerSelector = common.FromHex("0x8da5cb5b")

// ChainReader is the EVM access the signature verifier needs.
type ChainReader interface {
	CodeAt(ctx context.Context, chainID int64, address common.Address) ([]byte, error)
	Owner(ctx context.Context, chainID int64, address common.Address) (common.Address, error)
}

// EthReader implements ChainReader over one JSON-RPC endpoint per chain.
type EthReader struct {
	clients map[int64]*ethclient.Client
}

// DialChains connects to every configured chain.
func DialChains(ctx context.Context, urls map[int64]string) (*EthReader, error) {
	r := &EthReader{clients: make(map[int64]*ethclient.Client, len(urls))}
	for chainID, url := range urls {
		c, err := ethclient.DialContext(ctx, url)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("dial chain %d: %w", chainID, err)
		}
		r.clients[chainID] = c
	}
	return r, nil
}

func (r *EthReader) client(chainID int64) (*ethclient.Client, error) {
	c, ok := r.clients[chainID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", proofs.ErrUnsupportedChain, chainID)
	}
	return c, nil
}

func (r *EthReader) CodeAt(ctx context.Context, chainID int64, address common.Address) ([]byte, error) {
	c, err := r.client(chainID)
	if err != nil {
		return nil, err
	}
	return c.CodeAt(ctx, address, nil)
}

// Owner calls owner() at the latest block. Only a revert or a short return
// value maps to ErrNoOwnerAccessor. Every other failure, including JSON-RPC
// errors such as rate limits or missing headers, is returned unchanged.
func (r *EthReader) Owner(ctx context.Context, chainID int64, address common.Address) (common.Address, error) {
	c, err := r.client(chainID)
	if err != nil {
		return common.Address{}, err
	}
	out, err := c.CallContract(ctx, ethereum.CallMsg{To: &address, Data: ownerSelector}, nil)
	if err != nil {
		if isRevert(err) {
			return common.Address{}, ErrNoOwnerAccessor
		}
		return common.Address{}, err
	}
	if len(out) < 32 {
		return common.Address{}, ErrNoOwnerAccessor
	}
	return common.BytesToAddress(out[12:32]), nil
}

// revertCode is the JSON-RPC error code geth uses for reverted calls.
const revertCode = 3

// isRevert reports whether the node executed the call and it reverted.
// Nodes that do not use code 3 still say "execution reverted".
func isRevert(err error) bool {
	var rpcErr rpc.Error
	if !errors.As(err, &rpcErr) {
		return false
	}
	if rpcErr.ErrorCode() == revertCode {
		return true
	}
	return strings.Contains(strings.ToLower(rpcErr.Error()), "execution reverted")
}

// rateLimitCode is the JSON-RPC "limit exceeded" code (EIP-1474).
const rateLimitCode = -32005

// isRateLimited reports whether the node throttled the call.
func isRateLimited(err error) bool {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == rateLimitCode {
		return true
	}
	var httpErr rpc.HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusTooManyRequests
}

// Ping checks that every chain endpoint answers.
func (r *EthReader) Ping(ctx context.Context) error {
	for chainID, c := range r.clients {
		if _, err := c.ChainID(ctx); err != nil {
			return fmt.Errorf("chain %d: %w", chainID, err)
		}
	}
	return nil
}

func (r *EthReader) Close() {
	for _, c := range r.clients {
		c.Close()
	}
}
