// Package evm provides read-only contract calls against an EVM JSON-RPC node,
// classifying failures into the domain error kinds.
package evm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alanyoungcy/lendwatch/internal/domain"
)

// rateLimitMarkers are substrings RPC providers use for throttling errors.
var rateLimitMarkers = []string{"rate limit", "too many requests", "compute units", "429"}

// Client issues eth_call requests at the latest block.
type Client struct {
	caller ethereum.ContractCaller
	closer func()
}

// NewClient wraps any ContractCaller, such as *ethclient.Client or a
// simulated backend.
func NewClient(caller ethereum.ContractCaller) *Client {
	return &Client{caller: caller}
}

// Dial connects to rpcURL.
func Dial(ctx context.Context, rpcURL string) (*Client, error) {
	ec, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("evm: dial: %w", err)
	}
	return &Client{caller: ec, closer: ec.Close}, nil
}

// Close releases the underlying connection when the client owns one.
func (c *Client) Close() {
	if c.closer != nil {
		c.closer()
	}
}

// CallReadOnly packs method(args...) with contractABI, executes it against
// contract and returns the unpacked outputs.
//
// Transport failures wrap domain.ErrTransientSource (and domain.ErrRateLimited
// when the provider is throttling). Reverts, empty return data and decode
// failures wrap domain.ErrDataFormat. A done ctx yields domain.ErrCancelled.
func (c *Client) CallReadOnly(ctx context.Context, contract common.Address, contractABI *abi.ABI, method string, args ...any) ([]any, error) {
	input, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, domain.DataFormatf("evm: pack %s: %v", method, err)
	}

	out, err := c.caller.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: input}, nil)
	if err != nil {
		return nil, classify(ctx, method, contract, err)
	}
	if len(out) == 0 {
		return nil, domain.DataFormatf("evm: %s on %s returned no data", method, contract.Hex())
	}

	values, err := contractABI.Unpack(method, out)
	if err != nil {
		return nil, domain.DataFormatf("evm: unpack %s: %v", method, err)
	}
	return values, nil
}

func classify(ctx context.Context, method string, contract common.Address, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("evm: call %s: %w", method, domain.Cancelled(ctxErr))
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("evm: call %s: %w", method, domain.Cancelled(err))
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "execution reverted") {
		return domain.DataFormatf("evm: %s on %s reverted: %v", method, contract.Hex(), err)
	}
	for _, m := range rateLimitMarkers {
		if strings.Contains(msg, m) {
			return fmt.Errorf("evm: call %s: %w", method, domain.Transient(fmt.Errorf("%w: %w", domain.ErrRateLimited, err)))
		}
	}
	return fmt.Errorf("evm: call %s: %w", method, domain.Transient(err))
}

// MustParseABI parses a JSON ABI and panics on malformed input. It is meant
// for package-level ABI literals.
func MustParseABI(def string) *abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("evm: parse abi: %v", err))
	}
	return &parsed
}
