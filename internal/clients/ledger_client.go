package clients

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"solver-backend/internal/config"
	"solver-backend/internal/interfaces"
	"solver-backend/internal/models"
)

// EthLedgerClient submits settlements to the dark pool contract over
// JSON-RPC. Multiple endpoints are tried in order; the first healthy one
// is used until it fails.
type EthLedgerClient struct {
	endpoints  []string
	client     *ethclient.Client
	chainID    *big.Int
	contract   common.Address
	privateKey *ecdsa.PrivateKey
	fromAddr   common.Address
	gasLimit   uint64
	gasPrice   *big.Int
	timeout    time.Duration
}

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(fmt.Sprintf("invalid abi type %s: %v", t, err))
	}
	return typ
}

var (
	settleMatchArgs = abi.Arguments{
		{Type: mustType("bytes32")}, // nullifierA
		{Type: mustType("bytes32")}, // nullifierB
		{Type: mustType("uint256")}, // amountAOut
		{Type: mustType("uint256")}, // amountBOut
		{Type: mustType("bytes")},   // proofA
		{Type: mustType("bytes")},   // proofB
	}
	settleMatchSelector = crypto.Keccak256([]byte("settleMatch(bytes32,bytes32,uint256,uint256,bytes,bytes)"))[:4]

	isSettledArgs     = abi.Arguments{{Type: mustType("bytes32")}}
	isSettledSelector = crypto.Keccak256([]byte("isIntentSettled(bytes32)"))[:4]
)

// NewEthLedgerClient dials the configured RPC endpoints and prepares the
// solver signing account
func NewEthLedgerClient(cfg *config.LedgerConfig) (*EthLedgerClient, error) {
	if len(cfg.RPCEndpoints) == 0 {
		return nil, fmt.Errorf("no ledger RPC endpoints configured")
	}

	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.SolverPrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid solver private key: %w", err)
	}

	var gasPrice *big.Int
	if cfg.GasPrice != "" {
		gasPrice, _ = new(big.Int).SetString(cfg.GasPrice, 10)
	}

	c := &EthLedgerClient{
		endpoints:  cfg.RPCEndpoints,
		chainID:    big.NewInt(cfg.ChainID),
		contract:   common.HexToAddress(cfg.DarkPoolContract),
		privateKey: privateKey,
		fromAddr:   crypto.PubkeyToAddress(privateKey.PublicKey),
		gasLimit:   cfg.GasLimit,
		gasPrice:   gasPrice,
		timeout:    time.Duration(cfg.CallTimeout) * time.Second,
	}

	if err := c.connect(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *EthLedgerClient) connect() error {
	var lastErr error
	for _, endpoint := range c.endpoints {
		client, err := ethclient.Dial(endpoint)
		if err != nil {
			lastErr = err
			continue
		}
		c.client = client
		return nil
	}
	return fmt.Errorf("all ledger RPC endpoints failed: %w", lastErr)
}

// SolverAddress returns the solver's signing address
func (c *EthLedgerClient) SolverAddress() string {
	return c.fromAddr.Hex()
}

// PendingNonce returns the solver account's next nonce as seen by the node
func (c *EthLedgerClient) PendingNonce(ctx context.Context) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	nonce, err := c.client.PendingNonceAt(ctx, c.fromAddr)
	if err != nil {
		return 0, interfaces.NewSettleError(interfaces.SettleErrTransient,
			fmt.Errorf("failed to fetch account nonce: %w", err))
	}
	return nonce, nil
}

// SubmitSettlement signs and submits the atomic swap for a matched pair
func (c *EthLedgerClient) SubmitSettlement(ctx context.Context, match *models.Match, a, b *models.Intent, nonce uint64) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	amountAOut, ok := new(big.Int).SetString(match.AmountAOut, 10)
	if !ok {
		return "", interfaces.NewSettleError(interfaces.SettleErrDomain,
			fmt.Errorf("invalid amount_a_out on match %s", match.ID))
	}
	amountBOut, ok := new(big.Int).SetString(match.AmountBOut, 10)
	if !ok {
		return "", interfaces.NewSettleError(interfaces.SettleErrDomain,
			fmt.Errorf("invalid amount_b_out on match %s", match.ID))
	}

	packed, err := settleMatchArgs.Pack(
		common.HexToHash(a.Nullifier),
		common.HexToHash(b.Nullifier),
		amountAOut,
		amountBOut,
		[]byte(a.ProofData),
		[]byte(b.ProofData),
	)
	if err != nil {
		return "", interfaces.NewSettleError(interfaces.SettleErrDomain,
			fmt.Errorf("failed to encode settlement calldata: %w", err))
	}
	calldata := append(settleMatchSelector, packed...)

	gasPrice := c.gasPrice
	if gasPrice == nil {
		gasPrice, err = c.client.SuggestGasPrice(ctx)
		if err != nil {
			return "", interfaces.NewSettleError(interfaces.SettleErrTransient,
				fmt.Errorf("failed to fetch gas price: %w", err))
		}
	}

	tx := types.NewTransaction(nonce, c.contract, big.NewInt(0), c.gasLimit, gasPrice, calldata)
	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.privateKey)
	if err != nil {
		return "", interfaces.NewSettleError(interfaces.SettleErrDomain,
			fmt.Errorf("failed to sign settlement tx: %w", err))
	}

	if err := c.client.SendTransaction(ctx, signedTx); err != nil {
		return "", classifySubmitError(err)
	}
	return signedTx.Hash().Hex(), nil
}

// TransactionStatus reports whether a submitted settlement confirmed
func (c *EthLedgerClient) TransactionStatus(ctx context.Context, txHash string) (interfaces.TxStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	receipt, err := c.client.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			return interfaces.TxStatusPending, nil
		}
		return interfaces.TxStatusUnknown, err
	}
	if receipt.Status == types.ReceiptStatusSuccessful {
		return interfaces.TxStatusConfirmed, nil
	}
	return interfaces.TxStatusReverted, nil
}

// IsIntentSettled queries the contract's settlement registry
func (c *EthLedgerClient) IsIntentSettled(ctx context.Context, nullifier string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	packed, err := isSettledArgs.Pack(common.HexToHash(nullifier))
	if err != nil {
		return false, err
	}
	calldata := append(isSettledSelector, packed...)

	msg := ethereum.CallMsg{To: &c.contract, Data: calldata}
	result, err := c.client.CallContract(ctx, msg, nil)
	if err != nil {
		return false, err
	}
	if len(result) < 32 {
		return false, nil
	}
	return result[31] != 0, nil
}

// classifySubmitError maps a node error to a retry class by message.
// Domain errors are rejections the contract or account state would raise
// again on an identical retry; everything else is transient.
func classifySubmitError(err error) error {
	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "nonce too low"),
		strings.Contains(msg, "invalid nonce"),
		strings.Contains(msg, "nonce too high"),
		strings.Contains(msg, "replacement transaction underpriced"):
		return interfaces.NewSettleError(interfaces.SettleErrNonceMismatch, err)

	case strings.Contains(msg, "insufficient funds"),
		strings.Contains(msg, "insufficient balance"),
		strings.Contains(msg, "insufficient allowance"),
		strings.Contains(msg, "invalid proof"),
		strings.Contains(msg, "execution reverted"):
		return interfaces.NewSettleError(interfaces.SettleErrDomain, err)
	}
	return interfaces.NewSettleError(interfaces.SettleErrTransient, err)
}
