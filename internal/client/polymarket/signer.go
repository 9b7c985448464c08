package polymarket

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"math/rand"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/shopspring/decimal"
)

// Polygon mainnet CTF exchange.
const (
	polygonChainID  = 137
	ctfExchangeAddr = "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E"
	zeroAddr        = "0x0000000000000000000000000000000000000000"
)

const (
	sigTypeEOA        = 0
	sigTypeGnosisSafe = 2
)

const (
	orderSideBuy  = 0
	orderSideSell = 1
)

// ctfOrder is one CTF exchange order before signing. Amounts are in
// 6-decimal token units (USDC collateral, outcome shares).
type ctfOrder struct {
	Salt          *big.Int
	Maker         common.Address
	Signer        common.Address
	Taker         common.Address
	TokenID       *big.Int
	MakerAmount   *big.Int
	TakerAmount   *big.Int
	Expiration    *big.Int
	Nonce         *big.Int
	FeeRateBps    *big.Int
	Side          uint8
	SignatureType uint8
}

// OrderSigner builds and signs EIP-712 CTF exchange orders. When a safe
// address is configured the safe is the maker and the key only signs.
type OrderSigner struct {
	privateKey *ecdsa.PrivateKey
	signer     common.Address
	funder     common.Address
	sigType    uint8
}

// NewOrderSigner parses a hex private key and optional Gnosis Safe funder.
func NewOrderSigner(privateKeyHex, safeAddress string) (*OrderSigner, error) {
	privateKeyHex = strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x")
	if privateKeyHex == "" {
		return nil, fmt.Errorf("polymarket private key not configured")
	}
	key, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	s := &OrderSigner{
		privateKey: key,
		signer:     crypto.PubkeyToAddress(key.PublicKey),
		sigType:    sigTypeEOA,
	}
	s.funder = s.signer
	if safe := strings.TrimSpace(safeAddress); safe != "" {
		s.funder = common.HexToAddress(safe)
		s.sigType = sigTypeGnosisSafe
	}
	return s, nil
}

func (s *OrderSigner) Address() common.Address {
	return s.signer
}

// buildBuyOrder makes a maker order buying size shares at price: we give
// price*size USDC, we receive size shares.
func (s *OrderSigner) buildBuyOrder(tokenID string, price, size decimal.Decimal) (*ctfOrder, error) {
	tok, ok := new(big.Int).SetString(strings.TrimSpace(tokenID), 10)
	if !ok {
		return nil, fmt.Errorf("invalid token id %q", tokenID)
	}
	makerAmount := toUnits(price.Mul(size), true)
	takerAmount := toUnits(size, false)

	return &ctfOrder{
		Salt:          big.NewInt(rand.Int63()),
		Maker:         s.funder,
		Signer:        s.signer,
		Taker:         common.HexToAddress(zeroAddr),
		TokenID:       tok,
		MakerAmount:   makerAmount,
		TakerAmount:   takerAmount,
		Expiration:    big.NewInt(0),
		Nonce:         big.NewInt(0),
		FeeRateBps:    big.NewInt(0),
		Side:          orderSideBuy,
		SignatureType: s.sigType,
	}, nil
}

// SignBuyOrder creates and signs a buy order, returning the /order payload
// body. orderType GTC with postOnly keeps the order maker-only.
func (s *OrderSigner) SignBuyOrder(tokenID string, price, size decimal.Decimal, owner string) (map[string]any, error) {
	order, err := s.buildBuyOrder(tokenID, price, size)
	if err != nil {
		return nil, err
	}
	sig, err := s.signOrder(order)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"order": map[string]any{
			"salt":          order.Salt.Int64(),
			"maker":         order.Maker.Hex(),
			"signer":        order.Signer.Hex(),
			"taker":         order.Taker.Hex(),
			"tokenId":       order.TokenID.String(),
			"makerAmount":   order.MakerAmount.String(),
			"takerAmount":   order.TakerAmount.String(),
			"expiration":    order.Expiration.String(),
			"nonce":         order.Nonce.String(),
			"feeRateBps":    order.FeeRateBps.String(),
			"side":          "BUY",
			"signatureType": int(order.SignatureType),
			"signature":     sig,
		},
		"owner":     owner,
		"orderType": "GTC",
		"postOnly":  true,
	}, nil
}

func (s *OrderSigner) signOrder(order *ctfOrder) (string, error) {
	typed := orderTypedData(order)

	domainHash, err := typed.HashStruct("EIP712Domain", typed.Domain.Map())
	if err != nil {
		return "", fmt.Errorf("hash domain: %w", err)
	}
	messageHash, err := typed.HashStruct(typed.PrimaryType, typed.Message)
	if err != nil {
		return "", fmt.Errorf("hash order: %w", err)
	}
	digest := crypto.Keccak256Hash([]byte("\x19\x01"), domainHash, messageHash)

	sig, err := crypto.Sign(digest.Bytes(), s.privateKey)
	if err != nil {
		return "", fmt.Errorf("sign order: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return fmt.Sprintf("0x%x", sig), nil
}

func orderTypedData(order *ctfOrder) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Order": {
				{Name: "salt", Type: "uint256"},
				{Name: "maker", Type: "address"},
				{Name: "signer", Type: "address"},
				{Name: "taker", Type: "address"},
				{Name: "tokenId", Type: "uint256"},
				{Name: "makerAmount", Type: "uint256"},
				{Name: "takerAmount", Type: "uint256"},
				{Name: "expiration", Type: "uint256"},
				{Name: "nonce", Type: "uint256"},
				{Name: "feeRateBps", Type: "uint256"},
				{Name: "side", Type: "uint8"},
				{Name: "signatureType", Type: "uint8"},
			},
		},
		PrimaryType: "Order",
		Domain: apitypes.TypedDataDomain{
			Name:              "Polymarket CTF Exchange",
			Version:           "1",
			ChainId:           math.NewHexOrDecimal256(polygonChainID),
			VerifyingContract: common.HexToAddress(ctfExchangeAddr).Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"salt":          order.Salt.String(),
			"maker":         order.Maker.Hex(),
			"signer":        order.Signer.Hex(),
			"taker":         order.Taker.Hex(),
			"tokenId":       order.TokenID.String(),
			"makerAmount":   order.MakerAmount.String(),
			"takerAmount":   order.TakerAmount.String(),
			"expiration":    order.Expiration.String(),
			"nonce":         order.Nonce.String(),
			"feeRateBps":    order.FeeRateBps.String(),
			"side":          fmt.Sprintf("%d", order.Side),
			"signatureType": fmt.Sprintf("%d", order.SignatureType),
		},
	}
}

// SignAuthMessage signs the CLOB L1 auth attestation used to derive API
// credentials.
func (s *OrderSigner) SignAuthMessage(timestamp string, nonce int64) (string, error) {
	typed := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
			},
			"ClobAuth": {
				{Name: "address", Type: "address"},
				{Name: "timestamp", Type: "string"},
				{Name: "nonce", Type: "uint256"},
				{Name: "message", Type: "string"},
			},
		},
		PrimaryType: "ClobAuth",
		Domain: apitypes.TypedDataDomain{
			Name:    "ClobAuthDomain",
			Version: "1",
			ChainId: math.NewHexOrDecimal256(polygonChainID),
		},
		Message: apitypes.TypedDataMessage{
			"address":   s.signer.Hex(),
			"timestamp": timestamp,
			"nonce":     big.NewInt(nonce).String(),
			"message":   "This message attests that I control the given wallet",
		},
	}

	domainHash, err := typed.HashStruct("EIP712Domain", typed.Domain.Map())
	if err != nil {
		return "", fmt.Errorf("hash domain: %w", err)
	}
	messageHash, err := typed.HashStruct(typed.PrimaryType, typed.Message)
	if err != nil {
		return "", fmt.Errorf("hash auth message: %w", err)
	}
	digest := crypto.Keccak256Hash([]byte("\x19\x01"), domainHash, messageHash)

	sig, err := crypto.Sign(digest.Bytes(), s.privateKey)
	if err != nil {
		return "", fmt.Errorf("sign auth message: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return fmt.Sprintf("0x%x", sig), nil
}

// toUnits converts a decimal amount to 6-decimal token units. Maker (USDC)
// amounts truncate so the order never exceeds budget; taker amounts round
// to 4 decimals per exchange precision rules.
func toUnits(amount decimal.Decimal, truncate bool) *big.Int {
	if truncate {
		return amount.Shift(6).Truncate(0).BigInt()
	}
	return amount.Round(4).Shift(6).Truncate(0).BigInt()
}
