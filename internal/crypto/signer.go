package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Polygon mainnet exchange contracts.
var (
	CTFExchange        = common.HexToAddress("0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B89056")
	NegRiskCTFExchange = common.HexToAddress("0xC5d563A36AE78145C45a50134d48A1215220f80a")
)

// Signature types accepted by the exchange.
const (
	SignatureEOA        = 0
	SignaturePolyProxy  = 1
	SignatureGnosisSafe = 2
)

// ClobAuthMessage is the fixed statement inside every ClobAuth message.
const ClobAuthMessage = "This message attests that I control the given wallet"

var (
	authDomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId)"),
	)
	exchangeDomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"),
	)
	clobAuthTypeHash = ethcrypto.Keccak256(
		[]byte("ClobAuth(address address,string timestamp,uint256 nonce,string message)"),
	)
	orderTypeHash = ethcrypto.Keccak256(
		[]byte("Order(uint256 salt,address maker,address signer,address taker,uint256 tokenId,uint256 makerAmount,uint256 takerAmount,uint256 expiration,uint256 nonce,uint256 feeRateBps,uint8 side,uint8 signatureType)"),
	)
)

// OrderPayload is a CLOB order in its wire form. Integers are base-10
// strings so they survive JSON unchanged.
type OrderPayload struct {
	Salt          string `json:"salt"`
	Maker         string `json:"maker"`
	Signer        string `json:"signer"`
	Taker         string `json:"taker"`
	TokenID       string `json:"tokenId"`
	MakerAmount   string `json:"makerAmount"`
	TakerAmount   string `json:"takerAmount"`
	Expiration    string `json:"expiration"`
	Nonce         string `json:"nonce"`
	FeeRateBps    string `json:"feeRateBps"`
	Side          int    `json:"side"` // 0 buy, 1 sell
	SignatureType int    `json:"signatureType"`
}

// Signer signs on behalf of one EOA.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
	chainID int64

	authDomain     []byte
	exchangeDomain []byte
	negRiskDomain  []byte
}

// NewSigner builds a Signer for chainID (137 on Polygon mainnet).
func NewSigner(key *ecdsa.PrivateKey, chainID int64) *Signer {
	return &Signer{
		key:            key,
		address:        ethcrypto.PubkeyToAddress(key.PublicKey),
		chainID:        chainID,
		authDomain:     authDomainSeparator(chainID),
		exchangeDomain: exchangeDomainSeparator(chainID, CTFExchange),
		negRiskDomain:  exchangeDomainSeparator(chainID, NegRiskCTFExchange),
	}
}

// Address returns the signing EOA.
func (s *Signer) Address() common.Address { return s.address }

// ChainID returns the chain the signer targets.
func (s *Signer) ChainID() int64 { return s.chainID }

// PrivateKey exposes the key for transaction signing.
func (s *Signer) PrivateKey() *ecdsa.PrivateKey { return s.key }

// SignAuthMessage signs the L1 ClobAuth message used to create or derive API
// credentials.
func (s *Signer) SignAuthMessage(timestamp, nonce int64) (string, error) {
	structHash := ethcrypto.Keccak256(concatBytes(
		clobAuthTypeHash,
		common.LeftPadBytes(s.address.Bytes(), 32),
		ethcrypto.Keccak256([]byte(strconv.FormatInt(timestamp, 10))),
		word(big.NewInt(nonce)),
		ethcrypto.Keccak256([]byte(ClobAuthMessage)),
	))
	return s.signTyped(s.authDomain, structHash)
}

// SignOrder signs order for the CTF exchange, or the neg-risk exchange when
// negRisk is set.
func (s *Signer) SignOrder(order OrderPayload, negRisk bool) (string, error) {
	structHash, err := orderStructHash(order)
	if err != nil {
		return "", err
	}
	domain := s.exchangeDomain
	if negRisk {
		domain = s.negRiskDomain
	}
	return s.signTyped(domain, structHash)
}

// SignHash signs a precomputed 32-byte hash and returns r||s||v with v in
// {27, 28}, the form a Safe accepts for an owner signature.
func (s *Signer) SignHash(hash []byte) ([]byte, error) {
	if len(hash) != 32 {
		return nil, fmt.Errorf("crypto: hash is %d bytes, want 32", len(hash))
	}
	sig, err := ethcrypto.Sign(hash, s.key)
	if err != nil {
		return nil, fmt.Errorf("crypto: sign: %w", err)
	}
	sig[64] += 27
	return sig, nil
}

func (s *Signer) signTyped(domainSep, structHash []byte) (string, error) {
	sig, err := s.SignHash(typedDataDigest(domainSep, structHash))
	if err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(sig), nil
}

func authDomainSeparator(chainID int64) []byte {
	return ethcrypto.Keccak256(concatBytes(
		authDomainTypeHash,
		ethcrypto.Keccak256([]byte("ClobAuthDomain")),
		ethcrypto.Keccak256([]byte("1")),
		word(big.NewInt(chainID)),
	))
}

func exchangeDomainSeparator(chainID int64, contract common.Address) []byte {
	return ethcrypto.Keccak256(concatBytes(
		exchangeDomainTypeHash,
		ethcrypto.Keccak256([]byte("Polymarket CTF Exchange")),
		ethcrypto.Keccak256([]byte("1")),
		word(big.NewInt(chainID)),
		common.LeftPadBytes(contract.Bytes(), 32),
	))
}

// typedDataDigest is keccak256("\x19\x01" || domainSeparator || structHash).
func typedDataDigest(domainSep, structHash []byte) []byte {
	return ethcrypto.Keccak256([]byte{0x19, 0x01}, domainSep, structHash)
}

func orderStructHash(o OrderPayload) ([]byte, error) {
	fields := []struct{ name, v string }{
		{"salt", o.Salt},
		{"tokenId", o.TokenID},
		{"makerAmount", o.MakerAmount},
		{"takerAmount", o.TakerAmount},
		{"expiration", o.Expiration},
		{"nonce", o.Nonce},
		{"feeRateBps", o.FeeRateBps},
	}
	n := make(map[string]*big.Int, len(fields))
	for _, f := range fields {
		v, ok := new(big.Int).SetString(f.v, 10)
		if !ok || v.Sign() < 0 {
			return nil, fmt.Errorf("crypto: order %s %q is not a uint256", f.name, f.v)
		}
		n[f.name] = v
	}
	for _, a := range []string{o.Maker, o.Signer, o.Taker} {
		if !common.IsHexAddress(a) {
			return nil, fmt.Errorf("crypto: order address %q invalid", a)
		}
	}
	return ethcrypto.Keccak256(concatBytes(
		orderTypeHash,
		word(n["salt"]),
		common.LeftPadBytes(common.HexToAddress(o.Maker).Bytes(), 32),
		common.LeftPadBytes(common.HexToAddress(o.Signer).Bytes(), 32),
		common.LeftPadBytes(common.HexToAddress(o.Taker).Bytes(), 32),
		word(n["tokenId"]),
		word(n["makerAmount"]),
		word(n["takerAmount"]),
		word(n["expiration"]),
		word(n["nonce"]),
		word(n["feeRateBps"]),
		word(big.NewInt(int64(o.Side))),
		word(big.NewInt(int64(o.SignatureType))),
	)), nil
}

// word left-pads n to a 32-byte big-endian word.
func word(n *big.Int) []byte {
	return common.LeftPadBytes(n.Bytes(), 32)
}

func concatBytes(parts ...[]byte) []byte {
	size := 0
	for _, p := range parts {
		size += len(p)
	}
	out := make([]byte, 0, size)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
