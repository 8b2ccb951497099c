package signature

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/sha3"
)

var (
	errSignatureEncoding = errors.New("signature must be 0x-prefixed hex")
	errSignatureLength   = errors.New("signature must be 65 bytes")
	errSignatureV        = errors.New("signature recovery id must be 0, 1, 27 or 28")
	errSignatureValues   = errors.New("signature r/s values out of range")
)

// personalMessageHash hashes msg the way personal_sign does (EIP-191 version 0x45).
func personalMessageHash(msg string) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte("\x19Ethereum Signed Message:\n" + strconv.Itoa(len(msg)) + msg))
	return h.Sum(nil)
}

// decodeSignature parses a 65-byte r||s||v signature and normalizes v to 0/1.
func decodeSignature(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "0x") && !strings.HasPrefix(raw, "0X") {
		return nil, errSignatureEncoding
	}
	sig, err := hex.DecodeString(raw[2:])
	if err != nil {
		return nil, errSignatureEncoding
	}
	if len(sig) != crypto.SignatureLength {
		return nil, errSignatureLength
	}
	v := sig[crypto.RecoveryIDOffset]
	switch v {
	case 0, 1:
	case 27, 28:
		sig[crypto.RecoveryIDOffset] = v - 27
	default:
		return nil, errSignatureV
	}
	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:64])
	if !crypto.ValidateSignatureValues(sig[crypto.RecoveryIDOffset], r, s, true) {
		return nil, errSignatureValues
	}
	return sig, nil
}

// RecoverSigner returns the address that produced signature over msg with
// personal_sign. The address is derived only from the signature.
func RecoverSigner(msg, signature string) (common.Address, error) {
	sig, err := decodeSignature(signature)
	if err != nil {
		return common.Address{}, err
	}
	pub, err := crypto.SigToPub(personalMessageHash(msg), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
