package proofs

import (
	"strconv"
	"strings"
)

// SignatureMessage reconstructs the exact text the token owner must sign
// with personal_sign. Any difference in the signed text changes the
// recovered address, so the layout is fixed.
func SignatureMessage(chainID int64, contractAddress, requestID, nonce, timestamp string) string {
	var b strings.Builder
	b.WriteString("tokenverif wants you to verify control of a token contract.\n\n")
	b.WriteString("Chain ID: ")
	b.WriteString(strconv.FormatInt(chainID, 10))
	b.WriteString("\nContract: ")
	b.WriteString(strings.ToLower(contractAddress))
	b.WriteString("\nRequest ID: ")
	b.WriteString(requestID)
	b.WriteString("\nNonce: ")
	b.WriteString(nonce)
	b.WriteString("\nTimestamp: ")
	b.WriteString(timestamp)
	return b.String()
}
