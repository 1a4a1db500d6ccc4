package integrity

import (
	"crypto/ed25519"
	"fmt"

	"github.com/mr-tron/base58"

	"kairo/internal/logging"
)

// BuildVoteMessage renders the exact message a wallet must sign to cast
// a vote. Any byte-level deviation fails verification.
func BuildVoteMessage(cycleID, stance, endsAt string) string {
	return fmt.Sprintf("KAIRO VOTE\ncycleId: %s\nstance: %s\nexpires: %s", cycleID, stance, endsAt)
}

// VerifyWalletSignature checks an ed25519 signature over message. Wallet
// and signature are base58-encoded. Any decode failure verifies false.
func VerifyWalletSignature(wallet, message, signature string) bool {
	if wallet == "" || message == "" || signature == "" {
		return false
	}
	pubKey, err := base58.Decode(wallet)
	if err != nil || len(pubKey) != ed25519.PublicKeySize {
		logging.VotesWarn("bad wallet key %s: %v", wallet, err)
		return false
	}
	sig, err := base58.Decode(signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		logging.VotesWarn("bad signature from %s: %v", wallet, err)
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pubKey), []byte(message), sig)
}
