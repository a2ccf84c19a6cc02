package totp

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// BackupCodeCount codes of 8 uppercase hex characters each. Plaintext is
// handed to the user exactly once; only hashes are stored.
const BackupCodeCount = 10

func GenerateBackupCodes(count int) ([]string, error) {
	if count <= 0 {
		count = BackupCodeCount
	}
	codes := make([]string, 0, count)
	for i := 0; i < count; i++ {
		b := make([]byte, 4)
		if _, err := rand.Read(b); err != nil {
			return nil, fmt.Errorf("generate backup code: %w", err)
		}
		codes = append(codes, strings.ToUpper(hex.EncodeToString(b)))
	}
	return codes, nil
}

// HashBackupCode is a stable one-way hash; input is normalized to uppercase
// so codes are case-insensitive at redemption.
func HashBackupCode(code string) string {
	sum := sha256.Sum256([]byte(strings.ToUpper(strings.TrimSpace(code))))
	return hex.EncodeToString(sum[:])
}

func HashBackupCodes(codes []string) []string {
	hashes := make([]string, 0, len(codes))
	for _, c := range codes {
		hashes = append(hashes, HashBackupCode(c))
	}
	return hashes
}

// ConsumeBackupCode checks membership of codeHash and, on a match, returns
// the remaining set with that hash removed. A code authenticates at most
// once, ever.
func ConsumeBackupCode(codeHash string, storedHashes []string) (bool, []string) {
	for i, h := range storedHashes {
		if h == codeHash {
			remaining := make([]string, 0, len(storedHashes)-1)
			remaining = append(remaining, storedHashes[:i]...)
			remaining = append(remaining, storedHashes[i+1:]...)
			return true, remaining
		}
	}
	return false, storedHashes
}
