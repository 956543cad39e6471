package ledger

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

const (
	codeAlphabet  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeGroups    = 3
	codeGroupSize = 4
)

func generateID() string {
	return uuid.New().String()
}

// generateActivationCode returns a code shaped like "ABCD-EF12-3456".
func generateActivationCode() (string, error) {
	max := big.NewInt(int64(len(codeAlphabet)))
	var b strings.Builder
	for g := 0; g < codeGroups; g++ {
		if g > 0 {
			b.WriteByte('-')
		}
		for i := 0; i < codeGroupSize; i++ {
			n, err := rand.Int(rand.Reader, max)
			if err != nil {
				return "", fmt.Errorf("failed to generate activation code: %w", err)
			}
			b.WriteByte(codeAlphabet[n.Int64()])
		}
	}
	return b.String(), nil
}

// normalizeCardRef upper-cases things that look like activation codes so
// users can type them in any case. Card ids are returned unchanged.
func normalizeCardRef(ref string) string {
	ref = strings.TrimSpace(ref)
	if len(ref) == codeGroups*codeGroupSize+codeGroups-1 && strings.Count(ref, "-") == codeGroups-1 {
		return strings.ToUpper(ref)
	}
	return ref
}
