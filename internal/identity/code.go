package identity

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"
)

const (
	codeAlphabet   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeMaxLength  = 8
	randomMinChars = 4
	randomMaxChars = 6
)

// CodeGenerator produces candidate referral codes; collisions are retried by Sync.
type CodeGenerator func() (string, error)

// NewReferralCode returns 4-6 random alphanumerics followed by the last two
// base36 digits of the current millisecond clock, uppercase, at most 8 chars.
func NewReferralCode() (string, error) {
	return referralCodeAt(time.Now())
}

func referralCodeAt(now time.Time) (string, error) {
	extra, err := randomIndex(randomMaxChars - randomMinChars + 1)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for i := 0; i < randomMinChars+extra; i++ {
		idx, err := randomIndex(len(codeAlphabet))
		if err != nil {
			return "", err
		}
		b.WriteByte(codeAlphabet[idx])
	}

	stamp := strconv.FormatInt(now.UnixMilli(), 36)
	if len(stamp) > 2 {
		stamp = stamp[len(stamp)-2:]
	}
	b.WriteString(stamp)

	code := strings.ToUpper(b.String())
	if len(code) > codeMaxLength {
		code = code[:codeMaxLength]
	}
	return code, nil
}

func randomIndex(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("read random: %w", err)
	}
	return int(v.Int64()), nil
}
