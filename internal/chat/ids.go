package chat

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/suPer8Hu/career-counselor/internal/common"
)

// AnonymousSessionPrefix marks session ids that live only on the client.
const AnonymousSessionPrefix = "anon_session_"

func NewSessionID() (string, error) {
	return common.NewULID()
}

func IsAnonymousSessionID(id string) bool {
	return strings.HasPrefix(id, AnonymousSessionPrefix)
}

// NewAnonymousSessionID returns anon_session_<unix ms>_<9 random base36 chars>.
func NewAnonymousSessionID(now time.Time) (string, error) {
	return NewLocalID(AnonymousSessionPrefix, now)
}

// NewLocalID returns prefix<unix ms>_<9 random base36 chars>, the shape used
// for identifiers minted on the client.
func NewLocalID(prefix string, now time.Time) (string, error) {
	suffix, err := randomBase36(9)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%d_%s", prefix, now.UnixMilli(), suffix), nil
}

// NewTempMessageID identifies echoed messages that are never stored server side.
func NewTempMessageID() string {
	return "temp_" + uuid.NewString()
}

func randomBase36(n int) (string, error) {
	const letters = "abcdefghijklmnopqrstuvwxyz0123456789"
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		v, err := rand.Int(rand.Reader, big.NewInt(int64(len(letters))))
		if err != nil {
			return "", err
		}
		out[i] = letters[v.Int64()]
	}
	return string(out), nil
}
