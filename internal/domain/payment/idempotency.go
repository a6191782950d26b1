package payment

import (
	"crypto/md5" // #nosec G501 -- name-based UUIDv3, not used for security.
	"time"

	"github.com/google/uuid"
)

// IdempotencyKey derives a deterministic order id from seed as a
// name-based (version 3) UUID of its bytes with no namespace. An empty
// seed falls back to the current time so each checkout is unique.
func IdempotencyKey(seed string) string {
	if seed == "" {
		seed = time.Now().String()
	}
	sum := md5.Sum([]byte(seed)) // #nosec G401
	sum[6] = (sum[6] & 0x0f) | 0x30
	sum[8] = (sum[8] & 0x3f) | 0x80
	return uuid.UUID(sum).String()
}
