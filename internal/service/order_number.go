package service

import (
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewOrderNumber returns ORD-<UTC timestamp>-<12 random hex chars>. The
// suffix comes from the random bytes of a v4 UUID.
func NewOrderNumber(now time.Time) string {
	u := uuid.New()
	return "ORD-" + now.UTC().Format("20060102150405") + "-" + strings.ToUpper(hex.EncodeToString(u[:6]))
}
