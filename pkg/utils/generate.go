package utils

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// GenerateBookingReference returns a human readable booking code:
// PREFIX-YYYYMMDD-HHMMSS-XXXXXXXX.
func GenerateBookingReference(prefix string, now time.Time) string {
	datePart := now.Format("20060102")
	timePart := now.Format("150405")
	randomPart := strings.ToUpper(uuid.NewString()[:8])

	return fmt.Sprintf("%s-%s-%s-%s", prefix, datePart, timePart, randomPart)
}
