// Package util provides utility functions for the CarePipe application.
package util

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RunIDPrefix prefixes every request/response pipeline run identifier.
const RunIDPrefix = "APPT"

// shortHex returns the first n upper-case hex characters of a fresh random UUID.
func shortHex(n int) string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	if n > len(hex) {
		n = len(hex)
	}
	return strings.ToUpper(hex[:n])
}

// GenerateSessionID generates a console session ID of 8 upper-case hex characters.
func GenerateSessionID() string {
	return shortHex(8)
}

// GenerateRunID generates a pipeline run ID in the format APPT-<UTC timestamp>-<8 hex>.
func GenerateRunID(now time.Time) string {
	return fmt.Sprintf("%s-%s-%s", RunIDPrefix, now.UTC().Format("20060102T150405Z"), shortHex(8))
}
