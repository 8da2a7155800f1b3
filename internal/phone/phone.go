// Package phone normalizes business phone numbers.
package phone

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// Business pages are matched against U.S. federal postings.
const defaultRegion = "US"

// NormalizeE164 formats input as E.164. Input that does not parse to a valid
// number is returned trimmed.
func NormalizeE164(input string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return trimmed
	}

	number, err := phonenumbers.Parse(trimmed, defaultRegion)
	if err != nil {
		return trimmed
	}
	if !phonenumbers.IsValidNumber(number) {
		return trimmed
	}
	return phonenumbers.Format(number, phonenumbers.E164)
}
