package types

import (
	"encoding/hex"
	"regexp"

	"github.com/google/uuid"
)

// validID matches the 32 character hex identifiers used for sources,
// artifacts, fragments and stages.
var validID = regexp.MustCompile(`^[0-9a-fA-F]{32}$`)

// NewID returns a fresh 32 character lowercase hex identifier.
func NewID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

// ValidateID returns a ValidationError unless id is a 32 character hex
// identifier.
func ValidateID(id string) error {
	if !validID.MatchString(id) {
		return Validationf("invalid id: %q", id)
	}
	return nil
}
