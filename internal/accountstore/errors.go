package accountstore

import (
	"errors"
	"fmt"
)

// ConflictField names the unique column a write collided on.
type ConflictField string

const (
	ConflictUsername      ConflictField = "username"
	ConflictEmail         ConflictField = "email"
	ConflictAuthUserID    ConflictField = "auth_user_id"
	ConflictDiscordUserID ConflictField = "discord_user_id"
)

// ErrNotFound is returned by Update and ledger operations that target an
// account id with no row. Finders report a miss as (nil, nil) instead.
var ErrNotFound = errors.New("accountstore: account not found")

// ConflictError reports a uniqueness-constraint violation. It carries the
// colliding field so callers can recover (e.g. turn a create into an update
// keyed on that field) instead of treating every collision as fatal.
type ConflictError struct {
	Field ConflictField
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("accountstore: conflict on %s", e.Field)
}

// ConflictOn reports whether err is a uniqueness conflict and on which field.
func ConflictOn(err error) (ConflictField, bool) {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce.Field, true
	}
	return "", false
}
