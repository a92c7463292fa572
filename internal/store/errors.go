package store

import "errors"

var (
	ErrNotFound              = errors.New("not found")
	ErrDuplicateTitle        = errors.New("a group with this title already exists for this user")
	ErrDuplicateMembership   = errors.New("user is already a member of this group")
	ErrDuplicateCurrencyCode = errors.New("currency with this code already exists")
	ErrDuplicateUser         = errors.New("user already exists")
	ErrCurrencyProtected     = errors.New("currency is referenced by existing groups")
	ErrInvalidReference      = errors.New("referenced object does not exist")
)

// constraintKind classifies driver errors that come from integrity constraints.
type constraintKind int

const (
	constraintNone constraintKind = iota
	constraintUnique
	constraintForeignKey
)

// mapConstraint turns a driver error into a sentinel using the classifier of
// the active dialect. Errors that are not constraint violations pass through.
func mapConstraint(classify func(error) constraintKind, err error, onUnique, onForeignKey error) error {
	if err == nil {
		return nil
	}
	switch classify(err) {
	case constraintUnique:
		if onUnique != nil {
			return onUnique
		}
	case constraintForeignKey:
		if onForeignKey != nil {
			return onForeignKey
		}
	}
	return err
}
