package settlement

import (
	"errors"

	pkgerrors "github.com/angelmondragon/creditshare-backend/pkg/errors"
)

// Sentinels matched with errors.Is. Settle returns them wrapped in a
// *pkgerrors.Error whose code maps to the HTTP status.
var (
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrUserNotFound        = errors.New("user not found")
	ErrProductNotFound     = errors.New("product not found")
	ErrInvalidInput        = errors.New("invalid settlement input")
)

func insufficientCredits(requested int) error {
	return pkgerrors.Wrap(pkgerrors.CodeInsufficientCredits, ErrInsufficientCredits, "insufficient credits").
		WithDetails(map[string]any{"credits_requested": requested})
}

func userNotFound() error {
	return pkgerrors.Wrap(pkgerrors.CodeNotFound, ErrUserNotFound, "user not found")
}

func productNotFound() error {
	return pkgerrors.Wrap(pkgerrors.CodeNotFound, ErrProductNotFound, "product not found")
}

func invalid(field, reason string) error {
	return pkgerrors.Wrap(pkgerrors.CodeValidation, ErrInvalidInput, field+" "+reason).
		WithDetails(map[string]any{field: reason})
}

func persistence(err error, op string) error {
	return pkgerrors.Wrap(pkgerrors.CodePersistence, err, op)
}
