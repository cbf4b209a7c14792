package services

import "errors"

var (
	ErrMissingField     = errors.New("required field missing")
	ErrEmptyContent     = errors.New("message content must not be empty")
	ErrSelfConversation = errors.New("cannot start a conversation with yourself")
	// ErrConversationNotFound covers both a missing conversation and a user
	// who is not one of its participants.
	ErrConversationNotFound = errors.New("conversation not found")
	ErrUserNotFound         = errors.New("user not found")
	ErrOfferNotFound        = errors.New("offer not found")

	ErrInvalidOffer  = errors.New("invalid offer")
	ErrCarrierOnly   = errors.New("only carriers can manage offers")
	ErrNotOfferOwner = errors.New("offer belongs to another carrier")

	ErrUserExists         = errors.New("email already registered")
	ErrInvalidRole        = errors.New("role must be cliente or fretista")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
)

// IsValidation reports whether err should be surfaced as a 400.
func IsValidation(err error) bool {
	return errors.Is(err, ErrMissingField) ||
		errors.Is(err, ErrEmptyContent) ||
		errors.Is(err, ErrSelfConversation) ||
		errors.Is(err, ErrInvalidRole) ||
		errors.Is(err, ErrInvalidOffer)
}

// IsNotFound reports whether err names a missing user or offer.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrUserNotFound) || errors.Is(err, ErrOfferNotFound)
}

// IsForbidden reports whether the caller lacks the role or ownership needed.
func IsForbidden(err error) bool {
	return errors.Is(err, ErrCarrierOnly) || errors.Is(err, ErrNotOfferOwner)
}
