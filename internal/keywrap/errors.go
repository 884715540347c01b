package keywrap

import "errors"

var (
	ErrUnwrap            = errors.New("keywrap: wrapped key does not match private key")
	ErrInvalidWrappedKey = errors.New("keywrap: malformed wrapped key")
	ErrInvalidPublicKey  = errors.New("keywrap: invalid public key")
)
