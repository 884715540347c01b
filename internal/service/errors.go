package service

import "errors"

var (
	ErrInvalidRequest    = errors.New("invalid request")
	ErrProfileNotFound   = errors.New("profile not found")
	ErrMessageNotFound   = errors.New("message not found")
	ErrNoPublicKey       = errors.New("no public key registered")
	ErrNotEncrypted      = errors.New("message is not encrypted")
	ErrAccessDenied      = errors.New("access denied")
	ErrEscrowKeyNotFound = errors.New("escrow key not found")
)
