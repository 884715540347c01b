package domain

import (
	"time"

	"keyescrow/internal/jsonb"

	"github.com/google/uuid"
)

const (
	// MessageVersionPlain marks legacy unencrypted messages.
	MessageVersionPlain = 1
	// MessageVersionEscrow marks messages carrying a KeyEnvelope.
	MessageVersionEscrow = 2
)

// Role is the part a profile plays in one message.
type Role string

const (
	RoleSender    Role = "sender"
	RoleRecipient Role = "recipient"
)

type Profile struct {
	ID               uuid.UUID  `gorm:"type:uuid;primaryKey"`
	CoupleID         *uuid.UUID `gorm:"type:uuid;index"`
	CurrentPublicKey jsonb.JSON `gorm:"type:jsonb"`
	CreatedAt        time.Time  `gorm:"not null;autoCreateTime"`
	UpdatedAt        time.Time  `gorm:"not null;autoUpdateTime"`
}

type Match struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	CoupleID  uuid.UUID `gorm:"type:uuid;not null;index"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
}

// KeyEnvelope holds one content key wrapped for sender, recipient and escrow.
// Fields are replaced in place, never appended.
type KeyEnvelope struct {
	SenderWrappedKey    string  `gorm:"type:text"`
	RecipientWrappedKey *string `gorm:"type:text"`
	EscrowWrappedKey    string  `gorm:"type:text"`
	EscrowKeyID         string  `gorm:"type:text"`
	PendingRecipient    bool    `gorm:"not null;default:false;index"`
	KeyWrapAlgorithm    string  `gorm:"type:text"`
	ContentAlgorithm    string  `gorm:"type:text"`
}

// HasRecipientWrap reports whether a non-empty recipient wrap is stored.
func (e KeyEnvelope) HasRecipientWrap() bool {
	return e.RecipientWrappedKey != nil && *e.RecipientWrappedKey != ""
}

// NeedsRecipientWrap is true when the flag says so or when the recipient wrap
// is missing even though the flag was cleared.
func (e KeyEnvelope) NeedsRecipientWrap() bool {
	return e.PendingRecipient || !e.HasRecipientWrap()
}

// WrappedKeyFor returns the stored wrap for role, or "" if absent.
func (e KeyEnvelope) WrappedKeyFor(role Role) string {
	switch role {
	case RoleSender:
		return e.SenderWrappedKey
	case RoleRecipient:
		if e.RecipientWrappedKey != nil {
			return *e.RecipientWrappedKey
		}
	}
	return ""
}

type Message struct {
	ID        uuid.UUID   `gorm:"type:uuid;primaryKey"`
	MatchID   uuid.UUID   `gorm:"type:uuid;not null;index:idx_messages_match_created,priority:1"`
	SenderID  uuid.UUID   `gorm:"type:uuid;not null;index"`
	Version   int         `gorm:"not null;default:1"`
	Envelope  KeyEnvelope `gorm:"embedded"`
	CreatedAt time.Time   `gorm:"not null;index:idx_messages_match_created,priority:2"`
}

// RoleOf reports whether profileID sent or received m. Matches are strictly
// two-party, so any participant other than the sender is the recipient.
func (m Message) RoleOf(profileID uuid.UUID) Role {
	if m.SenderID == profileID {
		return RoleSender
	}
	return RoleRecipient
}

// Encrypted reports whether m carries a key envelope.
func (m Message) Encrypted() bool {
	return m.Version == MessageVersionEscrow
}
