// Package domain contains entities without logic, just meta-data
package domain

import "errors"

const MaxPseudoLen = 36

var (
	ErrPseudoTooLong = errors.New("pseudo too long")
	ErrPseudoEmpty   = errors.New("pseudo empty")
)

type ParticipantID string

// Participant is one room-present user: identity plus display name.
// Room-scoped, not conference-scoped.
type Participant struct {
	ID     ParticipantID `json:"id"`
	Pseudo string        `json:"pseudo"`
}

// NewParticipant is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewParticipant(id ParticipantID, pseudo string) (*Participant, error) {
	if len(pseudo) == 0 {
		return nil, ErrPseudoEmpty
	}
	if len(pseudo) > MaxPseudoLen {
		return nil, ErrPseudoTooLong
	}
	return &Participant{ID: id, Pseudo: pseudo}, nil
}

func (p *Participant) SetPseudo(pseudo string) error {
	if len(pseudo) == 0 {
		return ErrPseudoEmpty
	}
	if len(pseudo) > MaxPseudoLen {
		return ErrPseudoTooLong
	}
	p.Pseudo = pseudo
	return nil
}
