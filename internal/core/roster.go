package core

import (
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/SamuelLnds/confmesh/internal/domain"
)

// UnknownPseudo is returned for ids the room feed never announced.
const UnknownPseudo = "unknown"

// Roster tracks who is present in the room, independent of conference
// membership. It is refreshed wholesale from the room feed snapshots.
type Roster struct {
	mu      sync.RWMutex
	self    domain.Participant
	entries map[domain.ParticipantID]string
}

func NewRoster(self domain.Participant) *Roster {
	return &Roster{
		self:    self,
		entries: map[domain.ParticipantID]string{self.ID: self.Pseudo},
	}
}

// Replace swaps the tracked membership for a full snapshot. Entries are never
// merged; a participant missing from the snapshot is gone.
func (r *Roster) Replace(entries []domain.Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[domain.ParticipantID]string, len(entries)+1)
	for _, e := range entries {
		r.entries[e.ID] = e.Pseudo
	}
	r.entries[r.self.ID] = r.self.Pseudo
	log.Debug().Str("module", "core.roster").Int("count", len(r.entries)).Msg("roster replaced")
}

func (r *Roster) Remove(id domain.ParticipantID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

// Lookup returns the display name for id, or UnknownPseudo. Never fails.
func (r *Roster) Lookup(id domain.ParticipantID) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if pseudo, ok := r.entries[id]; ok {
		return pseudo
	}
	return UnknownPseudo
}

// Others lists every room participant except self, in no particular order.
// Used to address broadcasts.
func (r *Roster) Others() []domain.ParticipantID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ParticipantID, 0, len(r.entries))
	for id := range r.entries {
		if id != r.self.ID {
			out = append(out, id)
		}
	}
	return out
}

// View merges the room roster with the conference participant set: self
// first, then conference members, then the rest, alphabetic by pseudo within
// each group. Conference members that already left the room stay visible
// under the fallback pseudo.
func (r *Roster) View(inConference []domain.ParticipantID) []ConferenceParticipant {
	conf := make(map[domain.ParticipantID]bool, len(inConference))
	for _, id := range inConference {
		conf[id] = true
	}

	r.mu.RLock()
	out := make([]ConferenceParticipant, 0, len(r.entries)+1)
	seen := make(map[domain.ParticipantID]bool, len(r.entries)+1)
	for id, pseudo := range r.entries {
		out = append(out, ConferenceParticipant{
			ID:           id,
			Pseudo:       pseudo,
			IsSelf:       id == r.self.ID,
			InConference: conf[id],
		})
		seen[id] = true
	}
	r.mu.RUnlock()

	for _, id := range inConference {
		if !seen[id] {
			out = append(out, ConferenceParticipant{ID: id, Pseudo: UnknownPseudo, InConference: true})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.IsSelf != b.IsSelf {
			return a.IsSelf
		}
		if a.InConference != b.InConference {
			return a.InConference
		}
		if a.Pseudo != b.Pseudo {
			return a.Pseudo < b.Pseudo
		}
		return a.ID < b.ID
	})
	return out
}
