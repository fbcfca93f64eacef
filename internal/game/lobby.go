package game

import (
	"mathquest/internal/domain"
)

// lobbyUpdate is the payload of lobby_participants_update.
type lobbyUpdate struct {
	Participants []domain.LobbyParticipant `json:"participants"`
	Creator      string                    `json:"creator"`
}

// JoinLobby registers a participant in the pre-game waiting room and
// broadcasts the refreshed roster. Joining twice refreshes the entry without
// duplicating it; join order is preserved.
func (s *Session) JoinLobby(p domain.LobbyParticipant) ([]domain.LobbyParticipant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != domain.GameStatusLobby {
		return nil, domain.ErrInvalidTransition
	}
	s.touchLocked()

	p.JoinedAt = s.now()
	replaced := false
	for i, existing := range s.lobby {
		if sameLobbyIdentity(existing, p) {
			p.JoinedAt = existing.JoinedAt
			s.lobby[i] = p
			replaced = true
			break
		}
	}
	if !replaced {
		s.lobby = append(s.lobby, p)
	}

	roster := s.lobbyRosterLocked()
	s.hub.Publish(domain.RoomLobby, domain.EventLobbyParticipantsUpdate, lobbyUpdate{
		Participants: roster,
		Creator:      s.creator,
	})
	return roster, nil
}

// LeaveLobby drops a participant from the roster and rebroadcasts it.
func (s *Session) LeaveLobby(userID, username string) []domain.LobbyParticipant {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchLocked()

	kept := s.lobby[:0]
	for _, existing := range s.lobby {
		if existing.UserID != "" && existing.UserID == userID {
			continue
		}
		if existing.UserID == "" && existing.Username == username {
			continue
		}
		kept = append(kept, existing)
	}
	s.lobby = kept

	roster := s.lobbyRosterLocked()
	s.hub.Publish(domain.RoomLobby, domain.EventLobbyParticipantsUpdate, lobbyUpdate{
		Participants: roster,
		Creator:      s.creator,
	})
	return roster
}

func (s *Session) lobbyRosterLocked() []domain.LobbyParticipant {
	roster := make([]domain.LobbyParticipant, len(s.lobby))
	copy(roster, s.lobby)
	return roster
}

func sameLobbyIdentity(a, b domain.LobbyParticipant) bool {
	if a.UserID != "" || b.UserID != "" {
		return a.UserID == b.UserID
	}
	return a.Username == b.Username
}

// seedParticipantsLocked converts the lobby roster into the initial
// participant set when the session starts, then discards the lobby state. In
// self-paced modes every seeded participant gets their own clock immediately,
// the same as one admitted through JoinGame.
func (s *Session) seedParticipantsLocked() {
	ptype := domain.ParticipationLive
	if s.mode == domain.PlayModeDiffered {
		ptype = domain.ParticipationDeferred
	}
	for _, lp := range s.lobby {
		userID := lp.UserID
		if userID == "" {
			userID = lp.Username
		}
		if _, ok := s.participants[userID]; ok {
			continue
		}
		s.joinSeq++
		p := &participantState{
			Participant: domain.Participant{
				UserID:      userID,
				Username:    lp.Username,
				AvatarEmoji: lp.AvatarEmoji,
				Type:        ptype,
				JoinOrder:   s.joinSeq,
			},
			answers: make(map[string]*domain.AnswerRecord),
			timers:  make(map[string]*questionTimer),
		}
		s.participants[userID] = p
		if s.selfPaced() {
			s.startParticipantTimerLocked(p)
		}
	}
	s.lobby = nil
}
