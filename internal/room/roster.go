package room

import "slices"

// Roster entries are kept in join order. The host is never stored: it is
// whoever sits first, so every replica applying the same joins and leaves
// derives the same host.

func (s *State) indexOf(id Identity) int {
	return slices.IndexFunc(s.Roster, func(p PlayerEntry) bool {
		return p.Identity == id
	})
}

// Host returns the earliest-joined surviving participant
func (s *State) Host() (Identity, bool) {
	if len(s.Roster) == 0 {
		return "", false
	}
	return s.Roster[0].Identity, true
}

// Player looks up a roster entry by identity
func (s *State) Player(id Identity) (PlayerEntry, bool) {
	i := s.indexOf(id)
	if i < 0 {
		return PlayerEntry{}, false
	}
	return s.Roster[i], true
}

func (s *State) PlayerCount() int {
	return len(s.Roster)
}

// Appends a placeholder entry. Reports false when the identity is already present.
// Entries beyond MaxPlayers are accepted; rejecting them is the relay's job.
func (s *State) join(id Identity) bool {
	if id == "" || s.indexOf(id) >= 0 {
		return false
	}
	s.Roster = append(s.Roster, PlayerEntry{Identity: id})
	return true
}

func (s *State) leave(id Identity) bool {
	i := s.indexOf(id)
	if i < 0 {
		return false
	}
	s.Roster = slices.Delete(s.Roster, i, i+1)
	return true
}

// Applies a self-reported change to the sender's own entry
func (s *State) selfUpdate(id Identity, update func(*PlayerEntry) bool) bool {
	i := s.indexOf(id)
	if i < 0 {
		return false
	}
	return update(&s.Roster[i])
}

func (s *State) allFinished() bool {
	if len(s.Roster) == 0 {
		return false
	}
	for _, p := range s.Roster {
		if !p.Finished {
			return false
		}
	}
	return true
}
