package room

// Phases only move forward: lobby, countdown, active, finished.

func (m *Machine) isHost(id Identity) bool {
	host, ok := m.state.Host()
	return ok && host == id
}

func (m *Machine) onStart(ev Event) {
	switch {
	case m.state.Phase != PhaseLobby:
		m.drop(ev, "not in lobby")
		return
	case !m.state.SettingsSettled:
		m.drop(ev, "settings not settled")
		return
	case m.cfg.RequireHost && !m.isHost(ev.Sender):
		m.drop(ev, "sender is not host")
		return
	case m.state.PlayerCount() < m.cfg.MinPlayers:
		m.drop(ev, "not enough players")
		return
	}

	m.state.Phase = PhaseCountdown
	m.state.CountdownActive = true
	m.dirty = true
	m.ch.After(m.cfg.Timing.Countdown, m.activate)
}

func (m *Machine) activate() {
	m.mu.Lock()
	defer m.commit()

	if m.state.Phase != PhaseCountdown {
		return
	}
	m.state.Phase = PhaseActive
	m.state.CountdownActive = false
	m.state.TimeRemaining = m.state.TimeLimitSeconds
	m.dirty = true
	m.ch.After(m.cfg.Timing.TimerTick, m.tick)
}

func (m *Machine) tick() {
	m.mu.Lock()
	defer m.commit()

	if m.state.Phase != PhaseActive {
		return
	}
	m.state.TimeRemaining--
	m.dirty = true
	if m.state.TimeRemaining <= 0 {
		m.state.TimeRemaining = 0
		m.finish()
		return
	}
	m.ch.After(m.cfg.Timing.TimerTick, m.tick)
}

func (m *Machine) finish() {
	m.state.Phase = PhaseFinished
	m.state.CountdownActive = false
	m.dirty = true
	m.log.Debug().Msg("game finished")
}

func (m *Machine) onFinish(ev Event) {
	if m.state.Phase != PhaseActive {
		m.drop(ev, "game not active")
		return
	}
	if m.cfg.RequireHost && !m.isHost(ev.Sender) {
		m.drop(ev, "sender is not host")
		return
	}
	m.finish()
}

func (m *Machine) onProgress(ev Event) {
	if m.state.Phase != PhaseActive {
		m.drop(ev, "game not active")
		return
	}
	var payload ProgressPayload
	if !m.decode(ev, &payload) {
		return
	}
	completed := min(payload.Completed, len(m.state.Words))

	changed := m.state.selfUpdate(ev.Sender, func(p *PlayerEntry) bool {
		if completed <= p.Progress {
			return false
		}
		p.Progress = completed
		if completed == len(m.state.Words) {
			p.Finished = true
			p.FinishedAt = ev.At
		}
		return true
	})
	if !changed {
		return
	}
	m.dirty = true
	if m.state.allFinished() {
		m.finish()
	}
}
