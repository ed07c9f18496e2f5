package main

import (
	"fmt"
	"time"
)

const chatLimit = 500

func (r *Room) handleEvent(ev inbound) {
	switch ev.msg.Type {
	case "playerReady":
		r.handlePlayerReady(ev.client, ev.msg)
	case "submitAnswer":
		r.handleSubmitAnswer(ev.client, ev.msg)
	case "chat":
		r.handleChat(ev.client, ev.msg)
	case "continueGame":
		r.handleContinueGame(ev.client)
	default:
		// ignore unknown types
	}
}

// handlePlayerReady fixes the room mode on the first call, assigns a role if
// the connection has none, marks readiness, and schedules the first round
// once both seats are filled and ready.
func (r *Room) handlePlayerReady(c *Client, msg ClientMessage) {
	r.mu.Lock()

	r.lastActive = time.Now()

	if r.mode == "" {
		mode, ok := parseMode(msg.Mode)
		if !ok {
			mode = ModeNormal
		}
		r.mode = mode
		r.lives = livesFor(mode)
	} else if msg.Mode != "" && Mode(msg.Mode) != r.mode {
		r.unicastLocked(c, SystemMessage{
			Type:    "system",
			Message: fmt.Sprintf("This room is already set to %s mode.", r.mode),
		})
	}

	role, ok := r.roleOfLocked(c.connID)
	if !ok {
		preferred := Role(msg.PreferredRole)
		if preferred == "" {
			// A returning browser with no stated preference gets its old
			// seat back when that seat is still free.
			if prev, held := r.seats[c.playerID]; held {
				preferred = prev
			}
		}
		role, ok = r.assignRoleLocked(c.connID, preferred)
		if !ok {
			r.unicastLocked(c, ReadyResultMessage{
				Type:  "readyResult",
				Error: ErrRolesFull,
			})
			r.mu.Unlock()
			return
		}
		r.removeWaitingLocked(c.connID)
		r.registry.conns.setRole(c.connID, role)
		r.broadcastRoomUpdateLocked()
	}

	r.ready[c.connID] = true
	r.broadcastReadyUpdateLocked()

	started := false
	if r.status == StatusWaiting && r.bothReadyLocked() {
		// Claim the transition here so a duplicate ready can't schedule twice.
		r.status = StatusBetween
		started = true
	}

	r.unicastLocked(c, ReadyResultMessage{
		Type:    "readyResult",
		OK:      true,
		Role:    string(role),
		Started: started,
		Mode:    string(r.mode),
	})

	r.mu.Unlock()

	if started {
		logf(r.cfg, "GAME: Room %s starting in %s", r.id, r.cfg.roundDelay)
		r.after(r.cfg.roundDelay, r.startRound)
	}
}

func (r *Room) bothReadyLocked() bool {
	aID, hasA := r.players[RoleA]
	bID, hasB := r.players[RoleB]

	return hasA && hasB && r.ready[aID] && r.ready[bID]
}

func (r *Room) broadcastReadyUpdateLocked() {
	r.broadcastLocked(ReadyUpdateMessage{
		Type:  "readyUpdate",
		Ready: RolePresence{A: r.ready[r.players[RoleA]], B: r.ready[r.players[RoleB]]},
	})
}

// startRound runs on the room goroutine via a deferred action, so it begins
// by re-validating current state: the game may have finished, a player may
// have left, or the round may already be live.
func (r *Room) startRound() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status == StatusPlaying {
		return
	}

	if r.round >= r.cfg.rounds {
		r.finishGameLocked("All rounds complete!")
		return
	}

	_, hasA := r.players[RoleA]
	_, hasB := r.players[RoleB]
	if !hasA || !hasB {
		r.status = StatusWaiting
		r.broadcastLocked(SystemMessage{
			Type:    "system",
			Message: "Waiting for your partner...",
		})
		return
	}

	levels := r.cfg.levelsFor(r.mode)

	idx, ch, ok := r.catalog.Pick(levels, r.used)
	if !ok && len(r.used) > 0 {
		// Every eligible challenge has been served; recycle rather than stall.
		r.used = make(map[int]bool)
		idx, ch, ok = r.catalog.Pick(levels, r.used)
	}
	if !ok {
		r.status = StatusWaiting
		r.broadcastLocked(SystemMessage{
			Type:    "system",
			Message: fmt.Sprintf("No challenges available for %s mode.", r.mode),
		})
		return
	}

	r.used[idx] = true
	r.round++
	r.status = StatusPlaying
	r.current = &activeChallenge{index: idx, ch: ch}

	logf(r.cfg, "GAME: Room %s round %d: %q", r.id, r.round, ch.Title)

	r.dispatchQuestionLocked()
	r.startTimerLocked()
}

func (r *Room) currentLimitLocked() int {
	cur := r.current
	if cur.ch.Nested() && cur.sub < len(cur.ch.Subquestions) {
		return cur.ch.Subquestions[cur.sub].TimeLimitSec
	}
	return cur.ch.TimeLimitSec
}

// dispatchQuestionLocked sends each seated role its own view of the active
// question. A role's view is never sent to the other connection.
func (r *Room) dispatchQuestionLocked() {
	cur := r.current
	ch := cur.ch
	limit := r.currentLimitLocked()

	msgType := "newQuestion"
	if r.round == 1 && cur.sub == 0 {
		msgType = "gameStarted"
	}

	// Copy the life counter so the write pump never shares room state.
	var lives *int
	if r.lives != nil {
		v := *r.lives
		lives = &v
	}

	for role, connID := range r.players {
		c := r.clientByConnLocked(connID)
		if c == nil {
			continue
		}

		view := ch.ViewA
		if ch.Nested() {
			sub := &ch.Subquestions[cur.sub]
			view = sub.ViewA
			if role == RoleB {
				view = sub.ViewB
			}
		} else if role == RoleB {
			view = ch.ViewB
		}

		msg := QuestionMessage{
			Type:            msgType,
			Round:           r.round,
			Title:           ch.Title,
			Level:           ch.Level,
			BaseScore:       ch.BaseScore,
			TimeLimitSec:    limit,
			Mode:            string(r.mode),
			Role:            string(role),
			View:            view,
			Lives:           lives,
			CumulativeScore: r.score,
		}
		if ch.Nested() {
			msg.Subquestion = cur.sub + 1
			msg.SubquestionCount = len(ch.Subquestions)
		}

		r.unicastLocked(c, msg)
	}
}

// startTimerLocked replaces any live countdown with a fresh one for the
// active question. Ticks and expiry re-enter the room goroutine stamped with
// the generation of the countdown that produced them; a callback already in
// flight when its countdown is replaced carries a stale generation and is
// dropped on arrival.
func (r *Room) startTimerLocked() {
	r.stopTimerLocked()

	r.timerGen++
	gen := r.timerGen

	d := time.Duration(r.currentLimitLocked()) * time.Second

	r.timer = startCountdown(d, time.Second,
		func(remainMs int) {
			r.schedule(func() {
				r.broadcastTick(gen, remainMs)
			})
		},
		func() {
			r.schedule(func() {
				r.onTimerExpire(gen)
			})
		},
	)
}

func (r *Room) broadcastTick(gen uint64, remainMs int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if gen != r.timerGen || r.status != StatusPlaying {
		return
	}

	r.broadcastLocked(TimerMessage{Type: "timer", RemainMs: remainMs})
}

// onTimerExpire handles the round deadline: a life is deducted in
// normal/hard, then the room either ends the game, advances a nested big
// question, or schedules the next round.
func (r *Room) onTimerExpire(gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if gen != r.timerGen {
		return
	}

	if r.status != StatusPlaying || r.current == nil {
		return
	}

	r.stopTimerLocked()
	r.broadcastLocked(TimerMessage{Type: "timer", RemainMs: 0})

	if r.mode != ModeEasy {
		if !r.deductLifeLocked() {
			return
		}
	}

	cur := r.current

	if cur.ch.Nested() && cur.sub+1 < len(cur.ch.Subquestions) {
		cur.sub++
		r.status = StatusBetween
		r.broadcastRoundTimeoutLocked()
		r.after(r.cfg.roundDelay, r.resumeSubquestion)
		return
	}

	if cur.ch.Nested() {
		r.broadcastLocked(BigQuestionFinishedMessage{
			Type:       "bigQuestionFinished",
			Message:    "Big question complete.",
			TotalScore: r.score,
		})
	}

	r.current = nil
	r.status = StatusBetween
	r.broadcastRoundTimeoutLocked()
	r.after(r.cfg.roundDelay, r.startRound)
}

func (r *Room) broadcastRoundTimeoutLocked() {
	r.broadcastLocked(RoundTimeoutMessage{
		Type:     "roundTimeout",
		Round:    r.round,
		NextInMs: int(r.cfg.roundDelay.Milliseconds()),
	})
}

// resumeSubquestion continues a nested big question after a timeout pause.
func (r *Room) resumeSubquestion() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status != StatusBetween || r.current == nil {
		return
	}

	r.status = StatusPlaying
	r.dispatchQuestionLocked()
	r.startTimerLocked()
}

// deductLifeLocked takes one life, lazily initializing the counter if it was
// never set. Returns false when the game ended as a result.
func (r *Room) deductLifeLocked() bool {
	if r.lives == nil {
		r.lives = livesFor(r.mode)
		if r.lives == nil {
			return true
		}
	}

	*r.lives--
	r.broadcastLocked(LivesUpdateMessage{Type: "livesUpdate", Lives: *r.lives})

	if *r.lives <= 0 {
		r.finishGameLocked("Out of lives!")
		return false
	}

	return true
}

// finishGameLocked broadcasts the final score, then resets the room in place
// to a fresh waiting state. Membership survives; a new readiness handshake
// starts the next game.
func (r *Room) finishGameLocked(message string) {
	r.broadcastLocked(GameFinishedMessage{
		Type:       "gameFinished",
		Message:    message,
		TotalScore: r.score,
	})

	logf(r.cfg, "GAME: Room %s finished with score %d", r.id, r.score)

	r.resetGameLocked()
}

func (r *Room) resetGameLocked() {
	r.stopTimerLocked()
	r.status = StatusWaiting
	r.mode = ""
	r.round = 0
	r.score = 0
	r.lives = nil
	r.used = make(map[int]bool)
	r.current = nil
	r.ready = make(map[string]bool)
}

// handleSubmitAnswer evaluates a submission against the active question. A
// correct answer scores and advances; a wrong one costs a life in
// normal/hard but leaves the round running for further attempts.
func (r *Room) handleSubmitAnswer(c *Client, msg ClientMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastActive = time.Now()

	if r.status != StatusPlaying {
		r.unicastLocked(c, SubmitResultMessage{Type: "submitResult", Error: ErrNotPlaying})
		return
	}

	cur := r.current
	if cur == nil {
		r.unicastLocked(c, SubmitResultMessage{Type: "submitResult", Error: ErrNoQuestion})
		return
	}

	var spec *AnswerSpec
	var limit int

	if cur.ch.Nested() {
		if cur.sub >= len(cur.ch.Subquestions) {
			r.unicastLocked(c, SubmitResultMessage{Type: "submitResult", Error: ErrNoSubquestion})
			return
		}
		sub := &cur.ch.Subquestions[cur.sub]
		spec, limit = sub.Answer, sub.TimeLimitSec
	} else {
		if cur.ch.Answer == nil {
			r.unicastLocked(c, SubmitResultMessage{Type: "submitResult", Error: ErrNoQuestion})
			return
		}
		spec, limit = cur.ch.Answer, cur.ch.TimeLimitSec
	}

	role, _ := r.roleOfLocked(c.connID)

	if !matchAnswer(spec, msg.Answer) {
		gameOver := false
		if r.mode != ModeEasy {
			gameOver = !r.deductLifeLocked()
		}

		r.unicastLocked(c, SubmitResultMessage{
			Type:     "submitResult",
			OK:       true,
			GameOver: gameOver,
		})
		if !gameOver {
			r.broadcastLocked(AnswerResultMessage{Type: "answerResult", By: string(role)})
		}
		return
	}

	points := roundScore(cur.ch.BaseScore, limit, msg.RemainMs)
	if r.mode == ModeHard && !cur.ch.Nested() {
		points *= hardMultiplier
	}
	r.score += points

	r.stopTimerLocked()

	r.unicastLocked(c, SubmitResultMessage{
		Type:    "submitResult",
		OK:      true,
		Correct: true,
		Score:   points,
	})
	r.broadcastLocked(AnswerResultMessage{
		Type:            "answerResult",
		Correct:         true,
		Score:           points,
		CumulativeScore: r.score,
		By:              string(role),
	})
	r.broadcastLocked(UpdateScoreMessage{Type: "updateScore", CumulativeScore: r.score})

	logf(r.cfg, "GAME: Room %s round %d solved by %s for %d points", r.id, r.round, role, points)

	// Nested big questions roll straight into the next subquestion.
	if cur.ch.Nested() && cur.sub+1 < len(cur.ch.Subquestions) {
		cur.sub++
		r.dispatchQuestionLocked()
		r.startTimerLocked()
		return
	}

	if cur.ch.Nested() {
		r.broadcastLocked(BigQuestionFinishedMessage{
			Type:       "bigQuestionFinished",
			Message:    "Big question complete!",
			TotalScore: r.score,
		})
	}

	r.current = nil
	r.status = StatusBetween
	r.after(r.cfg.roundDelay, r.startRound)
}

func (r *Room) handleChat(c *Client, msg ClientMessage) {
	text := msg.Message
	if text == "" {
		return
	}
	if runes := []rune(text); len(runes) > chatLimit {
		text = string(runes[:chatLimit])
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastActive = time.Now()

	from := "observer"
	if role, ok := r.roleOfLocked(c.connID); ok {
		from = string(role)
	}

	r.broadcastLocked(ChatMessage{Type: "chat", From: from, Message: text})
}

// handleContinueGame resets score, round, lives, and mode in place without
// touching room membership.
func (r *Room) handleContinueGame(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastActive = time.Now()

	r.resetGameLocked()
	r.broadcastLocked(RoomResetMessage{
		Type:    "roomReset",
		Message: "Game reset. Ready up to play again.",
	})
}
