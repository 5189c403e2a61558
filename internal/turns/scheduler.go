package turns

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/warserver-project/warserver/internal/events"
	"github.com/warserver-project/warserver/internal/game"
)

// AutosaveFunc persists a snapshot at the turn boundary. A nil function
// disables autosaving.
type AutosaveFunc func(game.Snapshot) error

// Scheduler walks the game through its phases: turn ends trigger the
// simulation pass and an interlude, interlude ends start the next turn.
// Everything hangs off one countdown; the scheduler itself holds no game
// state.
type Scheduler struct {
	state     *game.State
	countdown *Countdown
	autosave  AutosaveFunc
	eventBus  *events.EventBus
	logger    zerolog.Logger
}

// NewScheduler wires a scheduler to the game state. The countdown is
// attached to the state so turn status reports include remaining seconds.
// eventBus may be nil when nothing observes turn transitions.
func NewScheduler(state *game.State, autosave AutosaveFunc, eventBus *events.EventBus) *Scheduler {
	s := &Scheduler{
		state:    state,
		autosave: autosave,
		eventBus: eventBus,
		logger:   log.With().Str("component", "scheduler").Logger(),
	}
	s.countdown = NewCountdown(s.onExpire)
	state.AttachCountdown(s.countdown)
	return s
}

// Start arms the clock for the first turn.
func (s *Scheduler) Start() {
	rules := s.state.Rules()
	s.logger.Info().Float64("turn_seconds", rules.TurnSeconds).Msg("war clock started")
	s.countdown.Start(secondsToDuration(rules.TurnSeconds))
}

// Resume arms the clock from a restored snapshot's remaining time.
func (s *Scheduler) Resume(remainingSeconds float64) {
	if remainingSeconds <= 0 {
		rules := s.state.Rules()
		remainingSeconds = rules.TurnSeconds
		if s.state.TurnStatus().Interlude {
			remainingSeconds = rules.InterludeSeconds
		}
	}
	s.logger.Info().Float64("remaining_seconds", remainingSeconds).Msg("war clock resumed")
	s.countdown.Start(secondsToDuration(remainingSeconds))
}

// Stop disarms the clock.
func (s *Scheduler) Stop() {
	s.countdown.Cancel()
}

// onExpire runs on the countdown goroutine each time the clock runs out.
func (s *Scheduler) onExpire() {
	if s.state.TurnStatus().Interlude {
		s.beginTurn()
	} else {
		s.endTurn()
	}
}

// endTurn performs the turn-to-interlude transition: simulation pass,
// autosave, interlude countdown. A failed autosave is logged and the clock
// proceeds; persistence never stalls the war.
func (s *Scheduler) endTurn() {
	turn := s.state.AdvanceTurn()
	if s.autosave != nil {
		if err := s.autosave(s.state.Snapshot()); err != nil {
			s.logger.Error().Err(err).Int("turn", turn).Msg("autosave failed")
		}
	}
	s.emit(events.EventTurnEnded)
	rules := s.state.Rules()
	if rules.NoInterludes {
		s.beginTurn()
		return
	}
	s.countdown.Start(secondsToDuration(rules.InterludeSeconds))
}

// beginTurn performs the interlude-to-turn transition. When the turn limit
// is exhausted the clock stays disarmed and the final interlude stands.
func (s *Scheduler) beginTurn() {
	if !s.state.BeginTurn() {
		s.emit(events.EventWarOver)
		return
	}
	s.emit(events.EventTurnStarted)
	s.countdown.Start(secondsToDuration(s.state.Rules().TurnSeconds))
}

// emit publishes a turn transition on the event bus.
func (s *Scheduler) emit(typ events.EventType) {
	if s.eventBus == nil {
		return
	}
	status := s.state.TurnStatus()
	s.eventBus.Emit(context.Background(), events.Event{
		Type:   typ,
		Source: "scheduler",
		Payload: events.TurnPayload{
			TurnNumber: status.Number,
			MaxTurns:   status.MaxTurns,
			Interlude:  status.Interlude,
		},
	})
}

// EndTurn forces the current turn to end now. During an interlude it skips
// ahead to the next turn instead.
func (s *Scheduler) EndTurn() {
	s.countdown.Cancel()
	s.onExpire()
}

// AdjustTime moves the current deadline by seconds, relative to now.
// Negative values shorten the phase; overshooting zero ends it immediately.
func (s *Scheduler) AdjustTime(seconds float64) {
	if seconds >= 0 {
		s.countdown.Inc(secondsToDuration(seconds))
	} else {
		s.countdown.Dec(secondsToDuration(-seconds))
	}
}

// Remaining exposes the countdown for status reporting.
func (s *Scheduler) Remaining() time.Duration {
	return s.countdown.Remaining()
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
