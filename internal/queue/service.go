package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quizduel/arena/internal/domain"
	"github.com/quizduel/arena/internal/event"
	"github.com/quizduel/arena/internal/telemetry"
)

const (
	defaultBaseTolerance = 25
	defaultTickInterval  = time.Second
	defaultMaxAttempts   = 10
	defaultMirrorKey     = "arena:queue"
)

// toleranceLadder is the widening schedule for a waiting player's accepted
// rating gap, one step per sweep.
var toleranceLadder = []int{25, 50, 75, 100, 150, 200, 300, 500}

// Sessions guards the one-session-per-user invariant. Reserve runs under
// the queue lock in the same operation that removes a formed pair, so a
// paired user is in a session before anyone can observe them gone from the
// queue. InSession is checked under the same lock on enqueue.
type Sessions interface {
	Reserve(a, b domain.Player) (string, error)
	InSession(userID string) bool
}

type Config struct {
	EventBus *event.Bus

	// Sessions, when set, reserves a session for every formed pair and
	// blocks enqueueing users who are already in one.
	Sessions Sessions

	// Redis, when set, receives a best-effort mirror of the waiting set.
	// Memory stays the source of truth.
	Redis     redis.UniversalClient
	MirrorKey string

	BaseTolerance int
	TickInterval  time.Duration

	// MaxAttempts is the number of sweeps before a waiting player times
	// out. Zero means wait forever.
	MaxAttempts int
}

type entry struct {
	player   domain.WaitingPlayer
	attempts int
}

// Service is the matchmaking queue. All mutation goes through Enqueue,
// Dequeue and Tick; the waiting set is never exposed for outside iteration.
type Service struct {
	eb        *event.Bus
	sessions  Sessions
	redis     redis.UniversalClient
	mirrorKey string

	base        int
	tickEvery   time.Duration
	maxAttempts int

	mu      sync.Mutex
	waiting []*entry // arrival order
	index   map[string]*entry

	stop chan struct{}
	done chan struct{}
}

func NewService(c Config) *Service {
	if c.BaseTolerance <= 0 {
		c.BaseTolerance = defaultBaseTolerance
	}
	if c.TickInterval <= 0 {
		c.TickInterval = defaultTickInterval
	}
	if c.MaxAttempts < 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.MirrorKey == "" {
		c.MirrorKey = defaultMirrorKey
	}

	return &Service{
		eb:          c.EventBus,
		sessions:    c.Sessions,
		redis:       c.Redis,
		mirrorKey:   c.MirrorKey,
		base:        c.BaseTolerance,
		tickEvery:   c.TickInterval,
		maxAttempts: c.MaxAttempts,
		index:       make(map[string]*entry),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Start runs the periodic sweep until Stop is called.
func (s *Service) Start() {
	go func() {
		defer close(s.done)

		t := time.NewTicker(s.tickEvery)
		defer t.Stop()

		for {
			select {
			case <-s.stop:
				return
			case <-t.C:
				s.Tick(context.Background())
			}
		}
	}()
}

func (s *Service) Stop() {
	close(s.stop)
	<-s.done
}

// Enqueue adds a player to the waiting set and immediately tries to pair
// them. A request for an already-waiting user replaces the old entry; a
// request for a user already in a session is refused. When a pair forms,
// both entries are removed and the session is reserved under the same lock
// that reported the pairing, so no third party can claim either half and
// the pair is never observably in neither the queue nor a session.
func (s *Service) Enqueue(ctx context.Context, userID string, ratingValue int) {
	p := domain.WaitingPlayer{
		UserID:    userID,
		Rating:    ratingValue,
		JoinedAt:  time.Now(),
		Tolerance: s.base,
	}

	s.mu.Lock()

	if s.sessions != nil && s.sessions.InSession(userID) {
		s.mu.Unlock()
		return
	}

	s.removeLocked(userID)

	opponent, ok := s.firstFitLocked(p)
	var matchID string
	if ok {
		matchID, ok = s.reserveLocked(ctx, opponent, p)
	}

	if ok {
		s.removeLocked(opponent.UserID)
	} else {
		e := &entry{player: p}
		s.waiting = append(s.waiting, e)
		s.index[userID] = e
	}

	size := len(s.waiting)
	s.mu.Unlock()

	telemetry.QueueDepth.Set(float64(size))

	s.eb.Publish(ctx, domain.EventQueueAcked{UserID: userID, QueueSize: size})

	if ok {
		telemetry.PlayersPaired.Inc()
		s.mirrorRemove(ctx, opponent.UserID, userID)
		s.eb.Publish(ctx, domain.EventPlayersPaired{MatchID: matchID, PlayerA: opponent, PlayerB: p})
		return
	}

	s.mirrorSet(ctx, p)
}

// reserveLocked claims a session for a formed pair while the queue lock is
// held. A failed reservation cancels the pairing and leaves both entries
// waiting.
func (s *Service) reserveLocked(ctx context.Context, a, b domain.WaitingPlayer) (string, bool) {
	if s.sessions == nil {
		return "", true
	}

	matchID, err := s.sessions.Reserve(
		domain.Player{UserID: a.UserID, Rating: a.Rating},
		domain.Player{UserID: b.UserID, Rating: b.Rating},
	)
	if err != nil {
		slog.ErrorContext(ctx, "queue: reserve session failed, pair stays queued",
			"players", []string{a.UserID, b.UserID}, "error", err)
		return "", false
	}

	return matchID, true
}

// Dequeue removes a player from the waiting set. Removing an absent player
// is a no-op.
func (s *Service) Dequeue(ctx context.Context, userID string) {
	s.mu.Lock()
	s.removeLocked(userID)
	size := len(s.waiting)
	s.mu.Unlock()

	telemetry.QueueDepth.Set(float64(size))
	s.mirrorRemove(ctx, userID)
}

// Tick is one sweep: expire entries over their attempt budget, widen the
// remaining tolerances one ladder step, then pair compatible entries
// first-fit in arrival order.
func (s *Service) Tick(ctx context.Context) {
	type pair struct {
		matchID string
		a, b    domain.WaitingPlayer
	}

	var (
		timedOut []string
		pairs    []pair
	)

	s.mu.Lock()

	for _, e := range append([]*entry(nil), s.waiting...) {
		e.attempts++
		if s.maxAttempts > 0 && e.attempts >= s.maxAttempts {
			s.removeLocked(e.player.UserID)
			timedOut = append(timedOut, e.player.UserID)
			continue
		}

		e.player.Tolerance = widen(e.player.Tolerance)
	}

	for {
		paired := false
		for _, e := range s.waiting {
			opponent, ok := s.firstFitLocked(e.player)
			if !ok {
				continue
			}

			matchID, ok := s.reserveLocked(ctx, e.player, opponent)
			if !ok {
				continue
			}

			s.removeLocked(e.player.UserID)
			s.removeLocked(opponent.UserID)
			pairs = append(pairs, pair{matchID: matchID, a: e.player, b: opponent})
			paired = true
			break
		}
		if !paired {
			break
		}
	}

	size := len(s.waiting)
	s.mu.Unlock()

	telemetry.QueueDepth.Set(float64(size))

	for _, id := range timedOut {
		telemetry.QueueTimeouts.Inc()
		s.mirrorRemove(ctx, id)
		s.eb.Publish(ctx, domain.EventQueueTimeout{UserID: id})
	}

	for _, p := range pairs {
		telemetry.PlayersPaired.Inc()
		s.mirrorRemove(ctx, p.a.UserID, p.b.UserID)
		s.eb.Publish(ctx, domain.EventPlayersPaired{MatchID: p.matchID, PlayerA: p.a, PlayerB: p.b})
	}
}

// Size reports the number of waiting players.
func (s *Service) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.waiting)
}

// Waiting returns the current entry for a user, if any.
func (s *Service) Waiting(userID string) (domain.WaitingPlayer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.index[userID]
	if !ok {
		return domain.WaitingPlayer{}, false
	}
	return e.player, true
}

// firstFitLocked scans the waiting set in arrival order and returns the
// first compatible opponent for p. Ties break on queue order, not rating
// closeness.
func (s *Service) firstFitLocked(p domain.WaitingPlayer) (domain.WaitingPlayer, bool) {
	for _, e := range s.waiting {
		if e.player.UserID == p.UserID {
			continue
		}
		if compatible(p, e.player) {
			return e.player, true
		}
	}

	return domain.WaitingPlayer{}, false
}

func compatible(a, b domain.WaitingPlayer) bool {
	gap := a.Rating - b.Rating
	if gap < 0 {
		gap = -gap
	}

	tol := a.Tolerance
	if b.Tolerance > tol {
		tol = b.Tolerance
	}

	return gap <= tol
}

func (s *Service) removeLocked(userID string) {
	if _, ok := s.index[userID]; !ok {
		return
	}

	delete(s.index, userID)
	for i, e := range s.waiting {
		if e.player.UserID == userID {
			s.waiting = append(s.waiting[:i], s.waiting[i+1:]...)
			break
		}
	}
}

func widen(tolerance int) int {
	for _, step := range toleranceLadder {
		if step > tolerance {
			return step
		}
	}

	return tolerance
}

type mirrorEntry struct {
	UserID   string    `json:"user_id"`
	Rating   int       `json:"rating"`
	JoinedAt time.Time `json:"joined_at"`
}

func (s *Service) mirrorSet(ctx context.Context, p domain.WaitingPlayer) {
	if s.redis == nil {
		return
	}

	b, err := json.Marshal(mirrorEntry{UserID: p.UserID, Rating: p.Rating, JoinedAt: p.JoinedAt})
	if err != nil {
		return
	}

	if err := s.redis.HSet(ctx, s.mirrorKey, p.UserID, b).Err(); err != nil {
		slog.WarnContext(ctx, "queue: mirror set failed", "user", p.UserID, "error", err)
	}
}

func (s *Service) mirrorRemove(ctx context.Context, userIDs ...string) {
	if s.redis == nil {
		return
	}

	if err := s.redis.HDel(ctx, s.mirrorKey, userIDs...).Err(); err != nil {
		slog.WarnContext(ctx, "queue: mirror remove failed", "users", userIDs, "error", err)
	}
}
