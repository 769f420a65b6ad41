package store

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/quizduel/arena/internal/domain"
)

// Postgres is the persistence gateway backed by pgx. Writes that touch
// optional columns degrade to a reduced statement when the schema lacks
// them, instead of failing the whole operation.
type Postgres struct {
	db *pgxpool.Pool
}

func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db}
}

// SampleQuestions returns up to count random questions. Fewer rows than
// requested, including zero, is not an error.
func (p *Postgres) SampleQuestions(ctx context.Context, count int) ([]domain.Question, error) {
	const stmt = `
SELECT question_id, prompt, options, answer, category, difficulty
FROM questions
ORDER BY RANDOM()
LIMIT $1;`

	rows, err := p.db.Query(ctx, stmt, count)
	if err != nil {
		return nil, fmt.Errorf("sample questions: %w", err)
	}

	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Question, error) {
		var q domain.Question
		err := r.Scan(&q.QuestionID, &q.Prompt, &q.Options, &q.Answer, &q.Category, &q.Difficulty)
		return q, err
	})
}

func (p *Postgres) CreateMatchRecord(ctx context.Context, rec domain.MatchRecord) error {
	const full = `
INSERT INTO matches (match_id, player_a_id, player_b_id, status, mode, question_ids, create_time)
VALUES ($1, $2, $3, $4, $5, $6, $7);`

	qids, err := json.Marshal(rec.QuestionIDs)
	if err != nil {
		return fmt.Errorf("marshal question IDs: %w", err)
	}

	_, err = p.db.Exec(ctx, full,
		rec.MatchID, rec.PlayerAID, rec.PlayerBID, rec.Status, rec.Mode, qids, rec.CreateTime)
	if !isUndefinedColumn(err) {
		return err
	}

	slog.WarnContext(ctx, "store: matches schema lacks optional columns, reduced insert", "match", rec.MatchID)

	const reduced = `
INSERT INTO matches (match_id, player_a_id, player_b_id, status, create_time)
VALUES ($1, $2, $3, $4, $5);`

	_, err = p.db.Exec(ctx, reduced,
		rec.MatchID, rec.PlayerAID, rec.PlayerBID, rec.Status, rec.CreateTime)
	return err
}

// UpdateMatchProgress stores one player's progress on whichever side of the
// match row they occupy.
func (p *Postgres) UpdateMatchProgress(ctx context.Context, matchID, userID string, progress, correctCount int) error {
	const stmt = `
UPDATE matches SET
	player_a_progress      = CASE WHEN player_a_id = $2 THEN $3 ELSE player_a_progress END,
	player_a_correct_count = CASE WHEN player_a_id = $2 THEN $4 ELSE player_a_correct_count END,
	player_b_progress      = CASE WHEN player_b_id = $2 THEN $3 ELSE player_b_progress END,
	player_b_correct_count = CASE WHEN player_b_id = $2 THEN $4 ELSE player_b_correct_count END
WHERE match_id = $1;`

	_, err := p.db.Exec(ctx, stmt, matchID, userID, progress, correctCount)
	return err
}

// UpdateMatchFinish stores one player's finish marker; when the schema
// lacks the per-player finish time columns it degrades to the progress
// counters alone.
func (p *Postgres) UpdateMatchFinish(ctx context.Context, matchID, userID string, finishedAt time.Time, progress, correctCount int) error {
	const full = `
UPDATE matches SET
	player_a_finish_time   = CASE WHEN player_a_id = $2 THEN $5 ELSE player_a_finish_time END,
	player_a_progress      = CASE WHEN player_a_id = $2 THEN $3 ELSE player_a_progress END,
	player_a_correct_count = CASE WHEN player_a_id = $2 THEN $4 ELSE player_a_correct_count END,
	player_b_finish_time   = CASE WHEN player_b_id = $2 THEN $5 ELSE player_b_finish_time END,
	player_b_progress      = CASE WHEN player_b_id = $2 THEN $3 ELSE player_b_progress END,
	player_b_correct_count = CASE WHEN player_b_id = $2 THEN $4 ELSE player_b_correct_count END
WHERE match_id = $1;`

	_, err := p.db.Exec(ctx, full, matchID, userID, progress, correctCount, finishedAt)
	if !isUndefinedColumn(err) {
		return err
	}

	slog.WarnContext(ctx, "store: matches schema lacks finish time columns, reduced update", "match", matchID)

	const reduced = `
UPDATE matches SET
	player_a_progress      = CASE WHEN player_a_id = $2 THEN $3 ELSE player_a_progress END,
	player_a_correct_count = CASE WHEN player_a_id = $2 THEN $4 ELSE player_a_correct_count END,
	player_b_progress      = CASE WHEN player_b_id = $2 THEN $3 ELSE player_b_progress END,
	player_b_correct_count = CASE WHEN player_b_id = $2 THEN $4 ELSE player_b_correct_count END
WHERE match_id = $1;`

	_, err = p.db.Exec(ctx, reduced, matchID, userID, progress, correctCount)
	return err
}

func (p *Postgres) UpdateMatchResult(ctx context.Context, res domain.MatchResult) error {
	const full = `
UPDATE matches
SET result = $2, winner_id = NULLIF($3, ''), status = $4, finish_time = NOW(), complete_time = $5
WHERE match_id = $1;`

	_, err := p.db.Exec(ctx, full,
		res.MatchID, res.Result, res.WinnerID, domain.MatchFinished, res.CompleteTime)
	if !isUndefinedColumn(err) {
		return err
	}

	slog.WarnContext(ctx, "store: matches schema lacks complete_time, reduced update", "match", res.MatchID)

	const reduced = `
UPDATE matches
SET result = $2, winner_id = NULLIF($3, ''), status = $4, finish_time = NOW()
WHERE match_id = $1;`

	_, err = p.db.Exec(ctx, reduced,
		res.MatchID, res.Result, res.WinnerID, domain.MatchFinished)
	return err
}

// GetPlayerRatingState returns the stored Glicko-2 triple, or the default
// (1500, 350, 0.06) when the player has no row yet.
func (p *Postgres) GetPlayerRatingState(ctx context.Context, userID string) (domain.RatingState, error) {
	const stmt = `
SELECT rating, rating_deviation, rating_volatility
FROM players
WHERE user_id = $1;`

	var st domain.RatingState
	err := p.db.QueryRow(ctx, stmt, userID).Scan(&st.Rating, &st.Deviation, &st.Volatility)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return domain.DefaultRatingState(), nil
	}
	if err != nil {
		return domain.RatingState{}, fmt.Errorf("get rating state: %w", err)
	}

	return st, nil
}

func (p *Postgres) SetPlayerRatingState(ctx context.Context, userID string, st domain.RatingState) error {
	const stmt = `
INSERT INTO players (user_id, rating, rating_deviation, rating_volatility, update_time)
VALUES ($1, $2, $3, $4, NOW())
ON CONFLICT (user_id) DO UPDATE
SET rating = $2, rating_deviation = $3, rating_volatility = $4, update_time = NOW();`

	_, err := p.db.Exec(ctx, stmt, userID, st.Rating, st.Deviation, st.Volatility)
	return err
}

// GetCategorySkillState returns the stored per-category estimates, or the
// zero state when the player has no row yet.
func (p *Postgres) GetCategorySkillState(ctx context.Context, userID string) (domain.SkillState, error) {
	const stmt = `
SELECT games_played, estimates
FROM skill_stats
WHERE user_id = $1;`

	var (
		st  domain.SkillState
		raw []byte
	)
	err := p.db.QueryRow(ctx, stmt, userID).Scan(&st.GamesPlayed, &raw)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return domain.ZeroSkillState(), nil
	}
	if err != nil {
		return domain.SkillState{}, fmt.Errorf("get skill state: %w", err)
	}

	st.Estimates = make(map[string]decimal.Decimal)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &st.Estimates); err != nil {
			return domain.SkillState{}, fmt.Errorf("decode skill estimates: %w", err)
		}
	}

	return st, nil
}

func (p *Postgres) SetCategorySkillState(ctx context.Context, userID string, st domain.SkillState) error {
	raw, err := json.Marshal(st.Estimates)
	if err != nil {
		return fmt.Errorf("encode skill estimates: %w", err)
	}

	const stmt = `
INSERT INTO skill_stats (user_id, games_played, estimates, update_time)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (user_id) DO UPDATE
SET games_played = $2, estimates = $3, update_time = NOW();`

	_, err = p.db.Exec(ctx, stmt, userID, st.GamesPlayed, raw)
	return err
}

func isUndefinedColumn(err error) bool {
	var pgErr *pgconn.PgError
	const codeUndefinedColumn = "42703"
	return stderrors.As(err, &pgErr) && pgErr.Code == codeUndefinedColumn
}
