package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/scythe504/drawguess/internal"
)

var ErrUnexpectedDatabase = errors.New("unexpected database error")

const schema = `
CREATE TABLE IF NOT EXISTS words (
	id       BIGSERIAL PRIMARY KEY,
	word     TEXT NOT NULL,
	category TEXT NOT NULL DEFAULT '',
	UNIQUE (word, category)
);

CREATE TABLE IF NOT EXISTS games (
	id            BIGSERIAL PRIMARY KEY,
	room_id       TEXT NOT NULL,
	room_name     TEXT NOT NULL,
	rounds_played INTEGER NOT NULL,
	finished_at   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS game_scores (
	game_id   BIGINT NOT NULL REFERENCES games (id) ON DELETE CASCADE,
	player_id TEXT NOT NULL,
	name      TEXT NOT NULL,
	score     INTEGER NOT NULL,
	position  INTEGER NOT NULL,
	PRIMARY KEY (game_id, player_id)
);
`

// Store keeps the word list and finished games in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

func Open(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return wrap(err)
	}
	return nil
}

// Words returns every stored word, or only those in category when it is set.
func (s *Store) Words(ctx context.Context, category string) ([]internal.Word, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT word, category FROM words WHERE $1 = '' OR lower(category) = lower($1) ORDER BY id", category)
	if err != nil {
		return nil, wrap(err)
	}

	words, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (internal.Word, error) {
		var w internal.Word
		err := row.Scan(&w.Text, &w.Category)
		return w, err
	})
	if err != nil {
		return nil, wrap(err)
	}
	return words, nil
}

// AddWords inserts words, skipping ones already stored. It returns how many
// were new.
func (s *Store) AddWords(ctx context.Context, words []internal.Word) (int, error) {
	batch := &pgx.Batch{}
	for _, w := range words {
		batch.Queue("INSERT INTO words (word, category) VALUES ($1, $2) ON CONFLICT (word, category) DO NOTHING",
			w.Text, w.Category)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	added := 0
	for range words {
		tag, err := results.Exec()
		if err != nil {
			return added, wrap(err)
		}
		added += int(tag.RowsAffected())
	}
	return added, nil
}

// SaveGameResult archives a finished game and its leaderboard.
func (s *Store) SaveGameResult(ctx context.Context, res internal.FinalResults) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var gameID int64
		err := tx.QueryRow(ctx,
			"INSERT INTO games (room_id, room_name, rounds_played, finished_at) VALUES ($1, $2, $3, $4) RETURNING id",
			res.RoomID, res.RoomName, res.RoundsPlayed, res.FinishedAt,
		).Scan(&gameID)
		if err != nil {
			return wrap(err)
		}

		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"game_scores"},
			[]string{"game_id", "player_id", "name", "score", "position"},
			pgx.CopyFromSlice(len(res.Leaderboard), func(i int) ([]any, error) {
				p := res.Leaderboard[i]
				return []any{gameID, p.PlayerID, p.Username, p.Score, p.Position}, nil
			}),
		)
		return wrap(err)
	})
}

// RecentResults returns the latest finished games, newest first.
func (s *Store) RecentResults(ctx context.Context, limit int) ([]internal.FinalResults, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT g.id, g.room_id, g.room_name, g.rounds_played, g.finished_at,
		       sc.player_id, sc.name, sc.score, sc.position
		FROM (SELECT * FROM games ORDER BY finished_at DESC, id DESC LIMIT $1) g
		JOIN game_scores sc ON sc.game_id = g.id
		ORDER BY g.finished_at DESC, g.id DESC, sc.position`, limit)
	if err != nil {
		return nil, wrap(err)
	}
	defer rows.Close()

	var out []internal.FinalResults
	var lastID int64 = -1
	for rows.Next() {
		var (
			id  int64
			res internal.FinalResults
			p   internal.PlayerScore
		)
		if err := rows.Scan(&id, &res.RoomID, &res.RoomName, &res.RoundsPlayed, &res.FinishedAt,
			&p.PlayerID, &p.Username, &p.Score, &p.Position); err != nil {
			return nil, wrap(err)
		}
		if id != lastID {
			out = append(out, res)
			lastID = id
		}
		last := &out[len(out)-1]
		last.Leaderboard = append(last.Leaderboard, p)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(err)
	}
	return out, nil
}

func wrap(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return fmt.Errorf("%w: %s (%s)", ErrUnexpectedDatabase, pgErr.Message, pgErr.Code)
	}
	return fmt.Errorf("%w: %w", ErrUnexpectedDatabase, err)
}
