package store

import (
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/ayusman/hasta/internal/dispatch"
	"github.com/ayusman/hasta/internal/gesture"
)

// ResultRepository provides access to stored action results.
type ResultRepository struct {
	db *sql.DB
}

// Results returns the action result repository for this store.
func (s *Store) Results() *ResultRepository {
	return &ResultRepository{db: s.db}
}

const resultColumns = `id, mapping, gesture, hand, entity_id, service, success, message, error,
	error_kind, status_code, duration, created_at`

// Create inserts a result. A missing ID is generated.
func (r *ResultRepository) Create(res *dispatch.Result) error {
	if res.ID == "" {
		res.ID = uuid.NewString()
	}

	_, err := r.db.Exec(
		`INSERT INTO action_results (`+resultColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.ID, res.Mapping, res.Gesture, string(res.Hand), res.EntityID, res.Service,
		res.Success, res.Message, res.Error, string(res.Kind), res.StatusCode, res.Duration,
		res.Timestamp.UTC(),
	)
	return err
}

// GetByID retrieves a result by its ID.
func (r *ResultRepository) GetByID(id string) (*dispatch.Result, error) {
	row := r.db.QueryRow(`SELECT `+resultColumns+` FROM action_results WHERE id = ?`, id)
	res, err := scanResult(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return res, nil
}

// List returns up to limit results, newest first. A limit <= 0 returns all.
func (r *ResultRepository) List(limit int) ([]*dispatch.Result, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := r.db.Query(
		`SELECT `+resultColumns+` FROM action_results
		 ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []*dispatch.Result{}
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return results, nil
}

// Count returns the number of stored results.
func (r *ResultRepository) Count() (int, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM action_results`).Scan(&n)
	return n, err
}

// DeleteAll removes every stored result and returns how many were removed.
func (r *ResultRepository) DeleteAll() (int64, error) {
	result, err := r.db.Exec(`DELETE FROM action_results`)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanResult(s scanner) (*dispatch.Result, error) {
	res := &dispatch.Result{}
	var hand, kind string
	var success int

	err := s.Scan(&res.ID, &res.Mapping, &res.Gesture, &hand, &res.EntityID, &res.Service,
		&success, &res.Message, &res.Error, &kind, &res.StatusCode, &res.Duration, &res.Timestamp)
	if err != nil {
		return nil, err
	}

	res.Hand = gesture.Hand(hand)
	res.Kind = dispatch.ErrorKind(kind)
	res.Success = success != 0
	return res, nil
}
