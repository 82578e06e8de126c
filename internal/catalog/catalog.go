// Package catalog answers "quanto custa" questions from the procedures table.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrProcedureNotFound indicates no procedure matches the search term.
var ErrProcedureNotFound = errors.New("catalog: procedure not found")

// Procedure is a priced service the clinic offers.
type Procedure struct {
	ID          string
	Name        string
	Description string
	// PriceCents avoids float money arithmetic.
	PriceCents   int64
	KlingoExamID string
}

// PriceReais renders the price for chat output.
func (p Procedure) PriceReais() string {
	return fmt.Sprintf("R$ %d,%02d", p.PriceCents/100, p.PriceCents%100)
}

type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store reads the procedure catalog from Postgres.
type Store struct {
	pool pgxPool
}

func NewStore(pool pgxPool) *Store {
	if pool == nil {
		panic("catalog: pgx pool required")
	}
	return &Store{pool: pool}
}

// Search finds procedures whose name or description contains the term.
func (s *Store) Search(ctx context.Context, term string) ([]Procedure, error) {
	query := `
		SELECT id, name, description, price_cents, klingo_exam_id
		FROM procedures
		WHERE name ILIKE '%' || $1 || '%' OR description ILIKE '%' || $1 || '%'
		ORDER BY name
		LIMIT 5
	`
	rows, err := s.pool.Query(ctx, query, term)
	if err != nil {
		return nil, fmt.Errorf("catalog: search failed: %w", err)
	}
	defer rows.Close()

	var procedures []Procedure
	for rows.Next() {
		var (
			p    Procedure
			desc sql.NullString
			exam sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.Name, &desc, &p.PriceCents, &exam); err != nil {
			return nil, fmt.Errorf("catalog: scan failed: %w", err)
		}
		p.Description = desc.String
		p.KlingoExamID = exam.String
		procedures = append(procedures, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: rows failed: %w", err)
	}
	if len(procedures) == 0 {
		return nil, ErrProcedureNotFound
	}
	return procedures, nil
}
