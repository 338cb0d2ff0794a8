package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/RezaEskandarii/ticketfire/internal/state"
	"github.com/RezaEskandarii/ticketfire/internal/store"
	"github.com/RezaEskandarii/ticketfire/types"
	"github.com/lib/pq"
)

const (
	upsertTaskQuery = `
		INSERT INTO ticketfire_schema.tasks (
			id, position, film_id, film_title, ext_id_screening, venue, screening_time, sale_time,
			purchase_url, mode, ticket_count, status, result_message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE SET
			position = $2,
			film_id = $3,
			film_title = $4,
			ext_id_screening = $5,
			venue = $6,
			screening_time = $7,
			sale_time = $8,
			purchase_url = $9,
			mode = $10,
			ticket_count = $11,
			status = $12,
			result_message = $13,
			updated_at = $15
	`
	pruneTasksQuery = `DELETE FROM ticketfire_schema.tasks WHERE NOT (id = ANY($1))`
	selectTasksQuery = `
		SELECT id, film_id, film_title, ext_id_screening, venue, screening_time, sale_time,
		       purchase_url, mode, ticket_count, status, result_message, created_at, updated_at
		FROM ticketfire_schema.tasks
		ORDER BY position ASC
	`
)

type PostgresTaskStore struct {
	db *sql.DB
}

func NewPostgresTaskStore(db *sql.DB) store.TaskStore {
	return &PostgresTaskStore{db: db}
}

// Save upserts every task with its list position and prunes rows for tasks no longer in the list,
// all in one transaction.
func (s *PostgresTaskStore) Save(ctx context.Context, tasks []types.Task) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save tasks: %w", err)
	}
	defer tx.Rollback()

	ids := make([]string, 0, len(tasks))
	for i, t := range tasks {
		_, err := tx.ExecContext(ctx, upsertTaskQuery,
			t.ID, i, t.FilmID, t.FilmTitle, t.ScreeningID, t.Venue, t.ScreeningTime, t.SaleTime,
			nullString(t.PurchaseURL), string(t.Mode), t.TicketCount, string(t.Status),
			nullString(t.ResultMessage), t.CreatedAt, t.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert task %s: %w", t.ID, err)
		}
		ids = append(ids, t.ID)
	}

	if _, err := tx.ExecContext(ctx, pruneTasksQuery, pq.Array(ids)); err != nil {
		return fmt.Errorf("failed to prune tasks: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save tasks: %w", err)
	}
	return nil
}

func (s *PostgresTaskStore) Load(ctx context.Context) ([]types.Task, error) {
	rows, err := s.db.QueryContext(ctx, selectTasksQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	tasks := []types.Task{}
	for rows.Next() {
		var (
			t             types.Task
			purchaseURL   sql.NullString
			resultMessage sql.NullString
			mode, status  string
		)
		err := rows.Scan(
			&t.ID, &t.FilmID, &t.FilmTitle, &t.ScreeningID, &t.Venue, &t.ScreeningTime, &t.SaleTime,
			&purchaseURL, &mode, &t.TicketCount, &status, &resultMessage, &t.CreatedAt, &t.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		t.Mode = types.PurchaseMode(mode)
		t.Status = state.TaskStatus(status)
		if purchaseURL.Valid {
			t.PurchaseURL = types.StringPtr(purchaseURL.String)
		}
		if resultMessage.Valid {
			t.ResultMessage = types.StringPtr(resultMessage.String)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tasks, nil
}

func (s *PostgresTaskStore) Close() error {
	return s.db.Close()
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}
