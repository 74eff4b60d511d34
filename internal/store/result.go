package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/localspeed/internal/model"
)

type ResultStore struct {
	db *sql.DB
}

func NewResultStore(db *sql.DB) *ResultStore {
	return &ResultStore{db: db}
}

const resultCols = `id, date, ping, download, upload, lang, theme, mode`

func scanResult(scanner interface{ Scan(...any) error }) (*model.Result, error) {
	var r model.Result
	var mode sql.NullString
	if err := scanner.Scan(&r.ID, &r.Date, &r.Ping, &r.Download, &r.Upload, &r.Lang, &r.Theme, &mode); err != nil {
		return nil, err
	}
	if mode.Valid {
		r.Mode = &mode.String
	}
	return &r, nil
}

// sortColumns maps API sort keys onto columns; anything else sorts by date.
var sortColumns = map[string]string{
	"date":     "date",
	"ping":     "ping",
	"download": "download",
	"upload":   "upload",
}

// ListParams selects one page of history.
type ListParams struct {
	Page   int
	Limit  int
	SortBy string
	Desc   bool
}

func (s *ResultStore) Create(ctx context.Context, r model.Result) (*model.Result, error) {
	if r.Date.IsZero() {
		r.Date = time.Now().UTC()
	}
	if r.Lang == "" {
		r.Lang = "en"
	}
	if r.Theme == "" {
		r.Theme = "dark"
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO results (date, ping, download, upload, lang, theme, mode) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.Date, r.Ping, r.Download, r.Upload, r.Lang, r.Theme, r.Mode,
	)
	if err != nil {
		return nil, fmt.Errorf("create result: %w", err)
	}
	r.ID, _ = res.LastInsertId()
	return &r, nil
}

// List returns one page of results and the total count.
func (s *ResultStore) List(ctx context.Context, p ListParams) ([]model.Result, int, error) {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit < 1 {
		p.Limit = 10
	}
	col, ok := sortColumns[p.SortBy]
	if !ok {
		col = "date"
	}
	dir := "ASC"
	if p.Desc {
		dir = "DESC"
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM results`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count results: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+resultCols+` FROM results ORDER BY `+col+` `+dir+`, id `+dir+` LIMIT ? OFFSET ?`,
		p.Limit, (p.Page-1)*p.Limit,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	results := []model.Result{}
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan result: %w", err)
		}
		results = append(results, *r)
	}
	return results, total, rows.Err()
}

// All returns every result ordered by id.
func (s *ResultStore) All(ctx context.Context) ([]model.Result, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+resultCols+` FROM results ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list all results: %w", err)
	}
	defer rows.Close()

	var results []model.Result
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		results = append(results, *r)
	}
	return results, rows.Err()
}
