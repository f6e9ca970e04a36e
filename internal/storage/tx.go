package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// Transactor выполняет функцию внутри транзакции БД.
// Если fn вернула ошибку: транзакция откатывается, иначе коммитится.
type Transactor interface {
	InTx(ctx context.Context, fn func(tx *sql.Tx) error) error
}

type sqlTransactor struct {
	log *slog.Logger
	db  *sql.DB
}

func NewTransactor(log *slog.Logger, db *sql.DB) Transactor {
	return &sqlTransactor{log: log, db: db}
}

func (t *sqlTransactor) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	const op = "storage.Transactor.InTx"

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: failed to begin transaction: %w", op, err)
	}
	// паника в fn не должна оставлять соединение с открытой транзакцией
	defer func() {
		if p := recover(); p != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				t.log.Error("transaction rollback after panic failed", slog.String("op", op), slog.Any("error", rbErr))
			}
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			t.log.Error("transaction rollback failed", slog.String("op", op), slog.Any("error", rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: failed to commit transaction: %w", op, err)
	}
	return nil
}
