package commands

import (
	"database/sql"
	"errors"
	"log/slog"

	"github.com/sirvaulterscoff/run-once"
	"github.com/sirvaulterscoff/run-once/internal/app"
	"github.com/sirvaulterscoff/run-once/internal/output"
	"github.com/sirvaulterscoff/run-once/store"
)

// DB is an alias so command code doesn't need to import database/sql.
type DB = sql.DB

type printedError struct {
	err error
}

func (e printedError) Error() string {
	// Intentionally hide the original error: the JSON error response is the output.
	return "error already printed"
}

func openDB() (*DB, func(), error) {
	dbPath, err := app.GetDBPath()
	if err != nil {
		return nil, nil, err
	}

	db, err := store.InitDBWithPath(dbPath)
	if err != nil {
		return nil, nil, err
	}

	return db, func() { _ = db.Close() }, nil
}

// withCoordinator opens the demo database, migrates it, builds a
// runonce.Coordinator backed by it, and runs fn against it.
func withCoordinator(fn func(c *runonce.Coordinator) error) error {
	db, closeDB, err := openDB()
	if err != nil {
		return cmdErr(err)
	}
	defer closeDB()

	c := runonce.New(store.NewSQLiteStore(db), runonce.WithLogger(runonce.NewSlogLogger(slog.Default())))
	if err := fn(c); err != nil {
		return cmdErr(err)
	}
	return nil
}

func cmdErr(err error) error {
	if err == nil {
		return nil
	}
	attrs := []any{"error", err.Error()}
	type recoverableError interface {
		ErrorCode() string
		Context() map[string]string
	}
	var detailed recoverableError
	if errors.As(err, &detailed) {
		attrs = append(attrs, "error_code", detailed.ErrorCode())
		for k, v := range detailed.Context() {
			attrs = append(attrs, k, v)
		}
	}
	slog.Error("command error", attrs...)
	_ = output.PrintError(err)
	return printedError{err: err}
}
