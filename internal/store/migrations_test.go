package store

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

var testMigrations = []Migration{
	{Name: "001_a", UpSQL: "CREATE TABLE a (id INT)", DownSQL: "DROP TABLE a"},
	{Name: "002_b", UpSQL: "CREATE TABLE b (id INT)", DownSQL: "DROP TABLE b"},
}

func appliedRows(names ...string) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"name"})
	for _, n := range names {
		rows.AddRow(n)
	}
	return rows
}

func TestMigratorUp(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		setupMock func(sqlmock.Sqlmock)
		wantErr   bool
	}{
		{
			name: "applies pending only",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).
					WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectQuery(`SELECT name FROM schema_migrations ORDER BY id`).
					WillReturnRows(appliedRows("001_a"))
				mock.ExpectBegin()
				mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE b (id INT)")).
					WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectExec(regexp.QuoteMeta("INSERT INTO schema_migrations (name) VALUES ($1)")).
					WithArgs("002_b").
					WillReturnResult(sqlmock.NewResult(1, 1))
				mock.ExpectCommit()
			},
		},
		{
			name: "nothing pending",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).
					WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectQuery(`SELECT name FROM schema_migrations ORDER BY id`).
					WillReturnRows(appliedRows("001_a", "002_b"))
			},
		},
		{
			name: "failed step rolls back",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).
					WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectQuery(`SELECT name FROM schema_migrations ORDER BY id`).
					WillReturnRows(appliedRows())
				mock.ExpectBegin()
				mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE a (id INT)")).
					WillReturnError(errors.New("syntax error"))
				mock.ExpectRollback()
			},
			wantErr: true,
		},
		{
			name: "initialize fails",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).
					WillReturnError(sql.ErrConnDone)
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("sqlmock.New: %v", err)
			}
			defer db.Close()
			tt.setupMock(mock)

			err = NewMigrator(db, nil).Up(context.Background(), testMigrations)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Up error = %v, wantErr %v", err, tt.wantErr)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unmet expectations: %v", err)
			}
		})
	}
}

func TestMigratorDown(t *testing.T) {
	t.Parallel()

	t.Run("rolls back latest", func(t *testing.T) {
		t.Parallel()
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("sqlmock.New: %v", err)
		}
		defer db.Close()

		mock.ExpectQuery(`SELECT name FROM schema_migrations ORDER BY id`).
			WillReturnRows(appliedRows("001_a", "002_b"))
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("DROP TABLE b")).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(regexp.QuoteMeta("DELETE FROM schema_migrations WHERE name = $1")).
			WithArgs("002_b").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		if err := NewMigrator(db, nil).Down(context.Background(), testMigrations); err != nil {
			t.Fatalf("Down: %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
	})

	t.Run("nothing applied", func(t *testing.T) {
		t.Parallel()
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("sqlmock.New: %v", err)
		}
		defer db.Close()

		mock.ExpectQuery(`SELECT name FROM schema_migrations ORDER BY id`).
			WillReturnRows(appliedRows())

		err = NewMigrator(db, nil).Down(context.Background(), testMigrations)
		if !errors.Is(err, ErrNoMigrations) {
			t.Fatalf("Down error = %v, want %v", err, ErrNoMigrations)
		}
	})
}

func TestMigratorStatus(t *testing.T) {
	t.Parallel()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT name FROM schema_migrations ORDER BY id`).
		WillReturnRows(appliedRows("001_a"))

	got, err := NewMigrator(db, nil).Status(context.Background(), testMigrations)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	want := []MigrationStatus{{Name: "001_a", Applied: true}, {Name: "002_b", Applied: false}}
	if len(got) != len(want) {
		t.Fatalf("len(Status) = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Status[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestMigrationsAreOrdered(t *testing.T) {
	t.Parallel()
	for i := 1; i < len(Migrations); i++ {
		if Migrations[i-1].Name >= Migrations[i].Name {
			t.Errorf("migration %q sorts after %q", Migrations[i-1].Name, Migrations[i].Name)
		}
	}
	for _, m := range Migrations {
		if m.UpSQL == "" || m.DownSQL == "" {
			t.Errorf("migration %q is missing a direction", m.Name)
		}
	}
}
