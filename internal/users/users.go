// Package users is the thin account store behind login, bulk import and
// roster management.
package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"golang.org/x/crypto/bcrypt"

	"github.com/mind-engage/mindengage-exams/internal/db"
)

var (
	ErrNotFound      = errors.New("user not found")
	ErrWrongPassword = errors.New("incorrect old password")
	ErrLastAdmin     = errors.New("cannot demote the last admin")
)

const bcryptCost = 12

type User struct {
	ID            string `json:"id" db:"id"`
	Username      string `json:"username" db:"username"`
	FullName      string `json:"full_name" db:"full_name"`
	Role          string `json:"role" db:"role"`
	StudentNumber string `json:"student_number" db:"student_number"`
	Password      string `json:"password,omitempty" db:"-"` // plaintext on import only
}

func ValidRole(r string) bool { return r == "student" || r == "teacher" || r == "admin" }

type Store struct{ db *sqlx.DB }

func NewStore(d *sqlx.DB) *Store { return &Store{db: d} }

// BulkUpsert matches rows on id or username. Existing users keep their
// password unless the row carries a new one; new users must have one. The
// whole batch is one transaction.
func (s *Store) BulkUpsert(ctx context.Context, rows []User) (inserted, updated int, err error) {
	err = db.WithTx(ctx, s.db, nil, func(tx *sqlx.Tx) error {
		now := time.Now().Unix()
		for i, u := range rows {
			u.Role = strings.ToLower(strings.TrimSpace(u.Role))
			if u.Role == "" {
				u.Role = "student"
			}
			if !ValidRole(u.Role) {
				return fmt.Errorf("row %d: invalid role %q", i+1, u.Role)
			}
			u.Username = strings.TrimSpace(u.Username)
			if u.Username == "" {
				return fmt.Errorf("row %d: username required", i+1)
			}
			var phash string
			if u.Password != "" {
				b, err := bcrypt.GenerateFromPassword([]byte(u.Password), bcryptCost)
				if err != nil {
					return err
				}
				phash = string(b)
			}

			var existing string
			err := tx.GetContext(ctx, &existing, `SELECT id FROM users WHERE id=$1 OR username=$2`, u.ID, u.Username)
			switch {
			case err == nil:
				if _, err := tx.ExecContext(ctx,
					`UPDATE users SET username=$1,
					   full_name=CASE WHEN $2 = '' THEN full_name ELSE $2 END,
					   role=$3,
					   student_number=CASE WHEN $4 = '' THEN student_number ELSE $4 END,
					   password_hash=CASE WHEN $5 = '' THEN password_hash ELSE $5 END
					 WHERE id=$6`,
					u.Username, u.FullName, u.Role, u.StudentNumber, phash, existing); err != nil {
					return err
				}
				updated++
			case errors.Is(err, sql.ErrNoRows):
				if phash == "" {
					return fmt.Errorf("row %d: password required for new user %s", i+1, u.Username)
				}
				if u.ID == "" {
					u.ID = uuid.NewString()
				}
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO users (id, username, full_name, role, password_hash, student_number, created_at)
					 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
					u.ID, u.Username, u.FullName, u.Role, phash, u.StudentNumber, now); err != nil {
					return err
				}
				inserted++
			default:
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return inserted, updated, nil
}

func (s *Store) List(ctx context.Context, role string) ([]User, error) {
	out := []User{}
	q := `SELECT id, username, full_name, role, student_number FROM users`
	var args []any
	if role != "" {
		q += ` WHERE role=$1`
		args = append(args, role)
	}
	err := s.db.SelectContext(ctx, &out, q+` ORDER BY username`, args...)
	return out, err
}

func (s *Store) ChangePassword(ctx context.Context, id, oldPass, newPass string) error {
	var stored string
	err := s.db.GetContext(ctx, &stored, `SELECT password_hash FROM users WHERE id=$1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(stored), []byte(oldPass)) != nil {
		return ErrWrongPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPass), bcryptCost)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `UPDATE users SET password_hash=$1 WHERE id=$2`, string(hash), id)
	return err
}

// UpdateRole changes the role of the user with the given id or username.
func (s *Store) UpdateRole(ctx context.Context, target, role string) error {
	return db.WithTx(ctx, s.db, nil, func(tx *sqlx.Tx) error {
		var cur struct {
			ID   string `db:"id"`
			Role string `db:"role"`
		}
		err := tx.GetContext(ctx, &cur, `SELECT id, role FROM users WHERE id=$1 OR username=$2`, target, target)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if cur.Role == "admin" && role != "admin" {
			var admins int
			if err := tx.GetContext(ctx, &admins, `SELECT COUNT(1) FROM users WHERE role='admin'`); err != nil {
				return err
			}
			if admins <= 1 {
				return ErrLastAdmin
			}
		}
		_, err = tx.ExecContext(ctx, `UPDATE users SET role=$1 WHERE id=$2`, role, cur.ID)
		return err
	})
}

// EnsureAdmin creates the bootstrap admin when the database has none.
func (s *Store) EnsureAdmin(ctx context.Context, username, passHash string) (bool, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(1) FROM users WHERE role='admin'`); err != nil {
		return false, err
	}
	if n > 0 {
		return false, nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, username, full_name, role, password_hash, created_at) VALUES ($1,$2,$3,$4,$5,$6)`,
		uuid.NewString(), username, "Administrator", "admin", passHash, time.Now().Unix())
	if db.IsUniqueViolation(err) {
		return false, fmt.Errorf("bootstrap admin: username %q already taken by a non-admin", username)
	}
	return err == nil, err
}
