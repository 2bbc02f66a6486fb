package repositories

import (
	"database/sql"
	"time"

	"tollgate/internal/platform/database"
	"tollgate/internal/platform/models"
)

type UserRepository struct {
	db *database.DB
}

func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) BeginTx() (*sql.Tx, error) {
	return r.db.Begin()
}

const userColumns = `id, email, email_verified, password_hash, full_name, preferred_username,
	given_name, family_name, role, github_link_id, total_paid, total_spent, created_at, updated_at`

func (r *UserRepository) Create(user *models.User) error {
	query := r.db.Rebind(`
		INSERT INTO users (id, email, email_verified, password_hash, full_name, preferred_username,
			given_name, family_name, role, github_link_id, total_paid, total_spent, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err := r.db.Exec(query, user.ID, user.Email, user.EmailVerified, user.PasswordHash,
		user.FullName, user.PreferredUsername, user.GivenName, user.FamilyName, user.Role,
		user.GithubLinkID, user.TotalPaid, user.TotalSpent, user.CreatedAt, user.UpdatedAt)
	return err
}

func (r *UserRepository) GetByID(id string) (*models.User, error) {
	query := r.db.Rebind(`SELECT ` + userColumns + ` FROM users WHERE id = ?`)
	return r.scanUser(r.db.QueryRow(query, id))
}

func (r *UserRepository) GetByEmail(email string) (*models.User, error) {
	query := r.db.Rebind(`SELECT ` + userColumns + ` FROM users WHERE email = ?`)
	return r.scanUser(r.db.QueryRow(query, email))
}

func (r *UserRepository) scanUser(row *sql.Row) (*models.User, error) {
	user := &models.User{}
	err := row.Scan(&user.ID, &user.Email, &user.EmailVerified, &user.PasswordHash,
		&user.FullName, &user.PreferredUsername, &user.GivenName, &user.FamilyName,
		&user.Role, &user.GithubLinkID, &user.TotalPaid, &user.TotalSpent,
		&user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

// DebitTx charges a metered call against the user's balance. The WHERE
// clause re-checks available balance so two concurrent calls cannot both
// read the same pre-debit balance and both succeed; the loser sees zero
// rows affected.
func (r *UserRepository) DebitTx(tx *sql.Tx, userID string, amount models.Micros) (bool, error) {
	query := r.db.Rebind(`
		UPDATE users SET total_spent = total_spent + ?, updated_at = ?
		WHERE id = ? AND total_paid - total_spent >= ?
	`)
	res, err := tx.Exec(query, amount, time.Now().Unix(), userID, amount)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// CreditPaid records a top-up; called by the checkout webhook path.
func (r *UserRepository) CreditPaid(userID string, amount models.Micros) error {
	query := r.db.Rebind(`UPDATE users SET total_paid = total_paid + ?, updated_at = ? WHERE id = ?`)
	_, err := r.db.Exec(query, amount, time.Now().Unix(), userID)
	return err
}
