package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Passkey is a registered WebAuthn credential of the slidechat user. Only the
// label and timestamps are exposed over the API.
type Passkey struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	CreatedAt  time.Time  `json:"createdAt"`
	LastUsedAt *time.Time `json:"lastUsedAt,omitempty"`

	CredentialID    []byte   `json:"-"`
	PublicKey       []byte   `json:"-"`
	AttestationType string   `json:"-"`
	AAGUID          []byte   `json:"-"`
	SignCount       uint32   `json:"-"`
	Transports      []string `json:"-"`
	BackupEligible  bool     `json:"-"`
	BackupState     bool     `json:"-"`
}

const passkeyColumns = `id, name, created_at, last_used_at, credential_id, public_key,
	attestation_type, aaguid, sign_count, transports, backup_eligible, backup_state`

func scanPasskey(scan scanFunc) (*Passkey, error) {
	var (
		p          Passkey
		lastUsed   sql.NullTime
		transports string
	)
	if err := scan(&p.ID, &p.Name, &p.CreatedAt, &lastUsed, &p.CredentialID, &p.PublicKey,
		&p.AttestationType, &p.AAGUID, &p.SignCount, &transports, &p.BackupEligible, &p.BackupState); err != nil {
		return nil, err
	}
	p.LastUsedAt = TimePtr(lastUsed)
	if transports != "" {
		p.Transports = strings.Split(transports, ",")
	}
	return &p, nil
}

// CreatePasskey stores a freshly registered credential and fills in its id
// and creation time.
func (db *DB) CreatePasskey(p *Passkey) error {
	if len(p.CredentialID) == 0 || len(p.PublicKey) == 0 {
		return errors.New("create passkey: credential id and public key are required")
	}
	p.ID = NewID()
	p.CreatedAt = time.Now().UTC()
	p.LastUsedAt = nil

	_, err := db.conn.Exec(`INSERT INTO passkeys (`+passkeyColumns+`) VALUES (?, ?, ?, NULL, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.CreatedAt, p.CredentialID, p.PublicKey,
		p.AttestationType, p.AAGUID, p.SignCount, strings.Join(p.Transports, ","), p.BackupEligible, p.BackupState)
	if err != nil {
		return fmt.Errorf("insert passkey: %w", err)
	}
	return nil
}

// ListPasskeys returns every credential, most recently registered first.
func (db *DB) ListPasskeys() ([]*Passkey, error) {
	rows, err := db.conn.Query(`SELECT ` + passkeyColumns + ` FROM passkeys ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("query passkeys: %w", err)
	}
	defer rows.Close()

	passkeys := make([]*Passkey, 0)
	for rows.Next() {
		p, err := scanPasskey(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan passkey: %w", err)
		}
		passkeys = append(passkeys, p)
	}
	return passkeys, rows.Err()
}

func (db *DB) CountPasskeys() (int, error) {
	var n int
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM passkeys`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count passkeys: %w", err)
	}
	return n, nil
}

// TouchPasskey records a successful login with the credential: the
// authenticator's new signature counter and backup state, and the time.
func (db *DB) TouchPasskey(credentialID []byte, signCount uint32, backupState bool) error {
	return db.execOne(`UPDATE passkeys SET sign_count = ?, backup_state = ?, last_used_at = ? WHERE credential_id = ?`,
		signCount, backupState, time.Now().UTC(), credentialID)
}

func (db *DB) RenamePasskey(id, name string) error {
	return db.execOne(`UPDATE passkeys SET name = ? WHERE id = ?`, name, id)
}

func (db *DB) DeletePasskey(id string) error {
	return db.execOne(`DELETE FROM passkeys WHERE id = ?`, id)
}

// execOne runs a statement that must affect exactly one row; zero rows is ErrNotFound.
func (db *DB) execOne(query string, args ...any) error {
	res, err := db.conn.Exec(query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
