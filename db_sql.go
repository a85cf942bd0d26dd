package oauthbasic

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"database/sql"
	"encoding/base64"
	"errors"
	"time"

	_ "github.com/lib/pq" // Postgres driver, registered as "postgres"
	"golang.org/x/crypto/scrypt"
)

/*
Hash encodings:

Version 1:
65 bytes (1 + 32 + 32).
bytes[0]     = 1
bytes[1:33]  = Salt (32 random bytes)
bytes[33:65] = scrypt-ed hash with parameters N=256 r=8 p=1

If you decide that you need to raise the N factor, then introduce a new
version of the hash (the only version right now is version 1).
*/

const (
	hashLengthV1 = 65
	scryptN_V1   = 256
)

////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////

type sqlPermissionDB struct {
	db *sql.DB
}

func NewPermissionDB_SQL(db *sql.DB) (PermissionDB, error) {
	if db == nil {
		return nil, NewError(ErrConnect, "PermissionDB needs a database")
	}
	return &sqlPermissionDB{db: db}, nil
}

// The permission is always passed as a query parameter, never spliced into the SQL text
func (x *sqlPermissionDB) RolesForPermission(ctx context.Context, permission string) ([]string, error) {
	rows, err := x.db.QueryContext(ctx, `SELECT role FROM permissions WHERE permission = $1 ORDER BY role`, permission)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	roles := []string{}
	for rows.Next() {
		role := ""
		if err := rows.Scan(&role); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

func (x *sqlPermissionDB) SetPermissionRole(ctx context.Context, permission, role string) error {
	_, err := x.db.ExecContext(ctx, `INSERT INTO permissions (permission, role) VALUES ($1, $2) ON CONFLICT DO NOTHING`, permission, role)
	return err
}

func (x *sqlPermissionDB) DeletePermission(ctx context.Context, permission string) error {
	_, err := x.db.ExecContext(ctx, `DELETE FROM permissions WHERE permission = $1`, permission)
	return err
}

func (x *sqlPermissionDB) GetPermissions(ctx context.Context) (map[string][]string, error) {
	rows, err := x.db.QueryContext(ctx, `SELECT permission, role FROM permissions ORDER BY permission, role`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	all := map[string][]string{}
	for rows.Next() {
		permission, role := "", ""
		if err := rows.Scan(&permission, &role); err != nil {
			return nil, err
		}
		all[permission] = append(all[permission], role)
	}
	return all, rows.Err()
}

// The database handle is shared, and is closed by the Authenticator
func (x *sqlPermissionDB) Close() {
}

////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////

type sqlUserRealm struct {
	db           *sql.DB
	defaultRoles []string
}

func NewUserRealm_SQL(db *sql.DB, defaultRoles []string) (UserRealm, error) {
	if db == nil {
		return nil, NewError(ErrConnect, "UserRealm needs a database")
	}
	return &sqlUserRealm{db: db, defaultRoles: defaultRoles}, nil
}

func (x *sqlUserRealm) Name() string {
	return UserRealmSQL
}

func (x *sqlUserRealm) Authenticate(ctx context.Context, identity, password string) ([]string, error) {
	identity = CanonicalizeIdentity(identity)
	dbHash := ""
	if err := x.db.QueryRowContext(ctx, `SELECT password FROM authuser WHERE identity = $1`, identity).Scan(&dbHash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrIdentityAuthNotFound
		}
		return nil, err
	}
	if !verifyHash(password, dbHash) {
		return nil, ErrInvalidPassword
	}

	rows, err := x.db.QueryContext(ctx, `SELECT role FROM authuserrole WHERE identity = $1 ORDER BY role`, identity)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	roles := append([]string{}, x.defaultRoles...)
	for rows.Next() {
		role := ""
		if err := rows.Scan(&role); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return uniqueRoles(roles), rows.Err()
}

func (x *sqlUserRealm) CreateUser(ctx context.Context, identity, password string, roles []string) error {
	identity = CanonicalizeIdentity(identity)
	if identity == "" {
		return ErrIdentityEmpty
	}
	hash, err := computeHash(password)
	if err != nil {
		return err
	}
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `INSERT INTO authuser (identity, password, created, modified) VALUES ($1, $2, $3, $3)`, identity, hash, now); err != nil {
		tx.Rollback()
		if isUniqueViolation(err) {
			return NewError(ErrIdentityExists, identity)
		}
		return err
	}
	if err := setUserRolesInternal(ctx, tx, identity, roles); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (x *sqlUserRealm) SetPassword(ctx context.Context, identity, password string) error {
	hash, err := computeHash(password)
	if err != nil {
		return err
	}
	res, err := x.db.ExecContext(ctx, `UPDATE authuser SET password = $1, modified = $2 WHERE identity = $3`, hash, time.Now().UTC(), CanonicalizeIdentity(identity))
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected != 1 {
		return ErrIdentityAuthNotFound
	}
	return nil
}

func (x *sqlUserRealm) SetUserRoles(ctx context.Context, identity string, roles []string) error {
	identity = CanonicalizeIdentity(identity)
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	exists := 0
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM authuser WHERE identity = $1`, identity).Scan(&exists); err != nil {
		tx.Rollback()
		return err
	}
	if exists == 0 {
		tx.Rollback()
		return ErrIdentityAuthNotFound
	}
	if err := setUserRolesInternal(ctx, tx, identity, roles); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func setUserRolesInternal(ctx context.Context, tx *sql.Tx, identity string, roles []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM authuserrole WHERE identity = $1`, identity); err != nil {
		return err
	}
	for _, role := range uniqueRoles(roles) {
		if _, err := tx.ExecContext(ctx, `INSERT INTO authuserrole (identity, role) VALUES ($1, $2)`, identity, role); err != nil {
			return err
		}
	}
	return nil
}

func (x *sqlUserRealm) Close() {
}

////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////

func verifyHash(password, hash string) bool {
	block, err := base64.StdEncoding.DecodeString(hash)
	if err != nil {
		return false
	}
	if len(block) == hashLengthV1 {
		if block[0] != 1 {
			return false
		}
		scrypted, err := scrypt.Key([]byte(password), block[1:33], scryptN_V1, 8, 1, 32)
		if err != nil {
			return false
		}
		return subtle.ConstantTimeCompare(block[33:], scrypted) == 1
	} else {
		return false
	}
}

func computeHash(password string) (string, error) {
	cblock := [hashLengthV1]byte{}
	cblock[0] = 1
	if ncrypto, err := rand.Read(cblock[1:33]); ncrypto != 32 || err != nil {
		return "", err
	}
	scrypted, err := scrypt.Key([]byte(password), cblock[1:33], scryptN_V1, 8, 1, 32)
	if err != nil {
		return "", err
	}
	copy(cblock[33:], scrypted)
	return base64.StdEncoding.EncodeToString(cblock[:]), nil
}
