package oauthbasic

import (
	"github.com/BurntSushi/migration"
)

func SqlCreateDatabase(conx *DBConnection) error {
	// Check first if the database already exists
	if db, eConnect := conx.Connect(); eConnect == nil {
		// The postgres driver will not return an error until we attempt to start a transaction
		if tx, eTxBegin := db.Begin(); eTxBegin == nil {
			tx.Rollback()
			db.Close()
			return nil
		} else {
			// database does not exist, go ahead and try to create it
			db.Close()
		}
	} else {
		return eConnect
	}
	// Connect via the 'postgres' database
	copy := *conx
	copy.Database = "postgres"
	if db, e := copy.Connect(); e == nil {
		defer db.Close()
		_, eExec := db.Exec("CREATE DATABASE \"" + conx.Database + "\"")
		return eExec
	} else {
		return e
	}
}

// RunMigrations brings the database up to the latest schema. It is safe to run on every startup.
func RunMigrations(conx *DBConnection) error {
	db, err := migration.Open(conx.Driver, conx.ConnectionString(), createMigrations())
	if err != nil {
		return NewError(ErrConnect, err.Error())
	}
	return db.Close()
}

func createMigrations() []migration.Migrator {
	var migrations []migration.Migrator

	text := []string{
		// 1. permissions. A permission may map to several roles.
		`CREATE TABLE permissions (permission VARCHAR NOT NULL, role VARCHAR NOT NULL);
		CREATE UNIQUE INDEX idx_permissions_permission_role ON permissions (permission, role);`,

		// 2. oauthconsumer
		`CREATE TABLE oauthconsumer (consumerkey VARCHAR PRIMARY KEY, secret VARCHAR NOT NULL, rsapublickey TEXT, displayname VARCHAR, roles TEXT[], created TIMESTAMP);`,

		// 3. oauthtoken
		`CREATE TABLE oauthtoken (token VARCHAR PRIMARY KEY, secret VARCHAR NOT NULL, consumerkey VARCHAR NOT NULL REFERENCES oauthconsumer (consumerkey) ON DELETE CASCADE, permissions TEXT[], expires TIMESTAMP, created TIMESTAMP);
		CREATE INDEX idx_oauthtoken_consumerkey ON oauthtoken (consumerkey);`,

		// 4. oauthnonce
		`CREATE TABLE oauthnonce (noncekey VARCHAR PRIMARY KEY, expires TIMESTAMP NOT NULL);
		CREATE INDEX idx_oauthnonce_expires ON oauthnonce (expires);`,

		// 5. authuser, for the SQL user realm
		`CREATE TABLE authuser (identity VARCHAR PRIMARY KEY, password VARCHAR NOT NULL, created TIMESTAMP, modified TIMESTAMP);
		CREATE TABLE authuserrole (identity VARCHAR NOT NULL REFERENCES authuser (identity) ON DELETE CASCADE, role VARCHAR NOT NULL);
		CREATE UNIQUE INDEX idx_authuserrole_identity_role ON authuserrole (identity, role);`,

		// 6. authlog
		`CREATE TABLE authlog (id BIGSERIAL PRIMARY KEY, ts TIMESTAMP NOT NULL, method VARCHAR, principal VARCHAR, outcome VARCHAR, ipaddress VARCHAR);
		CREATE INDEX idx_authlog_ts ON authlog (ts);`,
	}

	for _, src := range text {
		srcCapture := src
		migrations = append(migrations, func(tx migration.LimitedTx) error {
			_, err := tx.Exec(srcCapture)
			return err
		})
	}
	return migrations
}
