package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/IMQS/log"
	"github.com/IMQS/oauthbasic"
)

const usage = `oauthbasic <command> -c config.json [options]

Commands:
  run              Run the HTTP server (/ping, /whoami, /roles/{role})
  createdb         Create the database if it does not exist
  migrate          Bring the database schema up to date
  add-consumer     Register an OAuth consumer. -name, -key, -secret, -roles, -rsakey
  issue-token      Issue an access token. -consumer, -permissions, -ttl
  revoke-token     Revoke an access token. -consumer, -token
  purge-tokens     Delete expired access tokens
  set-role         Map a permission to a role. -permission, -role
  add-user         Create a Basic user. -user, -password, -roles
`

func main() {
	if len(os.Args) < 2 {
		fmt.Print(usage)
		os.Exit(1)
	}
	cmd := os.Args[1]
	flags := flag.NewFlagSet(cmd, flag.ExitOnError)
	configFile := flags.String("c", "", "Path to the JSON config file")
	name := flags.String("name", "", "Consumer display name")
	key := flags.String("key", "", "Consumer key (generated if empty)")
	secret := flags.String("secret", "", "Consumer secret (generated if empty)")
	rsaKeyFile := flags.String("rsakey", "", "PEM file with the consumer's RSA public key")
	roles := flags.String("roles", "", "Comma separated roles")
	consumer := flags.String("consumer", "", "Consumer key")
	permissions := flags.String("permissions", "", "Comma separated permissions")
	ttl := flags.Duration("ttl", 0, "Token lifetime (0 means no expiry)")
	token := flags.String("token", "", "Access token")
	permission := flags.String("permission", "", "Permission")
	role := flags.String("role", "", "Role")
	user := flags.String("user", "", "Username")
	password := flags.String("password", "", "Password")
	flags.Parse(os.Args[2:])

	config := &oauthbasic.Config{}
	config.Reset()
	if *configFile != "" {
		if err := config.LoadFile(*configFile); err != nil {
			fmt.Printf("Error loading config file '%v': %v\n", *configFile, err)
			os.Exit(1)
		}
	}

	logger := log.New(log.Stdout, true)
	ctx := context.Background()

	var err error
	switch cmd {
	case "run":
		err = oauthbasic.RunHttpFromConfig(config)
	case "createdb":
		err = oauthbasic.SqlCreateDatabase(&config.DB)
	case "migrate":
		err = oauthbasic.RunMigrations(&config.DB)
	case "add-consumer":
		err = withDB(config, func(db *sql.DB) error {
			c := &oauthbasic.Consumer{
				Key:         *key,
				Secret:      *secret,
				DisplayName: *name,
				Roles:       splitList(*roles),
			}
			if *rsaKeyFile != "" {
				pemBytes, err := os.ReadFile(*rsaKeyFile)
				if err != nil {
					return err
				}
				c.RSAPublicKeyPEM = string(pemBytes)
			}
			if err := oauthbasic.NewOAuthProvider_SQL(db, config.Authenticator.RealmName, logger).RegisterConsumer(ctx, c); err != nil {
				return err
			}
			fmt.Printf("Consumer key:    %v\nConsumer secret: %v\n", c.Key, c.Secret)
			return nil
		})
	case "issue-token":
		err = withDB(config, func(db *sql.DB) error {
			t, err := oauthbasic.NewOAuthProvider_SQL(db, config.Authenticator.RealmName, logger).IssueAccessToken(ctx, *consumer, splitList(*permissions), *ttl)
			if err != nil {
				return err
			}
			fmt.Printf("Token:        %v\nToken secret: %v\n", t.Token, t.Secret)
			if !t.Expires.IsZero() {
				fmt.Printf("Expires:      %v\n", t.Expires.Format(time.RFC3339))
			}
			return nil
		})
	case "revoke-token":
		err = withDB(config, func(db *sql.DB) error {
			return oauthbasic.NewOAuthProvider_SQL(db, config.Authenticator.RealmName, logger).RevokeAccessToken(ctx, *consumer, *token)
		})
	case "purge-tokens":
		err = withDB(config, func(db *sql.DB) error {
			n, err := oauthbasic.NewOAuthProvider_SQL(db, config.Authenticator.RealmName, logger).PurgeExpiredTokens(ctx)
			if err == nil {
				fmt.Printf("Deleted %v expired tokens\n", n)
			}
			return err
		})
	case "set-role":
		err = withDB(config, func(db *sql.DB) error {
			permDB, err := oauthbasic.NewPermissionDB_SQL(db)
			if err != nil {
				return err
			}
			return permDB.SetPermissionRole(ctx, *permission, *role)
		})
	case "add-user":
		err = withDB(config, func(db *sql.DB) error {
			realm, err := oauthbasic.NewUserRealm_SQL(db, config.BasicRealm.DefaultRoles)
			if err != nil {
				return err
			}
			return realm.(oauthbasic.UserRealmAdmin).CreateUser(ctx, *user, *password, splitList(*roles))
		})
	default:
		fmt.Print(usage)
		os.Exit(1)
	}

	if err != nil {
		fmt.Printf("%v: %v\n", cmd, err)
		os.Exit(1)
	}
}

func withDB(config *oauthbasic.Config, f func(db *sql.DB) error) error {
	db, err := config.DB.Connect()
	if err != nil {
		return err
	}
	defer db.Close()
	return f(db)
}

func splitList(s string) []string {
	list := []string{}
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			list = append(list, v)
		}
	}
	return list
}
