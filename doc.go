/*
Package oauthbasic is an HTTP request authenticator that accepts either HTTP Basic
credentials or OAuth 1.0 signed requests.

oauthbasic brings together the following pluggable components:

	OAuth Provider		Knows the registered consumers and the access tokens that were issued to them.
	Permission Database	Maps an OAuth permission (carried by an access token) to a role.
	User Realm		Answers "Is this username/password valid?" for Basic requests, and which roles the user has.
	Nonce Store		Remembers which nonces have already been used.

Any of these components can be swapped out. A typical setup uses Postgres for all of them,
or LDAP as the User Realm.

# Concepts

A Principal is the result of a successful authentication. For OAuth it carries the consumer key
as its name, and for Basic it carries the username. The roles of an OAuth principal are decided
per request: the default consumer role, the consumer's own roles, and the roles of every permission
attached to the access token. Nothing about a principal is kept after the request is handled.

The Authenticator is wired into an HTTP server with Authenticator.Middleware. Requests that carry an
Authorization header of any scheme other than "OAuth" are delegated to the User Realm. All other
requests go through OAuth validation.
*/
package oauthbasic
