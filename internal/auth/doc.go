// Package auth issues and verifies the bearer tokens that guard the
// gateway's diagnostics API.
//
// Tokens are HS256 JWTs signed with security.jwt_secret. There are no user
// accounts on the gateway: an operator mints a token with
// "wtmgateway token" and hands it to whoever needs API access. The token's
// role decides what it may do:
//
//	viewer    read the audit trail
//	operator  viewer, plus change local state and invoke RPC methods
package auth
