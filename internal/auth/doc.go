// Package auth issues and checks the bearer tokens that guard the mutating
// routes of the diagnostics API.
//
// There are no user accounts on the module. Tokens are HS256 JWTs signed
// with the configured secret and minted offline (pdmsim token). Each token
// carries one role:
//
//	viewer    read-only; the same as no token on an open API
//	operator  set channels, clear latched outputs and bridges
//	admin     operator plus layout apply and safe-state reset
//
// The role to permission map is static; see HasPermission.
package auth
