// Package auth provides pluggable authentication for the wandler gateway.
//
// Authentication uses a chain-of-responsibility pattern with three-outcome
// voting: each authenticator returns Yes (identity found), No (credentials
// invalid), or Abstain (can't handle). A configurable default voter decides
// when all authenticators abstain.
//
// Auth is implemented as HTTP middleware, keeping it decoupled from the
// translation engine. Rejections use the same JSON error envelope the
// proxy's endpoints speak, so clients see one error shape everywhere.
package auth
