// Package flowtoken signs and verifies the short-lived JWT stored in the
// recovery_flow cookie. The token only names a server-side flow session;
// continuation tokens and contact values never leave Redis through it.
package flowtoken
