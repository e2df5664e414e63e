// Package identity verifies the HS256 bearer tokens that guard the project
// ledger endpoints. Tokens come from an external account service; Issue
// exists for tests and local tooling.
package identity
