// Package core provides the import and reconciliation logic for Hyperplanning Sync.
//
// This package has no transport or storage dependencies. It talks to the LMS
// catalog, the import log and the work queue through the interfaces in
// ports.go, so the web server, the CLI and tests all drive the same code.
//
// # Flow
//
//	CSV -> Import -> rows (INITED / SKIPPED / PENDING)
//	    -> RunImport -> Reconcile -> DONE
//
//	user created  -> OnUserCreated -> PromotePendingUser (PENDING -> INITED -> DONE)
//	user enrolled -> OnUserEnrolled -> deferred group joins flushed
//
// # Import
//
// [Service.Import] parses the whole file before writing anything. Structural
// problems are returned as [*ImportError]; everything else about a row is
// recorded on the row itself as a status and an append-only history.
//
// # Group names
//
// Hyperplanning group labels are cleaned and optionally rewritten by a
// PCRE-style pattern before they are matched against course groups. See
// [Normalize].
//
// # Deferred work
//
// Deferred reconciliation is expressed as typed commands ([ReconcileRowCommand],
// [PromotePendingUserCommand]). Workers decode them and call [Service.Execute].
//
// # Error Handling
//
// Technical errors are mapped to user-friendly messages using [MapError].
// Each error category has a unique code for support reference:
//
//   - IMP001-IMP006: Import structure errors (CSV, header, pattern)
//   - FILE001-FILE003: File errors (size, encoding, missing)
//   - SYNC001-SYNC004: Sync errors (busy, not found, settings)
//   - DB001-DB005: Database errors
package core
