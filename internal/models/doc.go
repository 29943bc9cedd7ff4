// Package models defines the core domain records of the chama ledger.
//
// # Records
//
//   - Group: a rotating-savings group with a fixed contribution amount
//   - Membership: one user's seat in a group, carrying the rotation position
//   - Contribution: a member's claimed payment into the current round
//   - Payout: the transfer of a completed round's pool to one member
//   - LedgerRecord: append-only audit entry for every confirmed movement of funds
//   - Job: a unit of asynchronous work consumed by the worker pool
//
// # Design Principles
//
// 1. **Money is fixed-point**: amounts are decimal.Decimal, never float64
// 2. **IDs over pointers**: relationships are expressed with ID strings
// 3. **State is persisted**: every decision is recomputed from stored records,
// never from in-memory counters
package models
