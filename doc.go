// Package access centralizes account approval and capability checks for the
// storefront: who may browse, buy, see wholesale pricing, or manage other
// accounts.
//
// Approval lifecycle:
//   - Accounts carry an ApprovalState field that is persisted via Bun. Retail
//     and staff accounts are approved on creation; wholesale signups start
//     pending and must be approved by an admin before any purchase flow opens
//     up.
//   - ApprovalStateMachine centralizes the transition graph (approve, reject,
//     reconsider, revoke), reason requirements, and persistence. Decisions are
//     applied atomically with their audit entry and guarded by an optimistic
//     version check, so two admins acting on the same snapshot cannot both
//     win.
//
// Capability checks:
//   - CanAccess is a pure predicate over an account snapshot. Callers fetch a
//     fresh Account and ask for a Capability; denial reasons come from
//     DenialFor and map onto a small fixed enum so UI copy stays consistent.
//
// Activity sinks:
//   - ActivitySink is a light-weight audit emitter used by the state machine,
//     the registration handler, and the AccessControl service to describe
//     lifecycle and login events. Sinks run best-effort (errors are logged)
//     so you can forward to a database or queue without blocking requests.
package access
