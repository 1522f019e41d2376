// Package ledger owns the boundary to the on-chain msig registry.
//
// Ownership boundary:
// - typed table records (proposals, approvals) decoded at the edge
// - action and payload shapes for eosio.msig propose/approve/cancel
// - the query and submit ports the rest of the agent depends on
//
// Ledger does not decide anything; reconcile does.
//
// Transport lives in ledger/eosrpc.
package ledger
