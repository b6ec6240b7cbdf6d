// Package orchestrator handles one chat turn end to end.
//
// HandleTurn sequences the search decision, quota and result cache, the
// optional web search or page fetch, history compression, the upstream LLM
// call and the bookkeeping that follows it (cost ledger, decision outcome,
// daily statistics and turn events).
//
// Only two failures reach the caller: a conversation that cannot be loaded
// and an upstream LLM call that fails. Everything that merely affects cost
// optimization is logged at warn level and the turn continues without it.
package orchestrator
