// Package compression bounds the token volume of long conversations.
//
// Everything except the most recent exchanges is condensed into a
// structured summary by a cheap model. Summaries are append-only: a newer
// summary covers more messages and supersedes older ones, and a summary is
// only produced when the not-yet-summarized part of the history crosses a
// round or token threshold.
//
// BuildPrompt layers the final request: system prompt, summary, the
// verbatim recent history and the current message. The system and summary
// blocks are marked cache-eligible only above their own size minimums.
package compression
