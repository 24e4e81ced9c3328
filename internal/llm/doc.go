// Package llm implements the delegate protocol: building batch prompts for
// an external language model, dispatching them through a provider client,
// and parsing the replies back into per-transaction results.
//
// The engine never implements the model itself. Every transaction submitted
// in an envelope receives a reply slot; slots the delegate omits fall back
// to documented defaults so a partial reply degrades individual items
// instead of failing the batch.
package llm
