// Package tool provides the analyzers a workflow's reasoning model can
// invoke, plus the registry and invoker that run them.
//
// A Tool receives the script under analysis and a call context carrying the
// model-supplied input and the results of tools that already ran, and
// returns a JSON string. Built-in tools: script_analysis, security_scan,
// quality_analysis, generate_optimizations and cmdlet_docs.
//
// The Invoker fans a batch of tool calls out over a bounded worker set with
// a per-call timeout. A panicking or failing tool surfaces as an error in
// its own Result and never aborts sibling calls.
package tool
