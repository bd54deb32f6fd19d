// Package tool holds the tool registry shared by the planner and executor.
//
// A Tool pairs a name and description with a parameter schema, a cost
// category and an invoke function. The registry is populated during startup,
// frozen, and then read concurrently. Arguments coming from a language model
// are parsed as strict JSON and validated against the schema before a tool
// is invoked; model output is never evaluated.
package tool
