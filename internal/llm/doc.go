// Package llm abstracts the chat-completion backend used by the planner and
// the executor. A Client receives role-tagged messages plus optional function
// definitions and answers with either text or a single structured tool call.
// The openai sub-package talks to the OpenAI API; the offline sub-package is a
// deterministic stand-in used when no API key is configured.
package llm
