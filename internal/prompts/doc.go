// Package prompts contains the LLM prompt templates used by CarePilot.
//
// Prompt text is Go code rather than config files because it is program logic:
// templates use fmt.Sprintf interpolation, are compiled into the binary, and
// can be validated by tests. User-facing configuration lives in config.yaml;
// this package holds the instructions we send to models for the agents and
// the background generators.
//
// Convention: each prompt category gets its own file (agent.go, daily.go,
// dashboard.go, summary.go) with an exported function that accepts the
// dynamic parts and returns the fully interpolated prompt string.
package prompts
