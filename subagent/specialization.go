package subagent

import "strings"

// Specialization names a sub-agent role defining its allowed tools and persona.
type Specialization string

// Built-in specializations.
const (
	SpecializationCode       Specialization = "code"
	SpecializationTest       Specialization = "test"
	SpecializationDebug      Specialization = "debug"
	SpecializationDocs       Specialization = "docs"
	SpecializationSearch     Specialization = "search"
	SpecializationValidation Specialization = "validation"
	SpecializationGeneral    Specialization = "general"
)

// SpecializationConfig is the static profile of one specialization. Overrides
// from configuration merge over the defaults per field.
type SpecializationConfig struct {
	Specialization       Specialization
	AllowedTools         []string
	Model                string
	SystemPromptAddition string
	MaxConcurrentTasks   int
}

// DefaultSpecializations returns the built-in specialization profiles.
func DefaultSpecializations() map[Specialization]SpecializationConfig {
	return map[Specialization]SpecializationConfig{
		SpecializationCode: {
			Specialization:       SpecializationCode,
			AllowedTools:         []string{"read", "write", "glob", "ripgrep", "ls", "bash"},
			SystemPromptAddition: "You are a code implementation specialist. Write clean, tested, idiomatic code that matches the surrounding style.",
			MaxConcurrentTasks:   2,
		},
		SpecializationTest: {
			Specialization:       SpecializationTest,
			AllowedTools:         []string{"read", "write", "glob", "ripgrep", "ls", "bash"},
			SystemPromptAddition: "You are a testing specialist. Write focused tests, run them, and report failures precisely.",
			MaxConcurrentTasks:   2,
		},
		SpecializationDebug: {
			Specialization:       SpecializationDebug,
			AllowedTools:         []string{"read", "glob", "ripgrep", "ls", "bash"},
			SystemPromptAddition: "You are a debugging specialist. Reproduce the failure, narrow it down methodically, and explain the root cause.",
			MaxConcurrentTasks:   2,
		},
		SpecializationDocs: {
			Specialization:       SpecializationDocs,
			AllowedTools:         []string{"read", "write", "glob", "ls"},
			SystemPromptAddition: "You are a documentation specialist. Write concise, accurate documentation grounded in the actual code.",
			MaxConcurrentTasks:   2,
		},
		SpecializationSearch: {
			Specialization:       SpecializationSearch,
			AllowedTools:         []string{"read", "glob", "ripgrep", "ls"},
			SystemPromptAddition: "You are a codebase search specialist. Locate relevant files and symbols and summarize what you find.",
			MaxConcurrentTasks:   3,
		},
		SpecializationValidation: {
			Specialization:       SpecializationValidation,
			AllowedTools:         []string{"read", "glob", "ripgrep", "ls", "bash"},
			SystemPromptAddition: "You are a validation specialist. Verify changes against requirements and report discrepancies.",
			MaxConcurrentTasks:   2,
		},
		SpecializationGeneral: {
			Specialization:       SpecializationGeneral,
			AllowedTools:         []string{"read", "write", "glob", "ripgrep", "ls", "bash"},
			SystemPromptAddition: "You are a general-purpose assistant handling tasks that fit no narrower specialization.",
			MaxConcurrentTasks:   3,
		},
	}
}

// taskKeywords maps free-text cues to specializations. Order matters: the
// first category with a hit wins.
var taskKeywords = []struct {
	spec     Specialization
	keywords []string
}{
	{SpecializationDebug, []string{"debug", "bug", "fix", "error", "crash", "stack trace", "broken", "failing"}},
	{SpecializationDocs, []string{"document", "documentation", "readme", "changelog", "docstring", "comment"}},
	{SpecializationSearch, []string{"find", "search", "locate", "where is", "look for", "grep"}},
	{SpecializationValidation, []string{"validate", "verify", "check", "lint", "review", "audit"}},
	{SpecializationTest, []string{"test", "coverage", "assert", "spec"}},
	{SpecializationCode, []string{"implement", "write", "create", "refactor", "add", "build", "code"}},
}

// AnalyzeTask classifies a free-text task description into a specialization.
// Unmatched descriptions map to general.
func AnalyzeTask(text string) Specialization {
	lowered := strings.ToLower(text)
	for _, entry := range taskKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(lowered, kw) {
				return entry.spec
			}
		}
	}
	return SpecializationGeneral
}
