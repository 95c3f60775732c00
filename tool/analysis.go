package tool

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"time"
)

// ScriptAnalysisName is the registry name of the structural analyzer
const ScriptAnalysisName = "script_analysis"

var (
	functionRe = regexp.MustCompile(`(?im)^\s*function\s+([A-Za-z][\w-]*)`)
	synopsisRe = regexp.MustCompile(`(?is)\.SYNOPSIS\s*\n\s*([^\n]+)`)
	paramRe    = regexp.MustCompile(`(?m)\[(?:[\w\[\]\.]+)\]\s*\$(\w+)`)
)

// ScriptAnalysisReport is the structural analyzer's JSON output
type ScriptAnalysisReport struct {
	Purpose    string            `json:"purpose"`
	Complexity string            `json:"complexity"`
	Parameters map[string]string `json:"parameters"`
	Functions  []string          `json:"functions"`
	LineCount  int               `json:"line_count"`
	Timestamp  string            `json:"timestamp"`
}

// ScriptAnalysis extracts a script's purpose, parameters, functions and
// basic size metrics
type ScriptAnalysis struct{}

// NewScriptAnalysis creates the structural analyzer tool
func NewScriptAnalysis() *ScriptAnalysis {
	return &ScriptAnalysis{}
}

func (t *ScriptAnalysis) Name() string { return ScriptAnalysisName }

func (t *ScriptAnalysis) Description() string {
	return "Analyze a PowerShell script for its purpose, functionality and " +
		"basic metrics: declared functions, parameters, line count and complexity."
}

func (t *ScriptAnalysis) Execute(ctx context.Context, script string, tctx map[string]any) (string, error) {
	lines := strings.Split(script, "\n")

	var functions []string
	for _, m := range functionRe.FindAllStringSubmatch(script, -1) {
		functions = append(functions, m[1])
	}

	parameters := map[string]string{}
	if block := paramBlock(script); block != "" {
		for _, m := range paramRe.FindAllStringSubmatch(block, -1) {
			parameters[m[1]] = "declared"
		}
	}

	report := ScriptAnalysisReport{
		Purpose:    inferPurpose(script),
		Complexity: complexityOf(len(lines), len(functions)),
		Parameters: parameters,
		Functions:  functions,
		LineCount:  len(lines),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// paramBlock returns the contents of the first top-level param(...) block
func paramBlock(script string) string {
	lower := strings.ToLower(script)
	start := strings.Index(lower, "param(")
	if start < 0 {
		return ""
	}

	depth := 0
	for i := start + len("param"); i < len(script); i++ {
		switch script[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return script[start:i]
			}
		}
	}
	return script[start:]
}

// inferPurpose prefers comment-based help, then the first comment line
func inferPurpose(script string) string {
	if m := synopsisRe.FindStringSubmatch(script); m != nil {
		return strings.TrimSpace(m[1])
	}

	for _, line := range strings.Split(script, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") && !strings.HasPrefix(trimmed, "#>") {
			if purpose := strings.TrimSpace(strings.TrimLeft(trimmed, "# ")); purpose != "" {
				return purpose
			}
		}
	}
	return "Unknown"
}

func complexityOf(lineCount, functionCount int) string {
	switch {
	case lineCount > 300 || functionCount > 10:
		return "High"
	case lineCount > 50 || functionCount > 2:
		return "Medium"
	default:
		return "Low"
	}
}
