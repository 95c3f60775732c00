package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// QualityAnalysisName is the registry name of the quality analyzer
const QualityAnalysisName = "quality_analysis"

// QualityMetrics are the raw line counts behind the quality score
type QualityMetrics struct {
	TotalLines   int     `json:"total_lines"`
	CommentLines int     `json:"comment_lines"`
	EmptyLines   int     `json:"empty_lines"`
	CodeLines    int     `json:"code_lines"`
	CommentRatio float64 `json:"comment_ratio"`
}

// QualityReport is the quality analyzer's JSON output
type QualityReport struct {
	QualityScore    float64        `json:"quality_score"`
	Metrics         QualityMetrics `json:"metrics"`
	Issues          []string       `json:"issues"`
	Recommendations []string       `json:"recommendations"`
	Timestamp       string         `json:"timestamp"`
}

// QualityAnalysis scores a script 0-10 against PowerShell best practices
type QualityAnalysis struct{}

// NewQualityAnalysis creates the quality analyzer tool
func NewQualityAnalysis() *QualityAnalysis {
	return &QualityAnalysis{}
}

func (t *QualityAnalysis) Name() string { return QualityAnalysisName }

func (t *QualityAnalysis) Description() string {
	return "Analyze PowerShell code quality: coding standards, documentation, " +
		"function organization, error handling. Returns a 0-10 score with " +
		"issues and recommendations."
}

func (t *QualityAnalysis) Execute(ctx context.Context, script string, tctx map[string]any) (string, error) {
	scriptLower := strings.ToLower(script)
	lines := strings.Split(script, "\n")

	metrics := QualityMetrics{TotalLines: len(lines)}
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			metrics.EmptyLines++
		case strings.HasPrefix(trimmed, "#"):
			metrics.CommentLines++
		}
	}
	metrics.CodeLines = metrics.TotalLines - metrics.CommentLines - metrics.EmptyLines
	metrics.CommentRatio = float64(metrics.CommentLines) / math.Max(float64(metrics.CodeLines), 1)

	score := 5.0
	issues := []string{}
	recommendations := []string{}

	if strings.Contains(scriptLower, "[cmdletbinding()]") {
		score += 1.0
	} else {
		recommendations = append(recommendations, "Add [CmdletBinding()] for advanced function features")
	}

	if strings.Contains(scriptLower, "param(") {
		score += 0.5
	} else {
		recommendations = append(recommendations, "Define parameters using param() block")
	}

	if metrics.CommentRatio > 0.1 {
		score += 0.5
	} else {
		recommendations = append(recommendations, "Add more comments to improve code documentation")
	}

	if strings.Contains(scriptLower, "try") && strings.Contains(scriptLower, "catch") {
		score += 1.0
	} else {
		recommendations = append(recommendations, "Implement try/catch error handling")
	}

	if metrics.CodeLines > 500 {
		score -= 0.5
		issues = append(issues, "Script is very long - consider breaking into modules")
	}

	longLines := 0
	for _, line := range lines {
		if len(line) > 120 {
			longLines++
		}
	}
	if longLines > 5 {
		score -= 0.5
		issues = append(issues, fmt.Sprintf("%d lines exceed 120 characters", longLines))
	}

	score = math.Max(0.0, math.Min(10.0, score))

	report := QualityReport{
		QualityScore:    math.Round(score*10) / 10,
		Metrics:         metrics,
		Issues:          issues,
		Recommendations: recommendations,
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
