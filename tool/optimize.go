package tool

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// OptimizationsName is the registry name of the optimization generator
const OptimizationsName = "generate_optimizations"

// Optimization is one recommendation with its expected impact
type Optimization struct {
	Category       string `json:"category"`
	Priority       string `json:"priority"`
	Recommendation string `json:"recommendation"`
	Impact         string `json:"impact"`
}

// OptimizationReport is the generator's JSON output
type OptimizationReport struct {
	TotalOptimizations int            `json:"total_optimizations"`
	Optimizations      []Optimization `json:"optimizations"`
	Timestamp          string         `json:"timestamp"`
}

// Optimizations generates improvement recommendations, folding in the
// quality analyzer's metrics when that tool already ran in this workflow
type Optimizations struct{}

// NewOptimizations creates the optimization generator tool
func NewOptimizations() *Optimizations {
	return &Optimizations{}
}

func (t *Optimizations) Name() string { return OptimizationsName }

func (t *Optimizations) Description() string {
	return "Generate optimization recommendations for a PowerShell script " +
		"covering performance, maintainability, reliability and documentation."
}

func (t *Optimizations) Execute(ctx context.Context, script string, tctx map[string]any) (string, error) {
	scriptLower := strings.ToLower(script)
	optimizations := []Optimization{}

	if strings.Contains(scriptLower, "foreach") && strings.Contains(scriptLower, "%") {
		optimizations = append(optimizations, Optimization{
			Category:       "Performance",
			Priority:       "Medium",
			Recommendation: "Consider using .ForEach() method instead of ForEach-Object for better performance",
			Impact:         "Can improve loop performance by 2-3x",
		})
	}

	if strings.Contains(scriptLower, "where-object") || strings.Contains(scriptLower, "?") {
		optimizations = append(optimizations, Optimization{
			Category:       "Performance",
			Priority:       "Medium",
			Recommendation: "Consider using .Where() method instead of Where-Object",
			Impact:         "Faster filtering for large datasets",
		})
	}

	codeLines, commentRatio := qualityNumbers(tctx)
	if codeLines > 200 {
		optimizations = append(optimizations, Optimization{
			Category:       "Maintainability",
			Priority:       "High",
			Recommendation: "Break script into smaller, reusable functions",
			Impact:         "Improves readability and maintainability",
		})
	}

	if !strings.Contains(scriptLower, "try") {
		optimizations = append(optimizations, Optimization{
			Category:       "Reliability",
			Priority:       "High",
			Recommendation: "Add try/catch blocks for error handling",
			Impact:         "Prevents script failures and improves debugging",
		})
	}

	if commentRatio < 0.1 {
		optimizations = append(optimizations, Optimization{
			Category:       "Documentation",
			Priority:       "Medium",
			Recommendation: "Add comment-based help and inline comments",
			Impact:         "Improves code understanding and maintenance",
		})
	}

	report := OptimizationReport{
		TotalOptimizations: len(optimizations),
		Optimizations:      optimizations,
		Timestamp:          time.Now().UTC().Format(time.RFC3339),
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// qualityNumbers pulls code_lines and comment_ratio from a prior
// quality_analysis result, if one is present in the call context
func qualityNumbers(tctx map[string]any) (codeLines int, commentRatio float64) {
	results, _ := tctx["results"].(map[string]any)
	quality, _ := results[QualityAnalysisName].(map[string]any)
	metrics, _ := quality["metrics"].(map[string]any)

	if v, ok := metrics["code_lines"].(float64); ok {
		codeLines = int(v)
	}
	if v, ok := metrics["comment_ratio"].(float64); ok {
		commentRatio = v
	}
	return codeLines, commentRatio
}
