package tool

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// SecurityScanName is the registry name of the security scanner
const SecurityScanName = "security_scan"

// Risk levels reported by the security scanner
const (
	RiskLow      = "LOW"
	RiskMedium   = "MEDIUM"
	RiskHigh     = "HIGH"
	RiskCritical = "CRITICAL"
)

type dangerousPattern struct {
	pattern     string
	category    string
	severity    int
	description string
}

// Ordered so findings come out deterministically.
var dangerousPatterns = []dangerousPattern{
	{"invoke-expression", "Code Injection Risk", 10, "Avoid using Invoke-Expression with untrusted input"},
	{"iex ", "Code Injection Risk", 10, "IEX is alias for Invoke-Expression - potential code injection"},
	{"downloadstring", "Remote Code Execution", 9, "Downloads and executes remote code"},
	{"downloadfile", "Untrusted Download", 7, "Downloads files from internet"},
	{"bypass", "Security Control Bypass", 8, "Attempts to bypass execution policy"},
	{"-encodedcommand", "Obfuscation", 8, "Uses encoded commands - possible obfuscation"},
	{"hidden", "Stealth Execution", 7, "Uses hidden window - stealth behavior"},
	{"invoke-webrequest", "Network Activity", 5, "Makes web requests"},
	{"start-process", "Process Creation", 6, "Spawns new processes"},
	{"add-type", "Code Compilation", 6, "Compiles and loads C# code"},
}

// SecurityFinding is one matched dangerous pattern
type SecurityFinding struct {
	Category    string `json:"category"`
	Severity    int    `json:"severity"`
	Pattern     string `json:"pattern"`
	Description string `json:"description"`
}

// SecurityReport is the scanner's JSON output
type SecurityReport struct {
	RiskLevel     string            `json:"risk_level"`
	RiskScore     int               `json:"risk_score"`
	Findings      []SecurityFinding `json:"findings"`
	FindingsCount int               `json:"findings_count"`
	BestPractices []string          `json:"best_practices"`
	Timestamp     string            `json:"timestamp"`
}

// SecurityScan flags dangerous patterns in a script and scores the overall
// risk as LOW, MEDIUM, HIGH or CRITICAL
type SecurityScan struct{}

// NewSecurityScan creates the security scanner tool
func NewSecurityScan() *SecurityScan {
	return &SecurityScan{}
}

func (t *SecurityScan) Name() string { return SecurityScanName }

func (t *SecurityScan) Description() string {
	return "Perform security analysis on a PowerShell script: code injection, " +
		"dangerous cmdlets, execution policy bypasses, network operations and " +
		"file system access patterns. Returns findings and a risk score."
}

func (t *SecurityScan) Execute(ctx context.Context, script string, tctx map[string]any) (string, error) {
	scriptLower := strings.ToLower(script)

	findings := []SecurityFinding{}
	riskScore := 0
	for _, p := range dangerousPatterns {
		if strings.Contains(scriptLower, p.pattern) {
			findings = append(findings, SecurityFinding{
				Category:    p.category,
				Severity:    p.severity,
				Pattern:     p.pattern,
				Description: p.description,
			})
			riskScore += p.severity
		}
	}

	bestPractices := []string{}
	if strings.Contains(scriptLower, "try") && strings.Contains(scriptLower, "catch") {
		bestPractices = append(bestPractices, "Implements error handling")
	}
	if strings.Contains(scriptLower, "[cmdletbinding()]") {
		bestPractices = append(bestPractices, "Uses advanced function features")
	}
	if strings.Contains(scriptLower, "validateset") || strings.Contains(scriptLower, "validatenotnull") {
		bestPractices = append(bestPractices, "Uses parameter validation")
	}

	var riskLevel string
	switch {
	case riskScore > 30:
		riskLevel = RiskCritical
	case riskScore > 20:
		riskLevel = RiskHigh
	case riskScore > 10:
		riskLevel = RiskMedium
	default:
		riskLevel = RiskLow
	}

	report := SecurityReport{
		RiskLevel:     riskLevel,
		RiskScore:     riskScore,
		Findings:      findings,
		FindingsCount: len(findings),
		BestPractices: bestPractices,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
