package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// CmdletDocsName is the registry name of the documentation lookup tool
const CmdletDocsName = "cmdlet_docs"

const (
	defaultDocsBaseURL = "https://learn.microsoft.com/en-us/powershell/module"
	defaultDocsModule  = "microsoft.powershell.management"
)

// CmdletDocsReport is the documentation tool's JSON output
type CmdletDocsReport struct {
	Cmdlet    string   `json:"cmdlet"`
	Title     string   `json:"title"`
	Summary   string   `json:"summary"`
	Syntax    []string `json:"syntax"`
	URL       string   `json:"url"`
	Timestamp string   `json:"timestamp"`
}

// CmdletDocs looks up reference documentation for a PowerShell cmdlet and
// extracts the title, summary and syntax blocks from the page.
type CmdletDocs struct {
	BaseURL string
	Module  string
	Client  *http.Client
}

type CmdletDocsOption func(*CmdletDocs)

// WithDocsBaseURL sets the documentation site base URL
func WithDocsBaseURL(baseURL string) CmdletDocsOption {
	return func(t *CmdletDocs) {
		t.BaseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithDocsModule sets the default module cmdlets are looked up under
func WithDocsModule(module string) CmdletDocsOption {
	return func(t *CmdletDocs) {
		t.Module = module
	}
}

// WithDocsHTTPClient sets the HTTP client used for lookups
func WithDocsHTTPClient(client *http.Client) CmdletDocsOption {
	return func(t *CmdletDocs) {
		t.Client = client
	}
}

// NewCmdletDocs creates the documentation lookup tool
func NewCmdletDocs(opts ...CmdletDocsOption) *CmdletDocs {
	t := &CmdletDocs{
		BaseURL: defaultDocsBaseURL,
		Module:  defaultDocsModule,
		Client:  &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *CmdletDocs) Name() string { return CmdletDocsName }

func (t *CmdletDocs) Description() string {
	return "Look up official documentation for a PowerShell cmdlet. Input is " +
		"the cmdlet name, e.g. 'Get-Process', or 'module/Cmdlet-Name' to pick " +
		"the module explicitly."
}

func (t *CmdletDocs) Execute(ctx context.Context, script string, tctx map[string]any) (string, error) {
	input, _ := tctx["input"].(string)
	cmdlet, module := t.parseInput(input)
	if cmdlet == "" {
		return "", fmt.Errorf("cmdlet name required, e.g. 'Get-Process'")
	}

	pageURL := fmt.Sprintf("%s/%s/%s", t.BaseURL, module, strings.ToLower(cmdlet))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := t.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch documentation: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("documentation lookup for %s returned status %d", cmdlet, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to parse documentation page: %w", err)
	}

	report := CmdletDocsReport{
		Cmdlet:    cmdlet,
		Title:     strings.TrimSpace(doc.Find("h1").First().Text()),
		Summary:   strings.TrimSpace(doc.Find("h1").First().NextFiltered("p").Text()),
		URL:       pageURL,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if report.Summary == "" {
		report.Summary = strings.TrimSpace(doc.Find("p").First().Text())
	}
	doc.Find("pre code").Each(func(_ int, sel *goquery.Selection) {
		if syntax := strings.TrimSpace(sel.Text()); syntax != "" {
			report.Syntax = append(report.Syntax, syntax)
		}
	})

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// parseInput accepts either a JSON object with an "input" field (as sent by
// tool-calling models), a bare cmdlet name, or "module/Cmdlet-Name"
func (t *CmdletDocs) parseInput(input string) (cmdlet, module string) {
	input = strings.TrimSpace(input)

	if strings.HasPrefix(input, "{") {
		var args struct {
			Input string `json:"input"`
		}
		if err := json.Unmarshal([]byte(input), &args); err == nil {
			input = strings.TrimSpace(args.Input)
		}
	}

	module = t.Module
	if i := strings.IndexByte(input, '/'); i >= 0 {
		module = input[:i]
		input = input[i+1:]
	}
	return input, module
}
