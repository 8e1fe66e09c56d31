package build

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Severity is one of the four levels a compiler diagnostic may carry.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityNote    Severity = "note"
	SeverityHelp    Severity = "help"
)

// Category classifies which build phase produced a diagnostic.
type Category string

const (
	CategoryCompile    Category = "compile"
	CategoryLink       Category = "link"
	CategoryAsm        Category = "asm"
	CategoryPreprocess Category = "preprocess"
	CategoryOther      Category = "other"
)

// EnhancedDiagnostic is one parsed compiler message, addressable across
// events by its diagnostic_id.
type EnhancedDiagnostic struct {
	DiagnosticID string   `json:"diagnostic_id"`
	Severity     Severity `json:"severity"`
	Category     Category `json:"category"`
	File         string   `json:"file"` // project-relative
	FileAbsolute string   `json:"file_absolute"`
	IsExternal   bool     `json:"is_external"`
	Line         int      `json:"line"`
	Column       *int     `json:"column,omitempty"`
	EndLine      *int     `json:"end_line,omitempty"`
	EndColumn    *int     `json:"end_column,omitempty"`
	Message      string   `json:"message"`
	Code         string   `json:"code,omitempty"`
	Suggestion   string   `json:"suggestion,omitempty"`
	Tool         string   `json:"tool"`
	RawLine      string   `json:"raw_line"`
}

// diagnosticLineRE matches "path:line:col: severity: message [code]".
var diagnosticLineRE = regexp.MustCompile(`^(.+):(\d+):(\d+):\s*(error|warning|note|help):\s*(.+?)(?:\s*\[([^\]]+)\])?$`)

// suggestionKeywords maps substrings of a diagnostic message to a canned
// remediation hint, checked in order.
var suggestionKeywords = []struct {
	keyword    string
	suggestion string
}{
	{"undefined reference", "check that the symbol is defined and its object file is linked in"},
	{"implicit declaration", "add the missing #include or forward declaration"},
	{"unused variable", "remove the variable or mark it with __attribute__((unused))"},
	{"unused parameter", "remove the parameter or mark it with __attribute__((unused))"},
	{"incompatible pointer type", "check the pointer types match or add an explicit cast"},
	{"may be used uninitialized", "initialize the variable before this point"},
	{"redefinition of", "check for duplicate includes or conflicting declarations"},
	{"no such file or directory", "check the include path and that the header exists"},
}

// countSeverities tallies how many diagnostics are errors vs. warnings, for
// the build:completed terminal's error_count/warning_count fields.
func countSeverities(diagnostics []EnhancedDiagnostic) (errorCount, warningCount int) {
	for _, d := range diagnostics {
		switch d.Severity {
		case SeverityError:
			errorCount++
		case SeverityWarning:
			warningCount++
		}
	}
	return errorCount, warningCount
}

func suggestionFor(message string) string {
	lower := strings.ToLower(message)
	for _, sk := range suggestionKeywords {
		if strings.Contains(lower, sk.keyword) {
			return sk.suggestion
		}
	}
	return ""
}

// parseDiagnostic attempts to parse line as a compiler diagnostic produced
// while compiling source files under projectPath. It returns ok=false if
// line doesn't match the diagnostic grammar.
func parseDiagnostic(line, projectPath, tool string, category Category) (EnhancedDiagnostic, bool) {
	m := diagnosticLineRE.FindStringSubmatch(line)
	if m == nil {
		return EnhancedDiagnostic{}, false
	}

	path, lineStr, colStr, sev, message, code := m[1], m[2], m[3], m[4], m[5], m[6]

	lineNum, err := strconv.Atoi(lineStr)
	if err != nil {
		return EnhancedDiagnostic{}, false
	}
	col, err := strconv.Atoi(colStr)
	if err != nil {
		return EnhancedDiagnostic{}, false
	}

	absPath := path
	if !filepath.IsAbs(absPath) {
		absPath = filepath.Join(projectPath, path)
	}
	absPath = filepath.Clean(absPath)

	rel, err := filepath.Rel(projectPath, absPath)
	if err != nil {
		rel = absPath
	}
	isExternal := strings.HasPrefix(rel, "..")

	d := EnhancedDiagnostic{
		Severity:     Severity(sev),
		Category:     category,
		File:         rel,
		FileAbsolute: absPath,
		IsExternal:   isExternal,
		Line:         lineNum,
		Column:       &col,
		Message:      message,
		Code:         code,
		Suggestion:   suggestionFor(message),
		Tool:         tool,
		RawLine:      line,
	}
	d.DiagnosticID = diagnosticID(rel, lineNum, message)

	return d, true
}

// diagnosticID is a stable short hash of (relative file, line, message),
// making diagnostics addressable across events even as other lines shift.
func diagnosticID(relFile string, line int, message string) string {
	key := fmt.Sprintf("%s:%d:%s", relFile, line, message)
	return fmt.Sprintf("%08x", uint32(xxhash.Sum64String(key)))
}
