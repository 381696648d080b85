package classify

import "regexp"

// CategoryUnknown is returned when no rule matches. Classification is total:
// every input line gets a category.
const CategoryUnknown = "UNKNOWN_ERROR"

// rule pairs one compiled signature with its taxonomy category.
type rule struct {
	pattern  *regexp.Regexp
	category string
}

// rules is the ordered taxonomy. Order is a contract: when a line matches
// several signatures, the earliest rule wins. Keep new signatures below the
// more specific ones they could shadow.
var rules = []rule{
	{re(`ModuleNotFoundError`), "IMPORT_ERROR"},
	{re(`ImportError`), "IMPORT_ERROR"},
	{re(`ConnectionError`), "CONNECTION_ERROR"},
	{re(`TimeoutError`), "TIMEOUT_ERROR"},
	{re(`FileNotFoundError`), "FILE_ERROR"},
	{re(`PermissionError`), "PERMISSION_ERROR"},
	{re(`KeyError`), "DATA_ERROR"},
	{re(`ValueError`), "DATA_ERROR"},
	{re(`TypeError`), "TYPE_ERROR"},
	{re(`AttributeError`), "ATTRIBUTE_ERROR"},
	{re(`SyntaxError`), "SYNTAX_ERROR"},
	{re(`IndentationError`), "SYNTAX_ERROR"},
	{re(`NameError`), "NAME_ERROR"},
	{re(`UnboundLocalError`), "NAME_ERROR"},
	{re(`IndexError`), "INDEX_ERROR"},
	{re(`ZeroDivisionError`), "MATH_ERROR"},
	{re(`MemoryError`), "RESOURCE_ERROR"},
	{re(`DiskSpaceError`), "RESOURCE_ERROR"},
	{re(`DatabaseError`), "DATABASE_ERROR"},
	{re(`SQLAlchemy`), "DATABASE_ERROR"},
	{re(`psycopg2`), "DATABASE_ERROR"},
	{re(`Task failed`), "TASK_FAILURE"},
	{re(`Dag.*failed`), "DAG_FAILURE"},
	{re(`Broken DAG`), "DAG_BROKEN"},
	{re(`Missing.*dependency`), "DEPENDENCY_ERROR"},
}

func re(expr string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)` + expr)
}

// Classify maps a raw error line to its taxonomy category. The first matching
// rule in order wins; lines matching nothing get CategoryUnknown. Classify
// never fails.
func Classify(errorLine string) string {
	for _, r := range rules {
		if r.pattern.MatchString(errorLine) {
			return r.category
		}
	}
	return CategoryUnknown
}

// RawError is one classified error occurrence awaiting deeper analysis.
// It is consumed once and discarded after the run's output is written.
type RawError struct {
	EntityID     string
	SubTaskID    string
	ErrorLine    string
	ContextLines []string
	Category     string
}

// New assembles a RawError, classifying the line on the way in.
func New(entityID, subTaskID, errorLine string, contextLines []string) RawError {
	return RawError{
		EntityID:     entityID,
		SubTaskID:    subTaskID,
		ErrorLine:    errorLine,
		ContextLines: contextLines,
		Category:     Classify(errorLine),
	}
}
