package classify

import "testing"

func TestClassify_Signatures(t *testing.T) {
	tests := []struct {
		name string
		line string
		want string
	}{
		{"module not found", "ModuleNotFoundError: No module named 'pandas'", "IMPORT_ERROR"},
		{"import error", "ImportError: cannot import name 'DAG'", "IMPORT_ERROR"},
		{"connection", "requests.exceptions.ConnectionError: HTTPSConnectionPool", "CONNECTION_ERROR"},
		{"timeout", "TimeoutError: [Errno 110] Connection timed out", "TIMEOUT_ERROR"},
		{"file missing", "FileNotFoundError: [Errno 2] No such file", "FILE_ERROR"},
		{"permission denied", "PermissionError: [Errno 13] Permission denied: '/data'", "PERMISSION_ERROR"},
		{"key error", "KeyError: 'execution_date'", "DATA_ERROR"},
		{"value error", "ValueError: could not convert string to float", "DATA_ERROR"},
		{"type error", "TypeError: unsupported operand type(s)", "TYPE_ERROR"},
		{"attribute error", "AttributeError: 'NoneType' object has no attribute 'get'", "ATTRIBUTE_ERROR"},
		{"syntax", "SyntaxError: invalid syntax", "SYNTAX_ERROR"},
		{"indentation", "IndentationError: unexpected indent", "SYNTAX_ERROR"},
		{"name error", "NameError: name 'context' is not defined", "NAME_ERROR"},
		{"unbound local", "UnboundLocalError: local variable referenced before assignment", "NAME_ERROR"},
		{"index", "IndexError: list index out of range", "INDEX_ERROR"},
		{"zero division", "ZeroDivisionError: division by zero", "MATH_ERROR"},
		{"memory", "MemoryError", "RESOURCE_ERROR"},
		{"database", "sqlalchemy.exc.DatabaseError: (psycopg2.OperationalError)", "DATABASE_ERROR"},
		{"task failed", "ERROR - Task failed with exception", "TASK_FAILURE"},
		{"dag failed", "Dag run etl_daily failed", "DAG_FAILURE"},
		{"broken dag", "Broken DAG: [/opt/dags/etl.py]", "DAG_BROKEN"},
		{"missing dependency", "Missing transitive dependency for provider", "DEPENDENCY_ERROR"},
		{"case insensitive", "MODULENOTFOUNDERROR: no module", "IMPORT_ERROR"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.line); got != tc.want {
				t.Errorf("Classify(%q) = %q, want %q", tc.line, got, tc.want)
			}
		})
	}
}

func TestClassify_Total(t *testing.T) {
	inputs := []string{
		"",
		"completely unrelated text",
		"ERROR - something nobody has a signature for",
		"\x00\xff binary garbage",
	}
	for _, in := range inputs {
		if got := Classify(in); got != CategoryUnknown {
			t.Errorf("Classify(%q) = %q, want %q", in, got, CategoryUnknown)
		}
	}
}

func TestClassify_Precedence(t *testing.T) {
	// A line matching both the SQLAlchemy and psycopg2 signatures must be
	// classified by the earlier rule. Both map to DATABASE_ERROR, so use a
	// pair with distinct categories: KeyError (DATA_ERROR) appears before
	// TypeError (TYPE_ERROR) in the rule list.
	line := "TypeError raised while handling KeyError: 'run_id'"
	if got := Classify(line); got != "DATA_ERROR" {
		t.Errorf("Classify(%q) = %q, want DATA_ERROR (KeyError rule is earlier)", line, got)
	}

	// ModuleNotFoundError lines also contain the word pattern for ImportError
	// in many tracebacks; the first rule must win.
	line = "ModuleNotFoundError: ImportError while importing plugin"
	if got := Classify(line); got != "IMPORT_ERROR" {
		t.Errorf("Classify(%q) = %q, want IMPORT_ERROR", line, got)
	}
}

func TestNew_ClassifiesLine(t *testing.T) {
	raw := New("etl_daily", "load", "PermissionError: denied", []string{"a", "b"})
	if raw.Category != "PERMISSION_ERROR" {
		t.Errorf("Category = %q, want PERMISSION_ERROR", raw.Category)
	}
	if raw.EntityID != "etl_daily" || raw.SubTaskID != "load" {
		t.Errorf("attribution lost: %+v", raw)
	}
	if len(raw.ContextLines) != 2 {
		t.Errorf("ContextLines = %v, want 2 lines", raw.ContextLines)
	}
}
