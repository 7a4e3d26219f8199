package tenant

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// Access records one config read performed through a [Reader]. The turn
// audit record includes the full access list so that ops can see exactly
// which tenant values shaped a response and where defaults substituted for
// missing configuration.
type Access struct {
	Path        string `json:"path"`
	Value       string `json:"value,omitempty"`
	DefaultUsed bool   `json:"defaultUsed"`
}

// Reader provides traced, type-safe access to a [Company] document by
// dotted path ("frontDeskBehavior.escalation.transferMessage"). Every read
// is recorded; missing values return the caller-supplied default.
//
// A Reader is created per turn via [NewReader] and is safe for concurrent
// use, though a turn is single-threaded in practice.
type Reader struct {
	company *Company
	doc     map[string]any

	mu       sync.Mutex
	accesses []Access
}

// NewReader builds a Reader over company. The company document is flattened
// through its JSON representation so dotted-path lookups observe exactly the
// stored shape.
func NewReader(company *Company) (*Reader, error) {
	raw, err := json.Marshal(company)
	if err != nil {
		return nil, fmt.Errorf("tenant reader: marshal company: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("tenant reader: decode company: %w", err)
	}
	return &Reader{company: company, doc: doc}, nil
}

// Company returns the typed company document backing this reader.
func (r *Reader) Company() *Company { return r.company }

// GetString returns the string at path, or def when the path is absent or
// holds a non-string value.
func (r *Reader) GetString(path, def string) string {
	v, ok := r.lookup(path)
	s, isStr := v.(string)
	if !ok || !isStr || s == "" {
		r.record(path, def, true)
		return def
	}
	r.record(path, s, false)
	return s
}

// Prompt is GetString with ops-visible logging: a missing tenant prompt must
// never degrade the caller experience, but it must be loud in the logs.
func (r *Reader) Prompt(path, def string) string {
	v, ok := r.lookup(path)
	s, isStr := v.(string)
	if !ok || !isStr || s == "" {
		r.record(path, def, true)
		slog.Error("MISSING_TENANT_PROMPT: using safe default",
			"company_id", r.company.ID, "path", path)
		return def
	}
	r.record(path, s, false)
	return s
}

// GetBool returns the boolean at path, or def when absent or non-boolean.
func (r *Reader) GetBool(path string, def bool) bool {
	v, ok := r.lookup(path)
	b, isBool := v.(bool)
	if !ok || !isBool {
		r.record(path, fmt.Sprintf("%t", def), true)
		return def
	}
	r.record(path, fmt.Sprintf("%t", b), false)
	return b
}

// GetInt returns the integer at path, or def when absent or non-numeric.
// JSON numbers decode as float64; fractional values truncate.
func (r *Reader) GetInt(path string, def int) int {
	v, ok := r.lookup(path)
	f, isNum := v.(float64)
	if !ok || !isNum {
		r.record(path, fmt.Sprintf("%d", def), true)
		return def
	}
	n := int(f)
	r.record(path, fmt.Sprintf("%d", n), false)
	return n
}

// GetFloat returns the float at path, or def when absent or non-numeric.
func (r *Reader) GetFloat(path string, def float64) float64 {
	v, ok := r.lookup(path)
	f, isNum := v.(float64)
	if !ok || !isNum {
		r.record(path, fmt.Sprintf("%g", def), true)
		return def
	}
	r.record(path, fmt.Sprintf("%g", f), false)
	return f
}

// GetArray returns the string slice at path, or def when absent or when the
// value is not an array of strings.
func (r *Reader) GetArray(path string, def []string) []string {
	v, ok := r.lookup(path)
	if !ok {
		r.record(path, "", true)
		return def
	}
	arr, isArr := v.([]any)
	if !isArr {
		r.record(path, "", true)
		return def
	}
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		s, isStr := item.(string)
		if !isStr {
			r.record(path, "", true)
			return def
		}
		out = append(out, s)
	}
	r.record(path, fmt.Sprintf("[%d items]", len(out)), false)
	return out
}

// GetObject returns the raw object at path, or nil when absent.
func (r *Reader) GetObject(path string) map[string]any {
	v, ok := r.lookup(path)
	obj, isObj := v.(map[string]any)
	if !ok || !isObj {
		r.record(path, "", true)
		return nil
	}
	r.record(path, fmt.Sprintf("{%d keys}", len(obj)), false)
	return obj
}

// Accesses returns a snapshot of every read recorded so far, in order.
func (r *Reader) Accesses() []Access {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Access, len(r.accesses))
	copy(out, r.accesses)
	return out
}

// lookup walks the decoded document along the dotted path.
func (r *Reader) lookup(path string) (any, bool) {
	cur := any(r.doc)
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// record appends one access entry. Values longer than 120 bytes are
// truncated to keep audit records bounded.
func (r *Reader) record(path, value string, defaultUsed bool) {
	if len(value) > 120 {
		value = value[:117] + "..."
	}
	r.mu.Lock()
	r.accesses = append(r.accesses, Access{Path: path, Value: value, DefaultUsed: defaultUsed})
	r.mu.Unlock()
}
