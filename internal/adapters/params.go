// ABOUTME: Typed accessors for validated tool params
// ABOUTME: Handlers call these after Schema.Validate so type assertions are already known to hold

package adapters

// String returns args[key] as a string, or "".
func String(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

// Integer returns args[key] as an int. JSON numbers arrive as float64; ints are accepted for defaults.
func Integer(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

// Boolean returns args[key] as a bool, or false.
func Boolean(args map[string]any, key string) bool {
	b, _ := args[key].(bool)
	return b
}

// Strings returns args[key] as a []string, skipping non-strings.
func Strings(args map[string]any, key string) []string {
	items, _ := args[key].([]any)
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Has reports whether key was supplied or defaulted.
func Has(args map[string]any, key string) bool {
	_, ok := args[key]
	return ok
}
