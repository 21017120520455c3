package matching

// Dimension weights for ranking near-miss candidates in no-match
// diagnostics. Body agreement outranks path, path outranks method, so
// the candidate list surfaces the interaction the caller most likely
// meant.
const (
	scoreMethod  = 10
	scorePath    = 15
	scoreHeaders = 10
	scoreQuery   = 5
	scoreBody    = 25
)
