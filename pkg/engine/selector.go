package engine

import (
	"fmt"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/getstubd/stubd/pkg/interaction"
)

// selectDescriptor picks the response descriptor serving the next call
// of an interaction. Without onCall the top-level descriptor always
// serves. With onCall, call index n (the call count before this call)
// is served by onCall[n]; indexes beyond the highest key repeat the
// highest-keyed descriptor.
func selectDescriptor(in *interaction.Interaction, calls int64) (*interaction.ResponseDescriptor, error) {
	top := in.Response
	if top == nil {
		return nil, fmt.Errorf("interaction %s has no response descriptor", in.ID)
	}
	if len(top.OnCall) == 0 {
		return top, nil
	}

	if sub, ok := top.OnCall[int(calls)]; ok && sub != nil {
		return sub, nil
	}
	highest := -1
	for k := range top.OnCall {
		if k > highest {
			highest = k
		}
	}
	sub := top.OnCall[highest]
	if sub == nil {
		return nil, fmt.Errorf("interaction %s has no response for call %d", in.ID, calls)
	}
	return sub, nil
}

// selectDelay samples the concrete pause before writing. An onCall
// sub-descriptor uses its own delay settings when it declares any,
// otherwise it inherits the top-level descriptor's.
func selectDelay(selected, top *interaction.ResponseDescriptor) time.Duration {
	src := top
	if selected.FixedDelay > 0 || selected.RandomDelay != nil {
		src = selected
	}
	switch {
	case src.FixedDelay > 0:
		return time.Duration(src.FixedDelay) * time.Millisecond
	case src.RandomDelay != nil:
		ms := src.RandomDelay.Min
		if span := src.RandomDelay.Max - src.RandomDelay.Min; span > 0 {
			ms += rand.IntN(span + 1)
		}
		return time.Duration(ms) * time.Millisecond
	default:
		return 0
	}
}

// resolveResponse flattens a descriptor into the concrete response sent
// on the wire: matcher nodes collapse to their example values, header
// values render as strings, and default headers fill in where the
// descriptor stays silent. A Content-Type is derived from the body when
// neither the descriptor nor the defaults set one.
func resolveResponse(d *interaction.ResponseDescriptor, defaults map[string]string) interaction.ResolvedResponse {
	resolved := interaction.ResolvedResponse{Status: d.Status}

	headers := make(map[string]string, len(defaults)+len(d.Headers))
	for name, value := range defaults {
		headers[http.CanonicalHeaderKey(name)] = value
	}
	for name, value := range d.Headers {
		headers[http.CanonicalHeaderKey(name)] = headerString(interaction.ResolveExamples(value))
	}

	if d.Body != nil {
		resolved.Body = interaction.ResolveExamples(d.Body)
		if _, ok := headers["Content-Type"]; !ok {
			if _, isString := resolved.Body.(string); isString {
				headers["Content-Type"] = "text/plain; charset=utf-8"
			} else {
				headers["Content-Type"] = "application/json"
			}
		}
	}

	if len(headers) > 0 {
		resolved.Headers = headers
	}
	return resolved
}

// headerString renders a resolved header value for the wire. Lists
// join with ", " per RFC 9110 field folding.
func headerString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case []any:
		parts := make([]string, len(val))
		for i, elem := range val {
			parts[i] = headerString(elem)
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprintf("%v", val)
	}
}
