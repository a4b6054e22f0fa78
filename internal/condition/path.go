package condition

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

// Context is the three-section view conditions and mappings are evaluated
// against.
type Context struct {
	Input  map[string]interface{}
	State  map[string]interface{}
	Output map[string]interface{}
}

// Missing is a distinct sentinel returned by Resolve when a path does not
// exist, so callers can tell it apart from a literal null value.
type Missing struct{}

// Resolve performs dot-separated traversal over ctx. The first path segment
// selects input|state|output; if it matches none of those, the search falls
// back to a merged view (input, then state, then output, later sections
// winning on key collision). Any intermediate non-object value along the
// path yields Missing{}.
func Resolve(path string, ctx *Context) interface{} {
	segments := strings.Split(path, ".")
	if len(segments) == 0 {
		return Missing{}
	}

	switch segments[0] {
	case "input":
		return resolveIn(ctx.Input, segments[1:])
	case "state":
		return resolveIn(ctx.State, segments[1:])
	case "output":
		return resolveIn(ctx.Output, segments[1:])
	default:
		return resolveMerged(ctx, segments)
	}
}

// ResolveFlat resolves a dotted path directly against a single nested map,
// without the input/state/output section split — used to pull a merge
// source field out of a branch table's loaded contents.
func ResolveFlat(m map[string]interface{}, path string) interface{} {
	return resolveIn(m, strings.Split(path, "."))
}

func resolveMerged(ctx *Context, segments []string) interface{} {
	merged := make(map[string]interface{})
	for k, v := range ctx.Input {
		merged[k] = v
	}
	for k, v := range ctx.State {
		merged[k] = v
	}
	for k, v := range ctx.Output {
		merged[k] = v
	}
	return resolveIn(merged, segments)
}

func resolveIn(section map[string]interface{}, rest []string) interface{} {
	if section == nil {
		return Missing{}
	}
	if len(rest) == 0 {
		return section
	}

	b, err := json.Marshal(section)
	if err != nil {
		return Missing{}
	}

	result := gjson.GetBytes(b, strings.Join(rest, "."))
	if !result.Exists() {
		return Missing{}
	}
	return result.Value()
}
