package rules

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/auralink/proactive/internal/datastore/entities"
)

var placeholderRe = regexp.MustCompile(`\{([A-Za-z0-9_]+(?:\.[A-Za-z0-9_]+)*)\}`)

// RenderMessage produces the notification text for a triggered action. The
// default message is used when the action has no template.
func RenderMessage(action entities.RuleAction, rctx *Context) string {
	if strings.TrimSpace(action.Message) == "" {
		return action.DefaultMessage
	}
	return RenderTemplate(action.Message, rctx)
}

// RenderTemplate replaces {dotted.path} placeholders with values from the
// context. Paths resolve against the context root (senseData, personality,
// timeOfDay, dayOfWeek, hour) and then directly against the sense data.
// Placeholders that resolve to nothing are left as written.
func RenderTemplate(tmpl string, rctx *Context) string {
	root := rctx.templateRoot()
	return placeholderRe.ReplaceAllStringFunc(tmpl, func(match string) string {
		path := match[1 : len(match)-1]
		if v, ok := Lookup(root, path); ok {
			return formatValue(v)
		}
		if v, ok := Lookup(rctx.SenseData, path); ok {
			return formatValue(v)
		}
		return match
	})
}

func formatValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		if val == math.Trunc(val) && math.Abs(val) < 1e15 {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return formatValue(float64(val))
	default:
		return fmt.Sprint(val)
	}
}
