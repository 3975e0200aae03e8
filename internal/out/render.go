package out

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/ggonzalez94/defi-actions/internal/config"
	"github.com/ggonzalez94/defi-actions/internal/model"
)

// Render writes env to w in the configured output mode. Selected fields may be
// dotted paths into nested objects, e.g. "simulation.success".
func Render(w io.Writer, env model.Envelope, settings config.Settings) error {
	data := env.Data
	if len(settings.SelectFields) > 0 {
		data = project(data, settings.SelectFields)
	}

	if settings.ResultsOnly {
		if settings.OutputMode == "json" {
			return encodeJSON(w, data)
		}
		return renderPlain(w, data)
	}

	if settings.OutputMode == "json" {
		env.Data = data
		return encodeJSON(w, env)
	}

	plain := map[string]any{
		"success":  env.Success,
		"data":     data,
		"warnings": env.Warnings,
		"meta":     env.Meta,
	}
	if env.Error != nil {
		plain["error"] = env.Error
	}
	return renderPlain(w, plain)
}

func encodeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// renderPlain prints one line per list item, or one line for a single value.
// Nested objects are flattened into dotted keys.
func renderPlain(w io.Writer, data any) error {
	n := normalizeValue(data)
	if n == nil {
		_, err := fmt.Fprintln(w, "null")
		return err
	}
	items, ok := n.([]any)
	if !ok {
		_, err := fmt.Fprintln(w, toLine(n))
		return err
	}
	if len(items) == 0 {
		_, err := fmt.Fprintln(w, "[]")
		return err
	}
	for _, item := range items {
		if _, err := fmt.Fprintln(w, toLine(item)); err != nil {
			return err
		}
	}
	return nil
}

func project(data any, fields []string) any {
	n := normalizeValue(data)
	switch t := n.(type) {
	case []any:
		out := make([]map[string]any, 0, len(t))
		for _, item := range t {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			out = append(out, projectMap(m, fields))
		}
		return out
	case map[string]any:
		return projectMap(t, fields)
	default:
		return n
	}
}

func projectMap(m map[string]any, fields []string) map[string]any {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		if v, ok := lookup(m, f); ok {
			out[f] = v
		}
	}
	return out
}

// lookup walks a dotted path through objects and list indexes.
func lookup(v any, path string) (any, bool) {
	cur := v
	for _, part := range strings.Split(path, ".") {
		switch t := cur.(type) {
		case map[string]any:
			next, ok := t[part]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= len(t) {
				return nil, false
			}
			cur = t[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

func normalizeValue(v any) any {
	buf, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(buf, &out); err != nil {
		return v
	}
	return out
}

func toLine(v any) string {
	m, ok := v.(map[string]any)
	if !ok {
		return scalar(v)
	}
	flat := map[string]string{}
	flatten("", m, flat)
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+flat[k])
	}
	return strings.Join(parts, " ")
}

func flatten(prefix string, v any, out map[string]string) {
	switch t := v.(type) {
	case map[string]any:
		if len(t) == 0 && prefix != "" {
			out[prefix] = "{}"
		}
		for k, child := range t {
			flatten(joinKey(prefix, k), child, out)
		}
	case []any:
		if len(t) == 0 {
			out[prefix] = "[]"
		}
		for i, child := range t {
			flatten(joinKey(prefix, strconv.Itoa(i)), child, out)
		}
	default:
		out[prefix] = scalar(t)
	}
}

func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

func scalar(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		if strings.ContainsAny(t, " \t\n") {
			return strconv.Quote(t)
		}
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		buf, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(buf)
	}
}
