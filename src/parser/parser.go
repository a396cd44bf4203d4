// Package parser recovers a task list from raw model output. The model is
// asked for JSON but frequently wraps it in markdown, answers with a bare
// list, or ignores the format entirely; each case degrades to the next tier.
package parser

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/apex/log"
	"github.com/tidwall/gjson"

	"github.com/Protocol-Lattice/roomcleaner/src/errs"
)

// MaxTasks bounds every parse result regardless of the path taken.
const MaxTasks = 10

const (
	minLineLength = 10

	reasonCoerced = "N/A"
	reasonText    = "Parsed from text"
)

// Task is one identified mess and why it matters.
type Task struct {
	Mess   string `json:"mess"`
	Reason string `json:"reason"`
}

var fenceRe = regexp.MustCompile("```(?i:json)?\\s*([\\s\\S]*?)\\s*```")

// numbered list markers such as "1." or "2)"
var numberingRe = regexp.MustCompile(`^\d+[.)]\s+`)

var boilerplate = map[string]struct{}{
	"```":     {},
	"```json": {},
	"tasks:":  {},
	"json":    {},
}

// Parse turns model text into tasks. Only valid JSON of an unexpected shape
// is an error; anything unparseable falls back to line extraction.
func Parse(text string) ([]Task, error) {
	body := StripFence(text)

	if !gjson.Valid(body) {
		log.Warn("parser: response is not JSON, falling back to line extraction")
		return ParseLines(body), nil
	}

	root := gjson.Parse(body)
	switch {
	case root.IsObject():
		tasks := root.Get("tasks")
		if !tasks.IsArray() {
			return nil, errs.AI("parser.parse", "response object has no tasks list")
		}
		out := fromArray(tasks.Array())
		log.Infof("parser: parsed %d tasks", len(out))
		return out, nil
	case root.IsArray():
		log.Warn("parser: response is a bare list, coercing to tasks")
		return coerce(root.Array()), nil
	default:
		return nil, errs.AI("parser.parse", "response is %s, not an object or list", root.Type)
	}
}

// StripFence returns the contents of the first ``` or ```json block (tag in
// any case), or the trimmed input when there is none.
func StripFence(text string) string {
	if m := fenceRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(text)
}

func fromArray(items []gjson.Result) []Task {
	for _, it := range items {
		if !it.IsObject() {
			return coerce(items)
		}
	}
	out := make([]Task, 0, min(len(items), MaxTasks))
	for _, it := range items {
		if len(out) == MaxTasks {
			break
		}
		out = append(out, Task{
			Mess:   firstString(it, "mess", "description", "task"),
			Reason: it.Get("reason").String(),
		})
	}
	return out
}

func firstString(obj gjson.Result, keys ...string) string {
	for _, k := range keys {
		if v := obj.Get(k); v.Exists() {
			return v.String()
		}
	}
	return ""
}

func coerce(items []gjson.Result) []Task {
	out := make([]Task, 0, min(len(items), MaxTasks))
	for _, it := range items {
		if len(out) == MaxTasks {
			break
		}
		out = append(out, Task{Mess: stringForm(it), Reason: reasonCoerced})
	}
	return out
}

func stringForm(r gjson.Result) string {
	switch r.Type {
	case gjson.String:
		return r.String()
	case gjson.Null:
		return "null"
	default:
		return r.Raw
	}
}

// ParseLines is the last-resort extractor for free text answers.
func ParseLines(text string) []Task {
	out := []Task{}
	for _, line := range strings.Split(text, "\n") {
		if len(out) == MaxTasks {
			break
		}
		line = strings.TrimSpace(line)
		if skipLine(line) {
			continue
		}
		line = cleanLine(line)
		if utf8.RuneCountInString(line) > minLineLength {
			out = append(out, Task{Mess: line, Reason: reasonText})
		}
	}
	if len(out) == 0 {
		log.Warn("parser: no tasks extracted from text response")
	}
	return out
}

func skipLine(line string) bool {
	if line == "" {
		return true
	}
	if _, ok := boilerplate[strings.ToLower(line)]; ok {
		return true
	}
	if strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//") {
		return true
	}
	// JSON punctuation: "{", "},", "[", "]" and friends
	return strings.Trim(line, "{}[],: ") == "" || strings.HasPrefix(line, "{")
}

func cleanLine(line string) string {
	line = strings.TrimLeft(line, "•-*[]\"'> \t")
	line = numberingRe.ReplaceAllString(line, "")
	line = strings.TrimRight(line, "\",' \t")
	return strings.TrimSpace(line)
}
