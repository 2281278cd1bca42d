package skill

import (
	"fmt"
	"math"
)

// ArgError reports a keyword argument that is missing or has the wrong type.
type ArgError struct {
	Skill string
	Arg   string
	Msg   string
}

func (e *ArgError) Error() string {
	return fmt.Sprintf("skill %s: argument %q %s", e.Skill, e.Arg, e.Msg)
}

// CheckArgs rejects keywords that are not declared parameters.
func CheckArgs(name string, params []Param, args map[string]any) error {
	for k := range args {
		known := false
		for _, p := range params {
			if p.Name == k {
				known = true
				break
			}
		}
		if !known {
			return &ArgError{Skill: name, Arg: k, Msg: "is not a parameter"}
		}
	}
	return nil
}

func stringArg(skill string, args map[string]any, name string) (string, error) {
	v, ok := args[name]
	if !ok || v == nil {
		return "", &ArgError{Skill: skill, Arg: name, Msg: "is required"}
	}
	s, ok := v.(string)
	if !ok {
		return "", &ArgError{Skill: skill, Arg: name, Msg: fmt.Sprintf("must be a string, got %T", v)}
	}
	return s, nil
}

func numberArg(skill string, args map[string]any, name string, def float64) (float64, error) {
	v, ok := args[name]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int64:
		return float64(n), nil
	case int:
		return float64(n), nil
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, &ArgError{Skill: skill, Arg: name, Msg: "must be finite"}
		}
		return n, nil
	}
	return 0, &ArgError{Skill: skill, Arg: name, Msg: fmt.Sprintf("must be a number, got %T", v)}
}

func intArg(skill string, args map[string]any, name string, def int64) (int64, error) {
	v, ok := args[name]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		if math.IsInf(n, 0) || n != math.Trunc(n) {
			break
		}
		// float64(math.MaxInt64) rounds up to 2^63.
		if n >= float64(math.MaxInt64) || n < float64(math.MinInt64) {
			return 0, &ArgError{Skill: skill, Arg: name, Msg: fmt.Sprintf("is out of integer range, got %v", v)}
		}
		return int64(n), nil
	}
	return 0, &ArgError{Skill: skill, Arg: name, Msg: fmt.Sprintf("must be an integer, got %v", v)}
}
