package sandbox

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/nidhogg/palskill/internal/skill"
)

// paramLine matches one parameter description. The trailing character,
// normally the period, is not part of the description.
func paramLine(name string) *regexp.Regexp {
	return regexp.MustCompile(`- ` + regexp.QuoteMeta(name) + `: (.+).`)
}

// Contract checks that doc carries exactly one description line for each
// parameter and returns the parameter schema built from those lines.
func Contract(params []string, doc string) ([]skill.Param, error) {
	lines := strings.Split(doc, "\n")
	out := make([]skill.Param, 0, len(params))
	for _, name := range params {
		re := paramLine(name)
		var desc string
		n := 0
		for _, l := range lines {
			if m := re.FindStringSubmatch(l); m != nil {
				desc = m[1]
				n++
			}
		}
		switch {
		case n == 0:
			return nil, fmt.Errorf("%w: parameter %q has no description", ErrContract, name)
		case n > 1:
			return nil, fmt.Errorf("%w: parameter %q is described %d times", ErrContract, name, n)
		}
		out = append(out, skill.Param{Name: name, Type: "any", Description: desc})
	}
	return out, nil
}
