// Package vars implements the ${BLACKJACK_*} variable substitutor used
// over both TestSpec string fields and raw manifest text.
package vars

import (
	"fmt"
	"regexp"
	"strings"
)

var placeholder = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Env is a per-test variable scope. It is never shared between tests; each
// test (and the scripts it runs) gets its own copy.
type Env map[string]string

// Clone returns an independent copy of e.
func (e Env) Clone() Env {
	cp := make(Env, len(e))
	for k, v := range e {
		cp[k] = v
	}
	return cp
}

// Substitute replaces every ${NAME} occurrence in text with env[NAME].
// A reference to an unknown name is a spec error.
func Substitute(text string, env Env) (string, error) {
	var firstErr error
	result := placeholder.ReplaceAllStringFunc(text, func(match string) string {
		name := placeholder.FindStringSubmatch(match)[1]
		val, ok := env[name]
		if !ok {
			if firstErr == nil {
				firstErr = fmt.Errorf("undefined variable %q", name)
			}
			return match
		}
		return val
	})
	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// SubstituteStrings walks fields, applying Substitute to each and
// collecting the first error encountered. It is used by the spec loader to
// expand every string-typed field of a decoded TestSpec after YAML parse.
func SubstituteStrings(fields []*string, env Env) error {
	for _, f := range fields {
		if f == nil || !strings.Contains(*f, "${") {
			continue
		}
		expanded, err := Substitute(*f, env)
		if err != nil {
			return err
		}
		*f = expanded
	}
	return nil
}
