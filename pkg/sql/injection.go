package sql

import (
	libinjection "github.com/corazawaf/libinjection-go"
)

// InjectionHit describes an injection pattern detected inside a string
// literal of a candidate statement.
type InjectionHit struct {
	Literal     string // the literal that failed the check
	Fingerprint string // libinjection fingerprint of the detected pattern
}

// CheckLiteralsForInjection runs libinjection over the string literals of a
// statement. The statement structure itself is checked separately by the
// validator; the literals are where a model can be tricked into smuggling
// attacker-controlled SQL fragments (e.g. WHERE name = ''; DROP TABLE x--').
//
// Returns the first hit, or nil if all literals are clean.
func CheckLiteralsForInjection(literals []string) *InjectionHit {
	for _, literal := range literals {
		if literal == "" {
			continue
		}
		isSQLi, fingerprint := libinjection.IsSQLi(literal)
		if isSQLi {
			return &InjectionHit{
				Literal:     literal,
				Fingerprint: string(fingerprint),
			}
		}
	}
	return nil
}
