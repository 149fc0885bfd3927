package authorizer

import (
	"bytes"
	"encoding/json"
	"strings"
)

// StringList is a policy field that holds either one string or a list.
type StringList []string

// UnmarshalJSON accepts "a" as well as ["a", "b"].
func (s *StringList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var one string
		if err := json.Unmarshal(b, &one); err != nil {
			return err
		}
		*s = StringList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	*s = many
	return nil
}

// Statement is one IAM policy statement.
type Statement struct {
	Effect   string     `json:"Effect"`
	Action   StringList `json:"Action,omitempty"`
	Resource StringList `json:"Resource"`
}

// Statements is a policy statement list that also accepts a single
// statement object.
type Statements []Statement

// UnmarshalJSON accepts {...} as well as [{...}, ...].
func (s *Statements) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '{' {
		var one Statement
		if err := json.Unmarshal(b, &one); err != nil {
			return err
		}
		*s = Statements{one}
		return nil
	}
	var many []Statement
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	*s = many
	return nil
}

// PolicyDocument is the IAM policy returned by an authorizer.
type PolicyDocument struct {
	Version   string     `json:"Version"`
	Statement Statements `json:"Statement"`
}

// Policy is the response of a REQUEST authorizer.
type Policy struct {
	PrincipalID        string          `json:"principalId"`
	PolicyDocument     *PolicyDocument `json:"policyDocument"`
	Context            map[string]any  `json:"context"`
	UsageIdentifierKey string          `json:"usageIdentifierKey,omitempty"`
}

// ParsePolicy decodes an authorizer response. Context numbers keep their
// original text.
func ParsePolicy(raw []byte) (*Policy, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var p Policy
	if err := dec.Decode(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// CanExecuteResource reports whether doc allows access to resource. An
// explicit Deny on a matching resource wins over any Allow.
func CanExecuteResource(doc *PolicyDocument, resource string) bool {
	if doc == nil {
		return false
	}
	if matchesEffect(doc.Statement, resource, "deny") {
		return false
	}
	return matchesEffect(doc.Statement, resource, "allow")
}

func matchesEffect(statements Statements, resource, effect string) bool {
	for _, st := range statements {
		if !strings.EqualFold(st.Effect, effect) {
			continue
		}
		for _, pattern := range st.Resource {
			if MatchResource(pattern, resource) {
				return true
			}
		}
	}
	return false
}

// MatchResource matches an ARN against a policy resource pattern in which
// '*' matches any run of characters and '?' matches exactly one.
func MatchResource(pattern, resource string) bool {
	if pattern == resource || pattern == "*" {
		return true
	}
	if !strings.ContainsAny(pattern, "*?") {
		return false
	}
	return glob(pattern, resource)
}

// glob is an iterative wildcard matcher with single-star backtracking.
func glob(pattern, s string) bool {
	p, i := 0, 0
	star, mark := -1, 0
	for i < len(s) {
		switch {
		case p < len(pattern) && (pattern[p] == '?' || pattern[p] == s[i]):
			p++
			i++
		case p < len(pattern) && pattern[p] == '*':
			star = p
			mark = i
			p++
		case star >= 0:
			p = star + 1
			mark++
			i = mark
		default:
			return false
		}
	}
	for p < len(pattern) && pattern[p] == '*' {
		p++
	}
	return p == len(pattern)
}
