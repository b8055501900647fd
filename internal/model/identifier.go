// Package model defines the wire-level data types shared by the Client and
// Service protocols: identifiers, versions, languages, and products.
package model

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var identifierPart = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Identifier is a reverse-hostname-style dotted identifier with at least two
// components, e.g. "edu.umn.cs.melt.broker".
type Identifier struct {
	namespace []string
	name      string
}

// ParseIdentifier parses and validates a dotted identifier string.
func ParseIdentifier(s string) (Identifier, error) {
	parts := strings.Split(s, ".")
	if len(parts) < 2 {
		return Identifier{}, fmt.Errorf("identifier %q must have at least two components", s)
	}
	for _, p := range parts {
		if !identifierPart.MatchString(p) {
			return Identifier{}, fmt.Errorf("identifier %q has invalid component %q", s, p)
		}
	}
	name := parts[len(parts)-1]
	return Identifier{namespace: append([]string(nil), parts[:len(parts)-1]...), name: name}, nil
}

// MustIdentifier parses s, panicking on error. Intended for constants.
func MustIdentifier(s string) Identifier {
	id, err := ParseIdentifier(s)
	if err != nil {
		panic(err)
	}
	return id
}

func (id Identifier) String() string {
	if id.name == "" {
		return ""
	}
	return strings.Join(append(append([]string(nil), id.namespace...), id.name), ".")
}

// IsZero reports whether id was never successfully parsed.
func (id Identifier) IsZero() bool { return id.name == "" }

func (id Identifier) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

func (id *Identifier) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseIdentifier(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// NamespacedName is an Identifier followed by a simple name, "a.b/c".
type NamespacedName struct {
	Namespace Identifier
	Name      string
}

func (n NamespacedName) String() string {
	return n.Namespace.String() + "/" + n.Name
}

func (n NamespacedName) MarshalJSON() ([]byte, error) {
	return json.Marshal(n.String())
}

func (n *NamespacedName) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	idx := strings.LastIndex(s, "/")
	if idx < 0 {
		return fmt.Errorf("namespaced name %q missing '/'", s)
	}
	ns, err := ParseIdentifier(s[:idx])
	if err != nil {
		return err
	}
	n.Namespace = ns
	n.Name = s[idx+1:]
	return nil
}
