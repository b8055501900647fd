package model

import "encoding/json"

// Language is the programming language associated with a Product: one of the
// closed built-ins, or an open Other(name).
type Language struct {
	name string
}

var (
	LanguageJSON = Language{"json"}
	LanguageText = Language{"text"}
	LanguageNone = Language{"none"}
)

// OtherLanguage constructs a Language outside the built-in set.
func OtherLanguage(name string) Language {
	return Language{name}
}

func (l Language) String() string { return l.name }

func (l Language) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.name)
}

func (l *Language) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	l.name = s
	return nil
}

// ProductName is the closed-plus-open set of product kinds.
type ProductName struct {
	name string
}

var (
	ProductSource       = ProductName{"source"}
	ProductDirectory    = ProductName{"directory"}
	ProductErrors       = ProductName{"errors"}
	ProductHighlighting = ProductName{"highlighting"}
)

// OtherProductName constructs a ProductName from its string form without
// validating it. A built-in name yields a value equal to the built-in
// (OtherProductName("source") == ProductSource); callers that already have a
// parsed Identifier should use its String() form.
func OtherProductName(name string) ProductName {
	return ProductName{name}
}

func (p ProductName) String() string { return p.name }

func (p ProductName) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.name)
}

func (p *ProductName) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	p.name = s
	return nil
}
