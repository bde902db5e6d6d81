package license

import (
	"errors"
	"strings"
)

// ConnectionTemplate renders project connection strings. Placeholders are
// positional: {0} project name, {1} scheduler user name, {2} password.
type ConnectionTemplate struct {
	text string
}

// ParseConnectionTemplate checks that all three placeholders are present.
func ParseConnectionTemplate(text string) (ConnectionTemplate, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return ConnectionTemplate{}, errors.New("license: connection template is empty")
	}
	for _, ph := range []string{"{0}", "{1}", "{2}"} {
		if !strings.Contains(text, ph) {
			return ConnectionTemplate{}, errors.New("license: connection template is missing " + ph)
		}
	}
	return ConnectionTemplate{text: text}, nil
}

// Render substitutes the values in one pass so a value containing "{1}" is not re-expanded.
func (t ConnectionTemplate) Render(projectName, userName, password string) string {
	return strings.NewReplacer("{0}", projectName, "{1}", userName, "{2}", password).Replace(t.text)
}
