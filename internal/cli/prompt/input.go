package prompt

import (
	"errors"
	"strings"

	"github.com/manifoldco/promptui"
)

// Input prompts for a line of text, offering defaultValue.
func Input(label, defaultValue string) (string, error) {
	p := promptui.Prompt{
		Label:   label,
		Default: defaultValue,
	}

	result, err := p.Run()
	return strings.TrimSpace(result), wrapError(err)
}

// InputRequired prompts until a non-blank line is entered.
func InputRequired(label string) (string, error) {
	p := promptui.Prompt{
		Label:    label,
		Validate: notBlank(label),
	}

	result, err := p.Run()
	return strings.TrimSpace(result), wrapError(err)
}

func notBlank(label string) promptui.ValidateFunc {
	return func(input string) error {
		if strings.TrimSpace(input) == "" {
			return errors.New(strings.ToLower(label) + " is required")
		}
		return nil
	}
}
