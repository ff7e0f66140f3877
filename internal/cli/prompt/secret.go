package prompt

import (
	"errors"

	"github.com/manifoldco/promptui"
)

// ErrSecretMismatch is returned when the confirmation differs from the
// first entry.
var ErrSecretMismatch = errors.New("secrets do not match")

// Secret prompts for a masked value. An empty answer is allowed since servers
// may run without authentication.
func Secret(label string) (string, error) {
	p := promptui.Prompt{
		Label: label,
		Mask:  '*',
	}

	result, err := p.Run()
	return result, wrapError(err)
}

// NewSecret prompts for a non-empty masked value twice and requires both
// entries to match.
func NewSecret(label, confirmLabel string) (string, error) {
	p := promptui.Prompt{
		Label:    label,
		Mask:     '*',
		Validate: notBlank("Secret"),
	}

	secret, err := p.Run()
	if err != nil {
		return "", wrapError(err)
	}

	confirm, err := Secret(confirmLabel)
	if err != nil {
		return "", err
	}
	if secret != confirm {
		return "", ErrSecretMismatch
	}
	return secret, nil
}
