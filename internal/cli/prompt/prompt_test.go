package prompt

import (
	"errors"
	"fmt"
	"testing"

	"github.com/manifoldco/promptui"
	"github.com/stretchr/testify/assert"
)

func TestWrapError(t *testing.T) {
	assert.NoError(t, wrapError(nil))
	assert.ErrorIs(t, wrapError(promptui.ErrInterrupt), ErrAborted)
	assert.ErrorIs(t, wrapError(promptui.ErrAbort), ErrAborted)

	other := errors.New("tty closed")
	assert.Equal(t, other, wrapError(other))
}

func TestIsAborted(t *testing.T) {
	assert.True(t, IsAborted(ErrAborted))
	assert.True(t, IsAborted(fmt.Errorf("reading: %w", promptui.ErrInterrupt)))
	assert.False(t, IsAborted(ErrSecretMismatch))
}

func TestNotBlank(t *testing.T) {
	validate := notBlank("Username")

	assert.NoError(t, validate("alice"))
	assert.EqualError(t, validate("   "), "username is required")
}

func TestConfirmWithForce(t *testing.T) {
	ok, err := ConfirmWithForce("Disconnect alice?", true)
	assert.NoError(t, err)
	assert.True(t, ok)
}
