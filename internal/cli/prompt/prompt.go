// Package prompt wraps promptui for interactive CLI input.
package prompt

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/manifoldco/promptui"
)

// ErrAborted is returned when the user interrupts a prompt.
var ErrAborted = errors.New("aborted")

// IsAborted reports whether err came from Ctrl+C or Ctrl+D.
func IsAborted(err error) bool {
	return errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrEOF) || errors.Is(err, ErrAborted)
}

func wrapError(err error) error {
	if err != nil && IsAborted(err) {
		return ErrAborted
	}
	return err
}

// Input asks for free text, offering defaultValue.
func Input(label, defaultValue string) (string, error) {
	p := promptui.Prompt{Label: label, Default: defaultValue}
	result, err := p.Run()
	return result, wrapError(err)
}

// InputValidated asks for text accepted by validate.
func InputValidated(label, defaultValue string, validate func(string) error) (string, error) {
	p := promptui.Prompt{Label: label, Default: defaultValue, Validate: validate}
	result, err := p.Run()
	return result, wrapError(err)
}

// InputPort asks for a TCP port in 1..65535.
func InputPort(label string, defaultValue int) (int, error) {
	result, err := InputValidated(label, strconv.Itoa(defaultValue), ValidatePort)
	if err != nil {
		return 0, err
	}
	port, _ := strconv.Atoi(result)
	return port, nil
}

// ValidatePort accepts decimal port numbers in 1..65535.
func ValidatePort(input string) error {
	port, err := strconv.Atoi(input)
	if err != nil {
		return fmt.Errorf("must be a valid integer")
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("must be a valid port (1-65535)")
	}
	return nil
}

// Password asks for a secret without echoing it.
func Password(label string) (string, error) {
	p := promptui.Prompt{Label: label, Mask: '*'}
	result, err := p.Run()
	return result, wrapError(err)
}

// Confirm asks a yes/no question. An empty answer selects defaultYes.
func Confirm(label string, defaultYes bool) (bool, error) {
	hint := "y/N"
	if defaultYes {
		hint = "Y/n"
	}

	p := promptui.Prompt{Label: fmt.Sprintf("%s [%s]", label, hint), IsConfirm: true}
	result, err := p.Run()
	switch {
	case err == nil:
		return result == "y" || result == "Y" || result == "yes", nil
	case errors.Is(err, promptui.ErrInterrupt):
		return false, ErrAborted
	case result == "":
		return defaultYes, nil
	case errors.Is(err, promptui.ErrAbort):
		return false, nil
	default:
		return false, err
	}
}

// Select asks the user to pick one of items and returns it.
func Select(label string, items []string) (string, error) {
	p := promptui.Select{Label: label, Items: items, Size: 10}
	_, result, err := p.Run()
	return result, wrapError(err)
}
