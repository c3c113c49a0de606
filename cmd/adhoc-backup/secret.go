package main

import (
	"fmt"
	"io"
	"os"

	"adhoc-backup/internal/app"

	"golang.org/x/term"
)

// readSecret returns the passphrase from the environment, or prompts for it
// without echo. With confirm set the passphrase is asked for twice.
func readSecret(out io.Writer, confirm bool) (string, error) {
	if s := os.Getenv(app.EnvSecret); s != "" {
		return s, nil
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("no terminal to read the passphrase from; set %s", app.EnvSecret)
	}

	fmt.Fprint(out, "Passphrase: ")
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	if len(first) == 0 {
		return "", fmt.Errorf("passphrase must not be empty")
	}
	if !confirm {
		return string(first), nil
	}

	fmt.Fprint(out, "Confirm passphrase: ")
	second, err := term.ReadPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	if string(first) != string(second) {
		return "", fmt.Errorf("passphrases do not match")
	}
	return string(first), nil
}
