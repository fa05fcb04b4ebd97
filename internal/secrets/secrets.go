// Package secrets finds the IMAP password. Providers are tried in order and
// the first non-empty password wins: the configuration file, an environment
// variable, a command, the system keyring, and finally an interactive
// prompt. The prompt is not offered when the keyring is enabled since the
// keyring provider prompts by itself.
package secrets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/google/shlex"
	"github.com/zalando/go-keyring"
	"golang.org/x/term"

	"github.com/pepperpark/autofiler/internal/config"
	"github.com/pepperpark/autofiler/internal/logging"
)

// ErrNoPassword is returned when no provider produced a password.
var ErrNoPassword = errors.New("no password available")

// Provider produces a password, or "" when it has none.
type Provider interface {
	Name() string
	Password(ctx context.Context) (string, error)
}

// Prompter asks the user for a secret.
type Prompter func(prompt string) (string, error)

// TerminalPrompt reads a password from the terminal without echo.
func TerminalPrompt(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(b), nil
}

// Fixed is a password written in the configuration file.
type Fixed string

func (Fixed) Name() string { return "config" }

func (p Fixed) Password(context.Context) (string, error) { return string(p), nil }

// Env reads the password from an environment variable.
type Env struct {
	Var string
}

func (Env) Name() string { return "env" }

func (p Env) Password(context.Context) (string, error) {
	return os.Getenv(p.Var), nil
}

// Command runs a command and uses the first line of its output.
type Command struct {
	Cmd string
}

func (Command) Name() string { return "command" }

func (p Command) Password(ctx context.Context) (string, error) {
	args, err := shlex.Split(p.Cmd)
	if err != nil {
		return "", fmt.Errorf("password-cmd: %w", err)
	}
	if len(args) == 0 {
		return "", errors.New("password-cmd is empty")
	}
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("password-cmd %s: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	line, _, _ := strings.Cut(string(out), "\n")
	return strings.TrimRight(line, "\r"), nil
}

// Keyring looks the password up in the system keyring, asking for it and
// storing it when it is missing.
type Keyring struct {
	Service string
	User    string
	Prompt  Prompter
}

func (Keyring) Name() string { return "keyring" }

func (p Keyring) Password(ctx context.Context) (string, error) {
	pw, err := keyring.Get(p.Service, p.User)
	if err == nil && pw != "" {
		return pw, nil
	}
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return "", fmt.Errorf("keyring: %w", err)
	}
	logging.FromContext(ctx).Debug("no keyring password, asking for one")
	if p.Prompt == nil {
		return "", nil
	}
	pw, err = p.Prompt(fmt.Sprintf("Password for %s (will be stored in the system keyring): ", p.User))
	if err != nil {
		return "", err
	}
	if pw == "" {
		return "", nil
	}
	if err := keyring.Set(p.Service, p.User, pw); err != nil {
		return "", fmt.Errorf("keyring: %w", err)
	}
	return keyring.Get(p.Service, p.User)
}

// Ask prompts for the password every run.
type Ask struct {
	User   string
	Prompt Prompter
}

func (Ask) Name() string { return "prompt" }

func (p Ask) Password(context.Context) (string, error) {
	if p.Prompt == nil {
		return "", nil
	}
	return p.Prompt(fmt.Sprintf("Password for %s: ", p.User))
}

// Providers lists the providers configured for s, in the order they are
// tried.
func Providers(s *config.Server, prompt Prompter) []Provider {
	var out []Provider
	if s.Password != "" {
		out = append(out, Fixed(s.Password))
	}
	if s.PasswordEnv != "" {
		out = append(out, Env{Var: s.PasswordEnv})
	}
	if s.PasswordCmd != "" {
		out = append(out, Command{Cmd: s.PasswordCmd})
	}
	if s.UseKeyring {
		out = append(out, Keyring{Service: s.Hostname, User: s.Username, Prompt: prompt})
	} else {
		out = append(out, Ask{User: s.Username, Prompt: prompt})
	}
	return out
}

// Password returns the first password a provider produces.
func Password(ctx context.Context, s *config.Server, prompt Prompter) (string, error) {
	log := logging.FromContext(ctx)
	for _, p := range Providers(s, prompt) {
		pw, err := p.Password(ctx)
		if err != nil {
			return "", err
		}
		if pw != "" {
			log.Debug("password found", "provider", p.Name())
			return pw, nil
		}
	}
	return "", ErrNoPassword
}
