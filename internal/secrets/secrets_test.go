package secrets

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/pepperpark/autofiler/internal/config"
)

func names(ps []Provider) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.Name()
	}
	return out
}

func fixedPrompt(pw string, calls *int) Prompter {
	return func(string) (string, error) {
		*calls++
		return pw, nil
	}
}

func TestProviders(t *testing.T) {
	s := &config.Server{Hostname: "hostname", Username: "username"}
	assert.Equal(t, []string{"prompt"}, names(Providers(s, nil)))

	s.Password = "a password"
	s.PasswordEnv = "MAIL_PASSWORD"
	s.PasswordCmd = "pass show mail"
	assert.Equal(t, []string{"config", "env", "command", "prompt"}, names(Providers(s, nil)))

	s.UseKeyring = true
	assert.Equal(t, []string{"config", "env", "command", "keyring"}, names(Providers(s, nil)))
}

func TestFixedWins(t *testing.T) {
	calls := 0
	s := &config.Server{Username: "u", Password: "from-config", PasswordEnv: "AUTOFILER_TEST_PW"}
	t.Setenv("AUTOFILER_TEST_PW", "from-env")
	pw, err := Password(context.Background(), s, fixedPrompt("typed", &calls))
	require.NoError(t, err)
	assert.Equal(t, "from-config", pw)
	assert.Zero(t, calls)
}

func TestEnv(t *testing.T) {
	calls := 0
	s := &config.Server{Username: "u", PasswordEnv: "AUTOFILER_TEST_PW"}
	t.Setenv("AUTOFILER_TEST_PW", "from-env")
	pw, err := Password(context.Background(), s, fixedPrompt("typed", &calls))
	require.NoError(t, err)
	assert.Equal(t, "from-env", pw)

	t.Setenv("AUTOFILER_TEST_PW", "")
	pw, err = Password(context.Background(), s, fixedPrompt("typed", &calls))
	require.NoError(t, err)
	assert.Equal(t, "typed", pw)
	assert.Equal(t, 1, calls)
}

func TestCommand(t *testing.T) {
	pw, err := Command{Cmd: `printf 'secret word\nsecond line\n'`}.Password(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "secret word", pw)

	_, err = Command{Cmd: "false"}.Password(context.Background())
	assert.Error(t, err)

	_, err = Command{Cmd: `"unterminated`}.Password(context.Background())
	assert.Error(t, err)
}

func TestAsk(t *testing.T) {
	var got string
	prompt := func(p string) (string, error) {
		got = p
		return "typed", nil
	}
	pw, err := Ask{User: "username", Prompt: prompt}.Password(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "typed", pw)
	assert.Equal(t, "Password for username: ", got)
}

func TestKeyring(t *testing.T) {
	keyring.MockInit()
	ctx := context.Background()
	calls := 0
	p := Keyring{Service: "hostname", User: "username", Prompt: fixedPrompt("typed", &calls)}

	pw, err := p.Password(ctx)
	require.NoError(t, err)
	assert.Equal(t, "typed", pw)
	assert.Equal(t, 1, calls)
	stored, err := keyring.Get("hostname", "username")
	require.NoError(t, err)
	assert.Equal(t, "typed", stored)

	pw, err = p.Password(ctx)
	require.NoError(t, err)
	assert.Equal(t, "typed", pw)
	assert.Equal(t, 1, calls)
}

func TestKeyringError(t *testing.T) {
	boom := errors.New("dbus unavailable")
	keyring.MockInitWithError(boom)
	_, err := Keyring{Service: "h", User: "u"}.Password(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestNoPassword(t *testing.T) {
	_, err := Password(context.Background(), &config.Server{Username: "u"}, nil)
	assert.ErrorIs(t, err, ErrNoPassword)
}

func TestPromptError(t *testing.T) {
	boom := errors.New("not a terminal")
	_, err := Password(context.Background(), &config.Server{Username: "u"}, func(string) (string, error) { return "", boom })
	assert.ErrorIs(t, err, boom)
}
