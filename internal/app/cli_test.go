package app

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExecute_Version(t *testing.T) {
	var out, errOut bytes.Buffer

	code := Execute(context.Background(), []string{"version"}, strings.NewReader(""), &out, &errOut)

	assert.Equal(t, 0, code)
	assert.Equal(t, Version+"\n", out.String())
}

func TestExecute_Render(t *testing.T) {
	t.Setenv("PRONUNCIATION_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("LOG_PRETTY", "false")
	var out, errOut bytes.Buffer

	code := Execute(context.Background(), []string{"--no-dotenv", "render", "Slackで新着メッセージ"}, strings.NewReader(""), &out, &errOut)

	assert.Equal(t, 0, code, errOut.String())
	assert.Equal(t, "スラックで新着メッセージ\n", out.String())
}

func TestExecute_RenderStdinWithRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pronunciations.yaml")
	assert.NoError(t, writeFile(path, "overrides:\n  slack: スラッグ\n"))
	t.Setenv("PRONUNCIATION_FILE", path)
	t.Setenv("LOG_PRETTY", "false")
	var out, errOut bytes.Buffer

	code := Execute(context.Background(), []string{"--no-dotenv", "render"}, strings.NewReader("Slack\n"), &out, &errOut)

	assert.Equal(t, 0, code, errOut.String())
	assert.Equal(t, "スラッグ\n", out.String())
}

func TestExecute_InvalidConfig(t *testing.T) {
	t.Setenv("DEFAULT_VOLUME", "200")
	var out, errOut bytes.Buffer

	code := Execute(context.Background(), []string{"--no-dotenv", "voices"}, strings.NewReader(""), &out, &errOut)

	assert.Equal(t, 1, code)
	assert.Contains(t, errOut.String(), "tospeak-bridge:")
	assert.Empty(t, out.String())
}

func TestExecute_UnknownEngine(t *testing.T) {
	t.Setenv("ENGINE", "festival")
	var out, errOut bytes.Buffer

	code := Execute(context.Background(), []string{"--no-dotenv", "voices"}, strings.NewReader(""), &out, &errOut)

	assert.Equal(t, 1, code)
	assert.NotEmpty(t, errOut.String())
}
