package validate

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/chainguard/internal/execx"
)

func write(t *testing.T, root, name, content string) {
	t.Helper()
	full := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o600))
}

func TestSyntax_StructuredFormats(t *testing.T) {
	tests := []struct {
		name     string
		file     string
		content  string
		ok       bool
		kind     string
		contains string
	}{
		{"valid json", "a.json", `{"a": [1, 2]}`, true, "", ""},
		{"invalid json", "b.json", "{\n  \"a\": 1,\n}", false, "JSON", "Line 3"},
		{"jsonc comments", "c.jsonc", "{\n  // comment\n  \"a\": 1,\n}", true, "", ""},
		{"tsconfig with comments", "tsconfig.json", "{ /* strict */ \"compilerOptions\": {} }", true, "", ""},
		{"invalid jsonc", "d.jsonc", "{ \"a\": }", false, "JSONC", ""},
		{"valid yaml", "e.yaml", "a: 1\nb:\n  - x\n", true, "", ""},
		{"multi-doc yaml", "f.yml", "a: 1\n---\nb: 2\n", true, "", ""},
		{"invalid yaml", "g.yaml", "a: [1, 2\nb: 3\n", false, "YAML", ""},
		{"valid toml", "h.toml", "[server]\nport = 8080\n", true, "", ""},
		{"invalid toml", "i.toml", "[server\nport = 8080\n", false, "TOML", "Line"},
	}

	v := NewSyntax(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			write(t, root, tt.file, tt.content)

			res, err := v.Validate(context.Background(), root, tt.file)
			require.NoError(t, err)
			assert.Equal(t, tt.ok, res.OK)
			assert.Empty(t, res.Skipped)
			if tt.ok {
				assert.Empty(t, res.Errors)
				return
			}
			require.Len(t, res.Errors, 1)
			assert.Equal(t, tt.kind, res.Errors[0].Type)
			assert.Equal(t, tt.file, res.Errors[0].File)
			assert.Contains(t, res.Errors[0].Message, tt.contains)
		})
	}
}

func TestSyntax_SkipsWhatItCannotCheck(t *testing.T) {
	root := t.TempDir()
	write(t, root, "notes.md", "# hi")
	require.NoError(t, os.Mkdir(filepath.Join(root, "dir.json"), 0o755))

	v := NewSyntax(nil)
	for _, name := range []string{"notes.md", "missing.json", "dir.json", "app.php"} {
		t.Run(name, func(t *testing.T) {
			res, err := v.Validate(context.Background(), root, name)
			require.NoError(t, err)
			assert.True(t, res.OK)
			assert.NotEmpty(t, res.Skipped)
		})
	}
}

func TestSyntax_DisallowedToolchainSkips(t *testing.T) {
	root := t.TempDir()
	write(t, root, "app.py", "print('hi')\n")

	v := NewSyntax(execx.New(execx.Options{Allowed: []string{"ls"}}))
	res, err := v.Validate(context.Background(), root, "app.py")
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, "python3 not allowed", res.Skipped)
}

func TestSyntax_Python(t *testing.T) {
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not installed")
	}
	root := t.TempDir()
	write(t, root, "good.py", "def f():\n    return 1\n")
	write(t, root, "bad.py", "def f(:\n    return 1\n")

	v := NewSyntax(execx.New(execx.Options{Allowed: []string{"python3"}}))

	res, err := v.Validate(context.Background(), root, "good.py")
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, "py", res.Checked)

	res, err = v.Validate(context.Background(), root, "bad.py")
	require.NoError(t, err)
	assert.False(t, res.OK)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "Python Syntax", res.Errors[0].Type)
	assert.Contains(t, res.Errors[0].Message, "SyntaxError")
}

func TestPHPError(t *testing.T) {
	out := "PHP Parse error:  syntax error, unexpected '}' in /x/app.php on line 3\nErrors parsing /x/app.php"
	assert.Equal(t, "PHP Parse error:  syntax error, unexpected '}'", phpError(out))
}

func TestLineAt(t *testing.T) {
	data := []byte("a\nb\nc")
	assert.Equal(t, 1, lineAt(data, 0))
	assert.Equal(t, 2, lineAt(data, 2))
	assert.Equal(t, 3, lineAt(data, 100))
}
