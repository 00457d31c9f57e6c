package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/samcharles93/textgen/internal/inference"
)

func writeModelDir(t *testing.T, root, name string) string {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	if err := os.WriteFile(filepath.Join(dir, inference.TokenizerFile), []byte("{}"), 0o644); err != nil {
		t.Fatalf("write tokenizer in %s: %v", name, err)
	}
	return dir
}

func withTTY(t *testing.T, tty bool) {
	t.Helper()
	prev := stdinIsTTY
	stdinIsTTY = func() bool { return tty }
	t.Cleanup(func() { stdinIsTTY = prev })
}

func TestDiscoverModelDirsSorted(t *testing.T) {
	dir := t.TempDir()
	b := writeModelDir(t, dir, "beta")
	a := writeModelDir(t, dir, "alpha")
	if err := os.MkdirAll(filepath.Join(dir, "no-tokenizer"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "stray.json"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write stray file: %v", err)
	}

	got, err := discoverModelDirs(dir)
	if err != nil {
		t.Fatalf("discoverModelDirs returned error: %v", err)
	}
	want := []string{a, b}
	if len(got) != len(want) {
		t.Fatalf("unexpected model count: got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected ordering at %d: got %q want %q", i, got[i], want[i])
		}
	}
}

func TestDiscoverModelDirsRejectsFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "models.txt")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := discoverModelDirs(file); err == nil {
		t.Fatalf("expected error for a file path")
	}
}

func TestResolveRunModelPath(t *testing.T) {
	t.Run("model flag bypasses env", func(t *testing.T) {
		t.Setenv(envModelsDir, "")
		got, err := resolveRunModelPath("/tmp/models/gemma/", "", bytes.NewBuffer(nil), io.Discard)
		if err != nil {
			t.Fatalf("resolveRunModelPath returned error: %v", err)
		}
		if got != filepath.Clean("/tmp/models/gemma") {
			t.Fatalf("unexpected model path: got %q", got)
		}
	})

	t.Run("nothing configured is an error", func(t *testing.T) {
		t.Setenv(envModelsDir, "")
		prev := tokenizerJSONPath
		tokenizerJSONPath = ""
		defer func() { tokenizerJSONPath = prev }()

		if _, err := resolveRunModelPath("", "", bytes.NewBuffer(nil), io.Discard); err == nil {
			t.Fatalf("expected error without model, models path or tokenizer")
		}
	})

	t.Run("tokenizer flag alone is enough", func(t *testing.T) {
		t.Setenv(envModelsDir, "")
		prev := tokenizerJSONPath
		tokenizerJSONPath = "tiktoken:cl100k_base"
		defer func() { tokenizerJSONPath = prev }()

		got, err := resolveRunModelPath("", "", bytes.NewBuffer(nil), io.Discard)
		if err != nil {
			t.Fatalf("resolveRunModelPath returned error: %v", err)
		}
		if got != "" {
			t.Fatalf("expected no model directory, got %q", got)
		}
	})

	t.Run("single model selects automatically", func(t *testing.T) {
		dir := t.TempDir()
		only := writeModelDir(t, dir, "only")
		t.Setenv(envModelsDir, dir)
		withTTY(t, false)

		got, err := resolveRunModelPath("", "", bytes.NewBuffer(nil), io.Discard)
		if err != nil {
			t.Fatalf("resolveRunModelPath returned error: %v", err)
		}
		if got != only {
			t.Fatalf("unexpected model path: got %q want %q", got, only)
		}
	})

	t.Run("models path flag wins over env", func(t *testing.T) {
		flagDir := t.TempDir()
		want := writeModelDir(t, flagDir, "picked")
		envDir := t.TempDir()
		writeModelDir(t, envDir, "ignored")
		t.Setenv(envModelsDir, envDir)
		withTTY(t, false)

		got, err := resolveRunModelPath("", flagDir, bytes.NewBuffer(nil), io.Discard)
		if err != nil {
			t.Fatalf("resolveRunModelPath returned error: %v", err)
		}
		if got != want {
			t.Fatalf("unexpected model path: got %q want %q", got, want)
		}
	})

	t.Run("multiple models requires tty", func(t *testing.T) {
		dir := t.TempDir()
		writeModelDir(t, dir, "a")
		writeModelDir(t, dir, "b")
		t.Setenv(envModelsDir, dir)
		withTTY(t, false)

		if _, err := resolveRunModelPath("", "", bytes.NewBuffer(nil), io.Discard); err == nil {
			t.Fatalf("expected error when multiple models and stdin is not a tty")
		}
	})

	t.Run("interactive selection chooses sorted index", func(t *testing.T) {
		dir := t.TempDir()
		b := writeModelDir(t, dir, "b")
		writeModelDir(t, dir, "a")
		t.Setenv(envModelsDir, dir)
		withTTY(t, true)

		got, err := resolveRunModelPath("", "", bytes.NewBufferString("9\n2\n"), io.Discard)
		if err != nil {
			t.Fatalf("resolveRunModelPath returned error: %v", err)
		}
		if got != b {
			t.Fatalf("unexpected model selection: got %q want %q", got, b)
		}
	})

	t.Run("interactive selection fails on eof", func(t *testing.T) {
		dir := t.TempDir()
		writeModelDir(t, dir, "a")
		writeModelDir(t, dir, "b")
		t.Setenv(envModelsDir, dir)
		withTTY(t, true)

		if _, err := resolveRunModelPath("", "", bytes.NewBufferString(""), io.Discard); err == nil {
			t.Fatalf("expected error when stdin closes without a selection")
		}
	})
}
