package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/textgen/internal/inference"
	"github.com/samcharles93/textgen/internal/logger"
)

const byteLevelTokenizer = `{
	"model":{"type":"BPE","vocab":{"h":0,"i":1,"hi":2,"Ġ":3,"!":4},"merges":["h i"]},
	"pre_tokenizer":{"type":"ByteLevel"},
	"decoder":{"type":"ByteLevel"},
	"added_tokens":[{"id":5,"content":"<eos>","special":true}]
}`

func TestLoadModelFromDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "tiny")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, inference.TokenizerFile), []byte(byteLevelTokenizer), 0o644))

	prevModel, prevKind, prevHidden := modelPath, modelKind, hidden
	modelPath, modelKind, hidden = dir, "toy", 8
	t.Cleanup(func() { modelPath, modelKind, hidden = prevModel, prevKind, prevHidden })

	ctx := logger.WithContext(context.Background(), logger.Discard())
	loaded, err := loadModel(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = loaded.Engine.Close() })
	assert.Equal(t, "toy", loaded.ModelKind)
	assert.Equal(t, 6, loaded.VocabSize)

	greedy := true
	steps := 4
	req := inference.ResolveRequest(inference.RequestOptions{Prompt: "hi", Steps: &steps, Greedy: &greedy}, loaded.GenerationDefaults)

	var out bytes.Buffer
	sw := NewStreamWriter(&out, StreamInstant, false)
	res, err := loaded.Engine.Generate(ctx, &req, sw.Write)
	require.NoError(t, err)
	assert.Equal(t, res.Text, sw.Close())
	assert.LessOrEqual(t, res.Stats.TokensGenerated, steps)

	echo := true
	req = inference.ResolveRequest(inference.RequestOptions{Prompt: "hi", Steps: &steps, Greedy: &greedy, EchoPrompt: &echo}, loaded.GenerationDefaults)
	sw = NewStreamWriter(&bytes.Buffer{}, StreamInstant, false)
	res, err = loaded.Engine.Generate(ctx, &req, sw.Write)
	require.NoError(t, err)
	assert.Contains(t, res.PromptText, "hi")
	assert.Equal(t, res.PromptText+res.Text, sw.Close())

	var stats bytes.Buffer
	printStats(&stats, res)
	assert.True(t, strings.HasPrefix(stats.String(), "Stats: "))
	assert.Contains(t, stats.String(), "stop="+res.StopReason)
}

func TestRunEchoesPromptByDefault(t *testing.T) {
	for _, f := range runCmd().Flags {
		if bf, ok := f.(*cli.BoolFlag); ok && bf.Name == "echo-prompt" {
			assert.True(t, bf.Value)
			return
		}
	}
	t.Fatal("echo-prompt flag not registered")
}

func TestLoadModelRejectsFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "model.bin")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	prev := modelPath
	modelPath = file
	t.Cleanup(func() { modelPath = prev })

	_, err := loadModel(logger.WithContext(context.Background(), logger.Discard()))
	assert.Error(t, err)
}

func TestJoinInts(t *testing.T) {
	assert.Equal(t, "[]", joinInts(nil))
	assert.Equal(t, "[1, 22, 3]", joinInts([]int{1, 22, 3}))
}
