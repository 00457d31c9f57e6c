package inference

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoaderFromDir(t *testing.T) {
	t.Parallel()

	tokPath := writeTokenizer(t)
	dir := filepath.Dir(tokPath)
	require.NoError(t, os.WriteFile(filepath.Join(dir, TokenizerConfigFile),
		[]byte(`{"eos_token":"<eos>","add_bos_token":false}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, GenerationConfigFile),
		[]byte(`{"temperature":0.7,"top_p":0.9,"top_k":20,"repetition_penalty":1.05}`), 0o644))

	l := LoaderFromDir(dir, Loader{Hidden: 4})
	assert.Equal(t, tokPath, l.TokenizerPath)
	assert.NotEmpty(t, l.TokenizerConfigPath)
	assert.NotEmpty(t, l.GenerationConfigPath)

	res, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, "toy", res.ModelKind)
	assert.Equal(t, 6, res.VocabSize)
	assert.Equal(t, "<eos>", res.GenerationDefaults.EndMarker)
	require.NotNil(t, res.GenerationDefaults.Temperature)
	assert.InDelta(t, 0.7, *res.GenerationDefaults.Temperature, 1e-9)
	assert.Equal(t, 5, res.TokenizerConfig.EOSTokenID)

	req := ResolveRequest(RequestOptions{Prompt: "hi", Steps: ptr(4)}, res.GenerationDefaults)
	out, err := res.Engine.Generate(context.Background(), &req, nil)
	require.NoError(t, err)
	assert.LessOrEqual(t, out.Stats.TokensGenerated, 4)
}

func TestLoaderErrors(t *testing.T) {
	t.Parallel()

	_, err := Loader{}.Load()
	assert.Error(t, err)

	_, err = Loader{TokenizerPath: writeTokenizer(t), ModelKind: "llama"}.Load()
	assert.ErrorContains(t, err, "unknown model kind")

	_, err = Loader{TokenizerPath: filepath.Join(t.TempDir(), "missing.json")}.Load()
	assert.ErrorContains(t, err, "load tokenizer.json")

	bad := filepath.Join(t.TempDir(), GenerationConfigFile)
	require.NoError(t, os.WriteFile(bad, []byte("{"), 0o644))
	_, err = Loader{TokenizerPath: writeTokenizer(t), GenerationConfigPath: bad}.Load()
	assert.ErrorContains(t, err, "parse generation config")
}

func TestLoaderRegisteredModel(t *testing.T) {
	RegisterModel("scripted-test", func(opts ModelOptions) (Model, error) {
		return &scriptedModel{vocab: opts.VocabSize, pick: always(4)}, nil
	})
	assert.Contains(t, ModelKinds(), "scripted-test")

	res, err := Loader{TokenizerPath: writeTokenizer(t), ModelKind: "scripted-test"}.Load()
	require.NoError(t, err)
	out, err := res.Engine.Generate(context.Background(), greedyRequest("hi", 3), nil)
	require.NoError(t, err)
	assert.Equal(t, "!!!", out.Text)
}
