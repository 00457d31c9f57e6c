package hub

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/goccy/go-json"

	"github.com/samcharles93/textgen/internal/safetensors"
)

// Files fetched by FetchModel. Only the tokenizer is required.
var (
	RequiredFiles = []string{"tokenizer.json"}
	OptionalFiles = []string{"tokenizer_config.json", "generation_config.json", "config.json"}
)

const DefaultShardIndex = "model.safetensors.index.json"

type shardIndex struct {
	WeightMap map[string]string `json:"weight_map"`
}

// ParseShardIndex returns the unique shard files named by a
// model.safetensors.index.json, sorted.
func ParseShardIndex(raw []byte) ([]string, error) {
	var idx shardIndex
	if err := json.Unmarshal(raw, &idx); err != nil {
		return nil, fmt.Errorf("parse shard index: %w", err)
	}
	if len(idx.WeightMap) == 0 {
		return nil, fmt.Errorf("parse shard index: weight_map is empty")
	}
	seen := make(map[string]struct{}, 4)
	for _, file := range idx.WeightMap {
		seen[file] = struct{}{}
	}
	files := make([]string, 0, len(seen))
	for f := range seen {
		files = append(files, f)
	}
	sort.Strings(files)
	return files, nil
}

// SafetensorsShards fetches the index and then every shard it lists,
// returning the local shard paths in name order. Each shard header is
// checked after download.
func (c *Client) SafetensorsShards(ctx context.Context, repo, revision, index string) ([]string, error) {
	if index == "" {
		index = DefaultShardIndex
	}
	idxPath, err := c.Fetch(ctx, repo, revision, index)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(idxPath)
	if err != nil {
		return nil, err
	}
	files, err := ParseShardIndex(raw)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(files))
	for _, f := range files {
		p, err := c.Fetch(ctx, repo, revision, f)
		if err != nil {
			return nil, err
		}
		st, err := safetensors.Open(p)
		if err != nil {
			// A shard that matches its checksum but not its own header was
			// truncated upstream; drop it so the next fetch starts clean.
			_ = os.Remove(p)
			_ = os.Remove(p + checksumSuffix)
			return nil, fmt.Errorf("hub: invalid shard %s: %w", f, err)
		}
		c.log().Debug("shard ok", "file", f, "tensors", len(st.Tensors), "params", st.Params())
		paths = append(paths, p)
	}
	return paths, nil
}

// FetchModel downloads the tokenizer and config files of repo and returns
// the directory holding them. Missing optional files are skipped.
func (c *Client) FetchModel(ctx context.Context, repo, revision string) (string, error) {
	if revision == "" {
		revision = DefaultRevision
	}
	for _, f := range RequiredFiles {
		if _, err := c.Fetch(ctx, repo, revision, f); err != nil {
			return "", err
		}
	}
	for _, f := range OptionalFiles {
		if _, err := c.Fetch(ctx, repo, revision, f); err != nil {
			if errors.Is(err, ErrNotFound) {
				c.log().Debug("optional file not present", "repo", repo, "file", f)
				continue
			}
			return "", err
		}
	}
	return c.CachePath(repo, revision, ".")
}
