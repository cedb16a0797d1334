package kb

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// YAMLBundleSource implements Source by reading a directory of YAML
// fixture files instead of querying Postgres — the KB-equivalent of the
// teacher's SQLite "Lite Mode" fallback (cmd/helm/lite_mode.go): a local
// developer, or an offline CI run, points KB_BUNDLE_DIR at a checked-in
// bundle and gets a working Loader without a database.
type YAMLBundleSource struct {
	dir string
}

// NewYAMLBundleSource points at a directory expected to contain
// ncm.yaml, cest_rules.yaml, segments.yaml, examples.yaml, golden_set.yaml.
// Any file that is absent yields an empty slice for that source, not an
// error, so a partial bundle (e.g. no golden set yet) still loads.
func NewYAMLBundleSource(dir string) *YAMLBundleSource {
	return &YAMLBundleSource{dir: dir}
}

func (s *YAMLBundleSource) LoadNCM(_ context.Context) ([]NCMNode, error) {
	var out []NCMNode
	err := readYAML(filepath.Join(s.dir, "ncm.yaml"), &out)
	return out, err
}

func (s *YAMLBundleSource) LoadCEST(_ context.Context) ([]CESTRule, error) {
	var out []CESTRule
	err := readYAML(filepath.Join(s.dir, "cest_rules.yaml"), &out)
	return out, err
}

func (s *YAMLBundleSource) LoadSegments(_ context.Context) ([]Segment, error) {
	var out []Segment
	err := readYAML(filepath.Join(s.dir, "segments.yaml"), &out)
	return out, err
}

func (s *YAMLBundleSource) LoadExamples(_ context.Context) ([]ProductExample, error) {
	var out []ProductExample
	err := readYAML(filepath.Join(s.dir, "examples.yaml"), &out)
	return out, err
}

func (s *YAMLBundleSource) LoadGolden(_ context.Context) ([]GoldenSetEntry, error) {
	var out []GoldenSetEntry
	err := readYAML(filepath.Join(s.dir, "golden_set.yaml"), &out)
	return out, err
}

func readYAML(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("kb: read bundle file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("kb: parse bundle file %s: %w", path, err)
	}
	return nil
}
