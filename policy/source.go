package policy

import (
	"context"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/saiset-co/sai-cache/types"
)

// NewSource builds the PolicySource described by config. A nil source with a
// nil error means no external source is configured.
func NewSource(config *types.PolicySourceConfig) (types.PolicySource, error) {
	if config == nil {
		return nil, nil
	}

	switch config.Type {
	case "", "none":
		return nil, nil
	case "file":
		return NewFileSource(config.Path), nil
	case "sqlite":
		return NewSQLiteSource(config.Path), nil
	case "clover":
		return NewCloverSource(config.Path), nil
	default:
		return nil, types.Errorf(types.ErrPolicySourceUnknown, "type: %s", config.Type)
	}
}

type policyFile struct {
	Policies []types.PolicyRecord `yaml:"policies"`
}

// FileSource reads policy records from a YAML document with a top-level "policies" list.
type FileSource struct {
	path string
}

func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

func (f *FileSource) Name() string { return "file" }

func (f *FileSource) Policies(ctx context.Context) ([]types.PolicyRecord, error) {
	type result struct {
		data []byte
		err  error
	}

	resultChan := make(chan result, 1)

	go func() {
		data, err := os.ReadFile(f.path)
		resultChan <- result{data: data, err: err}
	}()

	var data []byte
	select {
	case res := <-resultChan:
		if res.err != nil {
			return nil, types.WrapError(res.err, "failed to read policy file")
		}
		data = res.data
	case <-ctx.Done():
		return nil, types.WrapError(ctx.Err(), "policy file read timeout")
	}

	var doc policyFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, types.WrapError(err, "failed to parse policy file")
	}

	return doc.Policies, nil
}
