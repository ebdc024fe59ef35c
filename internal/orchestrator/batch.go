package orchestrator

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultRef is used when a request does not name a branch.
const DefaultRef = "main"

// RunRequest asks for one workflow to be dispatched and followed to completion.
type RunRequest struct {
	Owner    string         `json:"owner" yaml:"owner"`
	Repo     string         `json:"repo" yaml:"repo"`
	Workflow string         `json:"workflow" yaml:"workflow"`
	Ref      string         `json:"ref,omitempty" yaml:"ref,omitempty"`
	Inputs   map[string]any `json:"inputs,omitempty" yaml:"inputs,omitempty"`
}

// Validate reports the first missing required field.
func (r RunRequest) Validate() error {
	var missing []string
	if strings.TrimSpace(r.Owner) == "" {
		missing = append(missing, "owner")
	}
	if strings.TrimSpace(r.Repo) == "" {
		missing = append(missing, "repo")
	}
	if strings.TrimSpace(r.Workflow) == "" {
		missing = append(missing, "workflow")
	}
	if len(missing) > 0 {
		return fmt.Errorf("invalid run request: missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// WorkflowStem is the workflow file name without its .yml or .yaml extension.
func (r RunRequest) WorkflowStem() string {
	name := r.Workflow
	for _, ext := range []string{".yml", ".yaml"} {
		if strings.HasSuffix(name, ext) {
			return strings.TrimSuffix(name, ext)
		}
	}
	return name
}

// DirName is the artifact directory name for the request at position index.
func (r RunRequest) DirName(index int) string {
	return fmt.Sprintf("%s_%s_%d", r.Repo, r.WorkflowStem(), index+1)
}

func (r RunRequest) withDefaults() RunRequest {
	if r.Ref == "" {
		r.Ref = DefaultRef
	}
	if r.Inputs == nil {
		r.Inputs = map[string]any{}
	}
	return r
}

// ParseBatch decodes a JSON array of run requests.
func ParseBatch(data []byte) ([]RunRequest, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errors.New("workflow config is empty")
	}

	// Numeric inputs are kept as json.Number so large integers are forwarded verbatim.
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var requests []RunRequest
	if err := dec.Decode(&requests); err != nil {
		return nil, fmt.Errorf("failed to parse workflow config: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("failed to parse workflow config: unexpected data after the request list")
	}
	return normalize(requests), nil
}

// ParseBatchYAML decodes a YAML sequence of run requests.
func ParseBatchYAML(data []byte) ([]RunRequest, error) {
	var requests []RunRequest
	if err := yaml.Unmarshal(data, &requests); err != nil {
		return nil, fmt.Errorf("failed to parse workflow config: %w", err)
	}
	if requests == nil {
		return nil, errors.New("workflow config is empty")
	}
	return normalize(requests), nil
}

// LoadBatchFile reads a batch from a .json, .yaml or .yml file.
func LoadBatchFile(path string) ([]RunRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseBatchYAML(data)
	case ".json", "":
		return ParseBatch(data)
	default:
		return nil, fmt.Errorf("unsupported workflow config format %q", filepath.Ext(path))
	}
}

func normalize(requests []RunRequest) []RunRequest {
	out := make([]RunRequest, len(requests))
	for i, r := range requests {
		out[i] = r.withDefaults()
	}
	return out
}
