package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// WorkflowDefinition is the immutable snapshot used for one execution.
type WorkflowDefinition struct {
	ID    string `json:"id,omitempty" yaml:"id,omitempty"`
	Name  string `json:"name" yaml:"name"`
	Nodes []Node `json:"nodes" yaml:"nodes"`
	Edges []Edge `json:"edges" yaml:"edges"`
}

// Node is one step of a workflow.
type Node struct {
	ID            string         `json:"id" yaml:"id"`
	Name          string         `json:"name,omitempty" yaml:"name,omitempty"`
	Type          string         `json:"type" yaml:"type"`
	Config        map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
	CredentialRef string         `json:"credential_ref,omitempty" yaml:"credential_ref,omitempty"`
}

// Edge is a directed, optionally conditional link.
type Edge struct {
	Source    string     `json:"source" yaml:"source"`
	Target    string     `json:"target" yaml:"target"`
	Condition *Condition `json:"condition,omitempty" yaml:"condition,omitempty"`
}

// Condition matches when the value at Field in the upstream output equals Equals.
type Condition struct {
	Field  string `json:"field" yaml:"field"`
	Equals any    `json:"equals" yaml:"equals"`
}

// DisplayName returns the node name, falling back to its id.
func (n Node) DisplayName() string {
	if n.Name != "" {
		return n.Name
	}
	return n.ID
}

// CredentialID returns the credential reference from the node or its config.
func (n Node) CredentialID() string {
	if n.CredentialRef != "" {
		return n.CredentialRef
	}
	for _, k := range []string{"credential_id", "credentialId", "credentialRef"} {
		if s, ok := n.Config[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// UnmarshalJSON accepts "connections" for edges and "_id" for id.
func (d *WorkflowDefinition) UnmarshalJSON(data []byte) error {
	type plain WorkflowDefinition
	var aux struct {
		plain
		Connections []Edge `json:"connections"`
		MongoID     string `json:"_id"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*d = WorkflowDefinition(aux.plain)
	if len(d.Edges) == 0 && len(aux.Connections) > 0 {
		d.Edges = aux.Connections
	}
	if d.ID == "" {
		d.ID = aux.MongoID
	}
	return nil
}

// UnmarshalYAML accepts "connections" for edges.
func (d *WorkflowDefinition) UnmarshalYAML(value *yaml.Node) error {
	type plain WorkflowDefinition
	var aux struct {
		plain       `yaml:",inline"`
		Connections []Edge `yaml:"connections"`
	}
	if err := value.Decode(&aux); err != nil {
		return err
	}
	*d = WorkflowDefinition(aux.plain)
	if len(d.Edges) == 0 && len(aux.Connections) > 0 {
		d.Edges = aux.Connections
	}
	return nil
}

// UnmarshalJSON accepts "conditions" for condition.
func (e *Edge) UnmarshalJSON(data []byte) error {
	type plain Edge
	var aux struct {
		plain
		Conditions *Condition `json:"conditions"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*e = Edge(aux.plain)
	if e.Condition == nil {
		e.Condition = aux.Conditions
	}
	return nil
}

// UnmarshalYAML accepts "conditions" for condition.
func (e *Edge) UnmarshalYAML(value *yaml.Node) error {
	type plain Edge
	var aux struct {
		plain      `yaml:",inline"`
		Conditions *Condition `yaml:"conditions"`
	}
	if err := value.Decode(&aux); err != nil {
		return err
	}
	*e = Edge(aux.plain)
	if e.Condition == nil {
		e.Condition = aux.Conditions
	}
	return nil
}

// ParseJSON decodes a workflow definition from JSON.
func ParseJSON(data []byte) (*WorkflowDefinition, error) {
	var def WorkflowDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to parse workflow JSON: %w", err)
	}
	return &def, nil
}

// ParseYAML decodes a workflow definition from YAML.
func ParseYAML(data []byte) (*WorkflowDefinition, error) {
	var def WorkflowDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to parse workflow YAML: %w", err)
	}
	return &def, nil
}

// LoadFile reads a .json, .yaml or .yml workflow definition.
func LoadFile(path string) (*WorkflowDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(data)
	default:
		return ParseJSON(data)
	}
}

// Clone returns a deep copy. Per-run write-backs go to the copy.
func (d *WorkflowDefinition) Clone() *WorkflowDefinition {
	if d == nil {
		return nil
	}
	out := &WorkflowDefinition{ID: d.ID, Name: d.Name}
	if d.Nodes != nil {
		out.Nodes = make([]Node, len(d.Nodes))
		for i, n := range d.Nodes {
			n.Config = CloneConfig(n.Config)
			out.Nodes[i] = n
		}
	}
	if d.Edges != nil {
		out.Edges = make([]Edge, len(d.Edges))
		for i, e := range d.Edges {
			if e.Condition != nil {
				c := *e.Condition
				c.Equals = deepCopy(c.Equals)
				e.Condition = &c
			}
			out.Edges[i] = e
		}
	}
	return out
}

// Node returns the node with the given id.
func (d *WorkflowDefinition) Node(id string) (Node, bool) {
	for _, n := range d.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// CloneConfig deep-copies a node config.
func CloneConfig(cfg map[string]any) map[string]any {
	if cfg == nil {
		return nil
	}
	out, _ := deepCopy(cfg).(map[string]any)
	return out
}

func deepCopy(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = deepCopy(val)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = deepCopy(val)
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(x))
		for k, val := range x {
			out[k] = val
		}
		return out
	case []string:
		return append([]string(nil), x...)
	default:
		return v
	}
}
