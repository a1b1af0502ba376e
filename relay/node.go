package relay

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Node is one relay node definition. Parameters hold the raw, possibly
// expression-valued configuration (see Config for the resolved shape);
// Properties hold node-level constants available to expressions.
type Node struct {
	ID         string         `yaml:"id"`
	Parameters map[string]any `yaml:"parameters"`
	Properties map[string]any `yaml:"properties"`
}

type App struct {
	Nodes map[string]Node
}

// NewApp loads every node definition from nodesDir.
func NewApp(nodesDir string) (*App, error) {
	files, err := filepath.Glob(filepath.Join(nodesDir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("error reading directory: %w", err)
	}

	app := App{Nodes: make(map[string]Node)}
	for _, file := range files {
		node, err := readNode(file)
		if err != nil {
			return nil, err
		}
		app.RegisterNode(node)
	}
	return &app, nil
}

func (a *App) RegisterNode(node Node) {
	a.Nodes[node.ID] = node
}

func readNode(file string) (Node, error) {
	yamlFile, err := os.ReadFile(file)
	if err != nil {
		return Node{}, fmt.Errorf("error reading YAML file: %w", err)
	}

	var node Node
	if err := yaml.Unmarshal(yamlFile, &node); err != nil {
		return Node{}, fmt.Errorf("error unmarshalling YAML: %w", err)
	}
	if node.ID == "" {
		return Node{}, fmt.Errorf("node definition %s has no id", file)
	}

	for k, v := range node.Properties {
		resolved, err := resolveEnvVar(v)
		if err != nil {
			return Node{}, fmt.Errorf("node %s: %w", node.ID, err)
		}
		node.Properties[k] = resolved
	}
	return node, nil
}

// envVarPattern matches ${VAR} and ${VAR:default} syntax
var envVarPattern = regexp.MustCompile(`^\$\{([A-Z_][A-Z0-9_]*)(:[^}]*)?\}$`)

// resolveEnvVar resolves environment variables in property values.
// Connection strings are the typical use: never inline credentials in a node
// definition, reference them as ${BUS_CONNECTION_STRING}.
func resolveEnvVar(value any) (any, error) {
	strValue, ok := value.(string)
	if !ok {
		return value, nil
	}

	matches := envVarPattern.FindStringSubmatch(strValue)
	if matches == nil {
		return value, nil
	}

	varName := matches[1]
	defaultPart := matches[2]

	if envValue, exists := os.LookupEnv(varName); exists {
		return envValue, nil
	}
	if defaultPart != "" {
		return strings.TrimPrefix(defaultPart, ":"), nil
	}
	return nil, fmt.Errorf("required environment variable not set: %s", varName)
}
