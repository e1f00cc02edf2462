package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/zjrosen/parley/internal/log"
)

// DefaultConfigTemplate returns the commented YAML written on first run.
func DefaultConfigTemplate() string {
	return `# parley configuration
# See https://github.com/zjrosen/parley for documentation.

database:
  # SQLite database file. Created and migrated on first start.
  path: .parley/parley.db

uploads:
  # Directory holding user uploads and generated files.
  root: chat_uploads
  # Public path prefix the web layer serves the upload root under.
  url_prefix: /chat_uploads

reply:
  # Pause before a reply worker is spawned. Gives Cancel a head start.
  dispatch_delay: 1500ms
  # Sleep increment while waiting on a worker result.
  poll_interval: 100ms
  # Time a cancelled worker gets to exit before SIGKILL.
  grace_period: 1s
  # Write retries on database contention.
  commit_attempts: 3
  # Wall-clock cap per generation. 0 disables the cap.
  generation_timeout: 0

engine:
  # Generation engine: "echo" (development) or "http".
  # Values in the settings table override this section.
  name: echo
  endpoint: http://localhost:8601/generate
  # system_prompt: ""

tracing:
  enabled: false
  # Exporter: "none", "file", "stdout", or "otlp".
  exporter: file
  otlp_endpoint: localhost:4317
  sample_rate: 1.0
`
}

// WriteDefaultConfig writes the default config template to the given path,
// creating parent directories as needed.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "Writing default config", "path", configPath)

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "Created default config", "path", configPath)
	return nil
}

// SaveEngine updates the engine section of the config file in place.
// Comments and formatting in other sections are preserved by editing the
// yaml.Node tree instead of re-marshaling the whole Config.
func SaveEngine(configPath string, engine EngineConfig) error {
	data, err := os.ReadFile(configPath) //nolint:gosec // G304: operator-supplied config path
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("reading config: %w", err)
	}

	var doc yaml.Node
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parsing config: %w", err)
		}
	}

	engineNode, err := buildEngineNode(engine)
	if err != nil {
		return fmt.Errorf("building engine node: %w", err)
	}

	if doc.Kind == 0 {
		// Empty or new file - create document structure
		doc = yaml.Node{
			Kind: yaml.DocumentNode,
			Content: []*yaml.Node{
				{
					Kind: yaml.MappingNode,
					Content: []*yaml.Node{
						{Kind: yaml.ScalarNode, Value: "engine"},
						engineNode,
					},
				},
			},
		}
	} else if doc.Kind == yaml.DocumentNode && len(doc.Content) > 0 {
		root := doc.Content[0]
		if root.Kind == yaml.MappingNode {
			found := false
			for i := 0; i < len(root.Content)-1; i += 2 {
				if root.Content[i].Value == "engine" {
					root.Content[i+1] = engineNode
					found = true
					break
				}
			}
			if !found {
				root.Content = append(root.Content,
					&yaml.Node{Kind: yaml.ScalarNode, Value: "engine"},
					engineNode,
				)
			}
		}
	}

	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(&doc); err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	_ = encoder.Close()

	if err := os.WriteFile(configPath, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// buildEngineNode builds a yaml mapping node for the engine section.
func buildEngineNode(engine EngineConfig) (*yaml.Node, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	add := func(key, value string) {
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: key},
			&yaml.Node{Kind: yaml.ScalarNode, Value: value},
		)
	}
	if engine.Name == "" {
		return nil, fmt.Errorf("engine name is required")
	}
	add("name", engine.Name)
	if engine.Endpoint != "" {
		add("endpoint", engine.Endpoint)
	}
	if engine.SystemPrompt != "" {
		add("system_prompt", engine.SystemPrompt)
	}
	return node, nil
}
