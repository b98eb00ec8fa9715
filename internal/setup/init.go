// Package setup handles cloudcase project initialization.
package setup

import (
	"fmt"
	"os"
	"path/filepath"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/takumin/cloudcase/internal/model"
)

const templateCase = `# Example case

Describe what the agent should do in plain language, one step per line.

1. Open the settings app.
2. Navigate to the display section.
3. Report whether dark mode is enabled.

Finish with a verdict the runner can parse:

Reply with {"status": "pass"} or {"status": "fail", "reason": "..."} at the end.
`

// Run scaffolds a new project in the given directory: a config.yaml, a cases
// directory with a template, and an empty results directory. projectName
// defaults to the directory basename.
func Run(projectDir, projectName string) error {
	absDir, err := filepath.Abs(projectDir)
	if err != nil {
		return fmt.Errorf("resolve project dir: %w", err)
	}

	configPath := filepath.Join(absDir, "config.yaml")
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("%s already exists", configPath)
	}

	for _, d := range []string{"cases", "results"} {
		if err := os.MkdirAll(filepath.Join(absDir, d), 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", d, err)
		}
	}

	if projectName == "" {
		projectName = filepath.Base(absDir)
	}
	cfg := defaultConfig(projectName)
	content, err := yamlv3.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(configPath, content, 0644); err != nil {
		return fmt.Errorf("write config.yaml: %w", err)
	}

	templatePath := filepath.Join(absDir, "cases", "template.md")
	if err := os.WriteFile(templatePath, []byte(templateCase), 0644); err != nil {
		return fmt.Errorf("write case template: %w", err)
	}

	return nil
}

func defaultConfig(projectName string) model.Config {
	cfg := model.Config{}
	cfg.Project.Name = projectName
	cfg.Project.Description = "Remote agent test cases for " + projectName
	cfg.API.Host = "https://open.example.com/api/v1"
	cfg.API.ProductID = "your-product-id"
	cfg.Pods.IDs = []string{"your-pod-id"}
	cfg.ApplyDefaults()
	return cfg
}
