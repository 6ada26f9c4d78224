// Package prompt holds the text catalog used by the classifier, the reply
// generator and the operator-facing system messages.
package prompt

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var defaultCatalog []byte

// Catalog is the set of prompts and canned texts.
type Catalog struct {
	ClassifierSystem string `yaml:"classifier_system"`
	ReplySystem      string `yaml:"reply_system"`
	FallbackReply    string `yaml:"fallback_reply"`
	AssignedToHuman  string `yaml:"assigned_to_human"`
	ResumedByAI      string `yaml:"resumed_by_ai"`
	RateLimited      string `yaml:"rate_limited"`
}

// Default returns the embedded catalog.
func Default() *Catalog {
	c, err := parse(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("embedded prompt catalog: %v", err))
	}
	return c
}

// Load reads a catalog from path. Keys missing in the file keep their
// embedded defaults.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompt catalog: %w", err)
	}

	c := Default()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse prompt catalog %s: %w", path, err)
	}
	return c, c.validate()
}

// AssignedMessage renders the system message posted on a human takeover.
func (c *Catalog) AssignedMessage(operatorName string) string {
	return fmt.Sprintf(c.AssignedToHuman, operatorName)
}

func parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, c.validate()
}

func (c *Catalog) validate() error {
	switch {
	case c.ClassifierSystem == "":
		return fmt.Errorf("classifier_system is empty")
	case c.ReplySystem == "":
		return fmt.Errorf("reply_system is empty")
	case c.FallbackReply == "":
		return fmt.Errorf("fallback_reply is empty")
	}
	return nil
}
