package pipeline

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/AustinTapp/FAST"
)

type (
	// Description is the file form of a pipeline.
	Description struct {
		Name           string              `yaml:"name"`
		Description    string              `yaml:"description"`
		ProcessObjects []ObjectDescription `yaml:"process_objects"`
		Connections    []Connection        `yaml:"connections"`
	}

	// ObjectDescription declares one node.
	ObjectDescription struct {
		ID         string                 `yaml:"id"`
		Type       string                 `yaml:"type"`
		Attributes map[string]interface{} `yaml:"attributes,omitempty"`
	}

	// Connection links an output port to an input port. Endpoints have
	// the form "id" or "id:port".
	Connection struct {
		From string `yaml:"from"`
		To   string `yaml:"to"`
	}

	// Endpoint is a parsed connection endpoint.
	Endpoint struct {
		ID   string
		Port int
	}
)

// Load reads and parses the description file.
func Load(path string) (*Description, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading pipeline %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML description.
func Parse(data []byte) (*Description, error) {
	var d Description
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to parse pipeline: %w", err)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// Validate checks ids are unique and connections reference declared
// nodes.
func (d *Description) Validate() error {
	ids := make(map[string]struct{}, len(d.ProcessObjects))
	for i, o := range d.ProcessObjects {
		switch {
		case o.ID == "":
			return fast.Configurationf(d.Name, "process object %d has no id", i)
		case o.Type == "":
			return fast.Configurationf(d.Name, "process object %s has no type", o.ID)
		}
		if _, ok := ids[o.ID]; ok {
			return fast.Configurationf(d.Name, "duplicate process object %s", o.ID)
		}
		ids[o.ID] = struct{}{}
	}
	for _, c := range d.Connections {
		for _, s := range []string{c.From, c.To} {
			e, err := ParseEndpoint(s)
			if err != nil {
				return fast.Configurationf(d.Name, "%v", err)
			}
			if _, ok := ids[e.ID]; !ok {
				return fast.Configurationf(d.Name, "connection %s -> %s references unknown process object %s", c.From, c.To, e.ID)
			}
		}
	}
	return nil
}

// ParseEndpoint parses "id" or "id:port". The port defaults to 0.
func ParseEndpoint(s string) (Endpoint, error) {
	id, port := s, ""
	if i := strings.LastIndexByte(s, ':'); i >= 0 {
		id, port = s[:i], s[i+1:]
	}
	if id == "" {
		return Endpoint{}, fmt.Errorf("invalid endpoint %q", s)
	}
	e := Endpoint{ID: id}
	if port == "" {
		return e, nil
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 0 {
		return Endpoint{}, fmt.Errorf("invalid endpoint %q: port must be a non-negative number", s)
	}
	e.Port = n
	return e, nil
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d", e.ID, e.Port)
}
