package permission

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadFromFile reads a Policy from a YAML file and validates it.
func LoadFromFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals and validates a YAML policy document.
func Parse(data []byte) (*Policy, error) {
	p := Policy{
		Enabled:             true,
		DefaultLevel:        LevelRequireApproval,
		ApprovalTimeoutSecs: DefaultApprovalTimeoutSecs,
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// DefaultApprovalTimeoutSecs is applied when a policy file omits the timeout.
const DefaultApprovalTimeoutSecs = 300
