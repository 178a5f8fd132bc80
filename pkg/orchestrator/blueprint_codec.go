package orchestrator

import (
	"github.com/goccy/go-yaml"

	"github.com/cyroid/cyroid/pkg/models"
)

// ParseBlueprint decodes a blueprint document. Documents are yaml, which
// admits the json form too. Unknown and duplicate keys are rejected so a
// typoed field fails the import instead of silently becoming a default.
func ParseBlueprint(data []byte) (*Blueprint, error) {
	var bp Blueprint
	if err := yaml.UnmarshalWithOptions(data, &bp, yaml.Strict()); err != nil {
		return nil, models.Validationf("parse blueprint: %v", err)
	}
	return &bp, nil
}

// Render encodes the blueprint as a yaml document.
func (bp *Blueprint) Render() ([]byte, error) {
	return yaml.Marshal(bp)
}
