package output

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/jbweber/bellows/internal/vm"
)

// YAMLFormatter formats resources as YAML.
type YAMLFormatter struct{}

// FormatList formats the VM listing as a YAML stream, one document per VM.
func (f *YAMLFormatter) FormatList(vms []vm.Summary) (string, error) {
	if len(vms) == 0 {
		return "", nil
	}

	var buf bytes.Buffer
	for i, v := range vms {
		data, err := yaml.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("failed to marshal VM %s to YAML: %w", v.Name, err)
		}
		if i > 0 {
			buf.WriteString("---\n")
		}
		buf.Write(data)
	}
	return buf.String(), nil
}

// FormatDetail formats a single VM as YAML.
func (f *YAMLFormatter) FormatDetail(d *vm.Detail) (string, error) {
	data, err := yaml.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("failed to marshal VM to YAML: %w", err)
	}
	return string(data), nil
}
