package output

import (
	"encoding/json"
	"fmt"

	"github.com/jbweber/bellows/internal/vm"
)

// JSONFormatter formats resources as JSON.
type JSONFormatter struct{}

// FormatList formats the VM listing as a JSON array.
func (f *JSONFormatter) FormatList(vms []vm.Summary) (string, error) {
	if len(vms) == 0 {
		return "[]\n", nil
	}

	data, err := json.MarshalIndent(vms, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal VM list to JSON: %w", err)
	}
	return string(data) + "\n", nil
}

// FormatDetail formats a single VM as JSON.
func (f *JSONFormatter) FormatDetail(d *vm.Detail) (string, error) {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal VM to JSON: %w", err)
	}
	return string(data) + "\n", nil
}
