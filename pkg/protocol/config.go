package protocol

import (
	"encoding/json"
	"fmt"
)

// DecodeConfig copies a raw node configuration into a typed config struct.
func DecodeConfig(config map[string]any, out any) error {
	raw, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("encode node config: %w", err)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode node config: %w", err)
	}

	return nil
}
