// internal/models/merge.go
package models

import "encoding/json"

// MergeInto overlays the non-null keys of a loosely-typed JSON object onto a
// typed section of the draft. Reconciliation data arrives as generic maps from
// the backend cache and must win field-by-field without blanking siblings.
func MergeInto(dst interface{}, overlay map[string]interface{}) error {
	if len(overlay) == 0 {
		return nil
	}

	encoded, err := json.Marshal(dst)
	if err != nil {
		return err
	}
	base := map[string]interface{}{}
	if err := json.Unmarshal(encoded, &base); err != nil {
		return err
	}

	for k, v := range overlay {
		if v == nil {
			continue
		}
		base[k] = v
	}

	merged, err := json.Marshal(base)
	if err != nil {
		return err
	}
	return json.Unmarshal(merged, dst)
}
