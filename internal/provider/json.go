package provider

import (
	"encoding/json"

	"github.com/kaptinlin/jsonrepair"
)

// unmarshalModelJSON unmarshals model output into v. Structured output is
// usually valid JSON, but truncation and stray prose do happen; on a syntax
// error the payload is repaired once and parsing retried.
func unmarshalModelJSON(data string, v any) error {
	err := json.Unmarshal([]byte(data), v)
	if err == nil {
		return nil
	}
	if _, ok := err.(*json.SyntaxError); ok {
		fixed, repairErr := jsonrepair.JSONRepair(data)
		if repairErr != nil {
			return err
		}
		return json.Unmarshal([]byte(fixed), v)
	}
	return err
}
