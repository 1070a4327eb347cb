package types

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Config is one tagged connector or extractor configuration. The Type field
// names a registered constructor and the remaining fields are retained as raw
// JSON for that constructor to decode, so the catalog can store
// heterogeneous configurations in a single JSON column.
type Config struct {
	Type string

	raw json.RawMessage
}

// NewConfig builds a Config from a concrete configuration struct. The struct
// must marshal with a "type" field.
func NewConfig(v interface{}) (Config, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Config{}, errors.Wrap(err, "marshaling config")
	}
	var ret Config
	if err := json.Unmarshal(b, &ret); err != nil {
		return Config{}, err
	}
	if ret.Type == "" {
		return Config{}, errors.New("config has no type field")
	}
	return ret, nil
}

// Decode unmarshals the retained configuration into v, which should be the
// concrete configuration struct registered for c.Type.
func (c Config) Decode(v interface{}) error {
	if len(c.raw) == 0 {
		return errors.New("empty config")
	}
	return errors.Wrapf(json.Unmarshal(c.raw, v), "decoding %q config", c.Type)
}

// MarshalJSON implements json.Marshaler.
func (c Config) MarshalJSON() ([]byte, error) {
	if len(c.raw) == 0 {
		return json.Marshal(struct {
			Type string `json:"type"`
		}{Type: c.Type})
	}
	return c.raw, nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *Config) UnmarshalJSON(b []byte) error {
	var tag struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(b, &tag); err != nil {
		return err
	}
	c.Type = tag.Type
	c.raw = append(json.RawMessage(nil), b...)
	return nil
}
