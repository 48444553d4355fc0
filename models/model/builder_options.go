// Package model - Builder options.
package model

import (
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
)

// Configurable is a Builder whose backend settings can be overridden per
// detector, from the modelBuilderOptions parameter.
type Configurable interface {
	Builder
	// Configure returns a builder with options decoded over its current
	// settings. The receiver is left unchanged.
	Configure(options map[string]any) (Builder, error)
}

// DecodeOptions decodes options over the fields already set in out.
//
// Values are weakly typed ("0.5" decodes into a float) and keys that match
// no field are rejected.
//
// Arguments:
//   - options: The raw option mapping, keyed by mapstructure tag.
//   - out: A pointer to the settings struct to update.
//
// Returns:
//   - error: An error if a value cannot be converted or a key is unknown.
func DecodeOptions(options map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return errors.Wrap(err, "create options decoder")
	}
	return errors.Wrap(dec.Decode(options), "decode builder options")
}
