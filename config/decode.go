package config

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"
)

// Decode fills out from a generic map, such as one plugin section of a yaml file,
// with the same conversions LoadConfig applies. Defaults are set first and the
// result is validated.
func Decode(input map[string]any, out Config) error {
	if d, ok := out.(Defaulter); ok {
		d.SetDefaults()
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.TextUnmarshallerHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(input); err != nil {
		return fmt.Errorf("decode %s config failed: %w", out.GetName(), err)
	}
	if err := out.Validate(); err != nil {
		return fmt.Errorf("validate %s config failed: %w", out.GetName(), err)
	}
	return nil
}
