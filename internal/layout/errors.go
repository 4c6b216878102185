package layout

import "errors"

var (
	// ErrParse is returned when a layout file is not valid YAML.
	ErrParse = errors.New("layout: parse error")

	// ErrSchema is returned when a layout does not match the layout schema.
	ErrSchema = errors.New("layout: schema violation")

	// ErrInvalid is returned when a layout is well formed but cannot be
	// turned into a plan (unknown operator config fields, bad references).
	ErrInvalid = errors.New("layout: invalid")

	// ErrUnresolved is returned for a channel name that matches no channel.
	ErrUnresolved = errors.New("layout: unresolved channel name")
)
