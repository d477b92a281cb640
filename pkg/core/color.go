// pkg/core/color.go
package core

// RGBA is an 8-bit per channel color.
type RGBA struct {
	R uint8 `json:"r" mapstructure:"r"`
	G uint8 `json:"g" mapstructure:"g"`
	B uint8 `json:"b" mapstructure:"b"`
	A uint8 `json:"a" mapstructure:"a"`
}

// ColorStop maps a flow height to a color.
type ColorStop struct {
	Value float64 `json:"value" mapstructure:"value"`
	Color RGBA    `json:"color" mapstructure:"color"`
}
