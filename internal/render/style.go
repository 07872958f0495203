package render

import (
	"errors"
	"fmt"
	"image/color"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// CardStyle is the card profile handed to the renderer. Field names
// follow the external generator's batch options.
type CardStyle struct {
	Preset       string `yaml:"preset" json:"preset,omitempty"`
	OutputMode   string `yaml:"output_mode" json:"outputMode,omitempty"`
	Width        int    `yaml:"width" json:"cardWidth"`
	Height       int    `yaml:"height" json:"cardHeight"`
	TopLogoPath  string `yaml:"top_logo_path" json:"topLogoPath,omitempty"`
	ImagePath    string `yaml:"image_path" json:"imagePath,omitempty"`
	Foreground   string `yaml:"foreground" json:"foreground,omitempty"`
	Background   string `yaml:"background" json:"background,omitempty"`
	Rasterize    bool   `yaml:"rasterize" json:"rasterize"`
	OnlyPNG      bool   `yaml:"only_png" json:"onlyPng"`
	CenterImage  bool   `yaml:"center_image" json:"centerImageInsideQR"`
	ShowZoneName *bool  `yaml:"show_zone_name" json:"-"`
}

// DefaultCardStyle keeps the 252:415 card proportion the print sheets expect.
func DefaultCardStyle() CardStyle {
	return CardStyle{
		Preset:     "rounded",
		OutputMode: "card",
		Width:      504,
		Height:     830,
		Foreground: "#000000",
		Background: "#ffffff",
		Rasterize:  true,
		OnlyPNG:    true,
	}
}

// LoadCardStyle reads a YAML card profile on top of the defaults. An
// empty path returns the defaults.
func LoadCardStyle(path string) (CardStyle, error) {
	style := DefaultCardStyle()
	path = strings.TrimSpace(path)
	if path == "" {
		return style, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return CardStyle{}, fmt.Errorf("read card profile: %w", err)
	}
	if err := yaml.Unmarshal(data, &style); err != nil {
		return CardStyle{}, fmt.Errorf("parse card profile %s: %w", path, err)
	}
	if err := style.Validate(); err != nil {
		return CardStyle{}, fmt.Errorf("card profile %s: %w", path, err)
	}
	return style, nil
}

func (s CardStyle) Validate() error {
	var errs []error
	if s.Width < 64 || s.Height < 64 {
		errs = append(errs, fmt.Errorf("card size %dx%d is below 64x64", s.Width, s.Height))
	}
	if _, err := parseHexColor(s.Foreground); err != nil {
		errs = append(errs, fmt.Errorf("foreground: %w", err))
	}
	if _, err := parseHexColor(s.Background); err != nil {
		errs = append(errs, fmt.Errorf("background: %w", err))
	}
	return errors.Join(errs...)
}

func (s CardStyle) zoneNameVisible() bool {
	return s.ShowZoneName == nil || *s.ShowZoneName
}

func parseHexColor(value string) (color.RGBA, error) {
	value = strings.TrimPrefix(strings.TrimSpace(value), "#")
	if value == "" {
		return color.RGBA{}, errors.New("color is empty")
	}
	if len(value) == 3 {
		value = string([]byte{value[0], value[0], value[1], value[1], value[2], value[2]})
	}
	if len(value) != 6 {
		return color.RGBA{}, fmt.Errorf("invalid color %q", value)
	}
	parsed, err := strconv.ParseUint(value, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid color %q", value)
	}
	return color.RGBA{R: uint8(parsed >> 16), G: uint8(parsed >> 8), B: uint8(parsed), A: 0xff}, nil
}
