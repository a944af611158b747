package fixtures

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Profile describes a batch of demo validation records.
type Profile struct {
	Count           int      `yaml:"count"`
	ValidRatio      float64  `yaml:"valid_ratio"`
	ValidationTypes []string `yaml:"validation_types"`
	Sources         []string `yaml:"sources"`
	Actors          []string `yaml:"actors"`
	MaxAgeDays      int      `yaml:"max_age_days"`
	Seed            uint64   `yaml:"seed"`
	IncludeSamples  bool     `yaml:"include_samples"`
}

var ErrInvalidProfile = errors.New("fixtures: invalid profile")

// DefaultProfile mirrors the stock demo data set: 50 records, 70% valid,
// spread over the last year.
func DefaultProfile() Profile {
	return Profile{
		Count:      50,
		ValidRatio: 0.7,
		ValidationTypes: []string{
			"two_element", "three_element", "four_element", "basic_format", "real_name",
			"bank_card", "mobile", "photo_match", "liveness", "enterprise",
		},
		Sources: []string{
			"web_form", "mobile_app", "api_gateway", "admin_panel", "batch_import",
			"third_party_sdk", "wechat_mini_program", "alipay_mini_program", "h5_page", "desktop_client",
		},
		MaxAgeDays:     365,
		Seed:           1,
		IncludeSamples: true,
	}
}

// LoadProfile reads a YAML profile. Unset fields keep their defaults.
func LoadProfile(path string) (Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("read profile %s: %w", path, err)
	}
	return ParseProfile(data)
}

// ParseProfile decodes YAML over DefaultProfile and validates the result.
// Unknown keys are rejected.
func ParseProfile(data []byte) (Profile, error) {
	p := DefaultProfile()
	if len(bytes.TrimSpace(data)) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&p); err != nil {
			return Profile{}, fmt.Errorf("%w: %v", ErrInvalidProfile, err)
		}
	}
	if err := p.Validate(); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// Validate checks ranges.
func (p Profile) Validate() error {
	switch {
	case p.Count < 0:
		return fmt.Errorf("%w: count must be >= 0", ErrInvalidProfile)
	case p.ValidRatio < 0 || p.ValidRatio > 1:
		return fmt.Errorf("%w: valid_ratio must be within [0, 1]", ErrInvalidProfile)
	case p.MaxAgeDays < 0:
		return fmt.Errorf("%w: max_age_days must be >= 0", ErrInvalidProfile)
	}
	return nil
}
