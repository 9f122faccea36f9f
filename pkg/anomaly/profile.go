// Package anomaly learns a profile of normal HTTP requests and scores new
// requests against it
package anomaly

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Profile is the learned model of normal traffic. It is immutable once built.
type Profile struct {
	LengthMean float64 `json:"length_mean"`
	LengthStd  float64 `json:"length_std"`

	// ICD is nil when the training set had no non-empty URL
	ICD *CharDistribution `json:"idealized_char_distribution"`

	KnownParamKeySets  [][]string `json:"known_param_key_sets"`
	KnownParamKeyLists [][]string `json:"known_param_key_lists"`

	Metadata ProfileMetadata `json:"metadata"`
}

// ProfileMetadata describes how a profile was trained. It never affects scoring.
type ProfileMetadata struct {
	TrainingRecords int       `json:"training_records"`
	NonEmptyURLs    int       `json:"non_empty_urls"`
	CreatedAt       time.Time `json:"created_at"`
	LogFormat       string    `json:"log_format,omitempty"`
}

// HasCharModel reports whether character p-values can be computed
func (p *Profile) HasCharModel() bool {
	return p.ICD != nil
}

// LengthThreshold is the URL length above which a request is flagged
func (p *Profile) LengthThreshold() float64 {
	return p.LengthMean + LengthSigmaMultiplier*p.LengthStd
}

// MarshalProfile encodes a profile as indented JSON
func MarshalProfile(p *Profile) ([]byte, error) {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode profile: %w", err)
	}
	return data, nil
}

// UnmarshalProfile decodes and checks a JSON profile
func UnmarshalProfile(data []byte) (*Profile, error) {
	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to decode profile: %w", err)
	}
	if p.LengthStd < 0 {
		return nil, fmt.Errorf("invalid profile: negative length_std %v", p.LengthStd)
	}
	return &p, nil
}

// SaveProfile writes a profile to path
func SaveProfile(p *Profile, path string) error {
	data, err := MarshalProfile(p)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write profile: %w", err)
	}
	return nil
}

// LoadProfile reads a profile written by SaveProfile
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}
	return UnmarshalProfile(data)
}
