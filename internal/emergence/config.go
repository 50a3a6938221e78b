package emergence

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config controls sampling and reporting.
type Config struct {
	// SamplingInterval is the period between ticks when started.
	SamplingInterval time.Duration `yaml:"sampling_interval" validate:"gt=0"`

	// WindowSize is the number of samples kept per store.
	WindowSize int `yaml:"window_size" validate:"gte=10"`

	// MinConfidence drops findings below this confidence.
	MinConfidence float64 `yaml:"min_confidence" validate:"gte=0,lte=1"`

	// MinSamples is the number of samples a store needs before any
	// detector considers it.
	MinSamples int `yaml:"min_samples" validate:"gte=10,ltefield=WindowSize"`

	// EnabledPatterns limits which detectors run; empty runs all ten.
	EnabledPatterns []Kind `yaml:"enabled_patterns" validate:"dive,required"`

	// MaxPatterns bounds the accumulated findings; the oldest are dropped.
	MaxPatterns int `yaml:"max_patterns" validate:"gte=1"`
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return Config{
		SamplingInterval: 100 * time.Millisecond,
		WindowSize:       50,
		MinConfidence:    0.6,
		MinSamples:       10,
		MaxPatterns:      1000,
	}
}

var validate = validator.New()

// Validate checks the configuration. Every failure is an INVALID_CONFIG
// DetectorError naming the field.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			msg := fmt.Sprintf("%v violates %s", fe.Value(), fe.Tag())
			if fe.Param() != "" {
				msg += "=" + fe.Param()
			}
			return &DetectorError{Code: ErrCodeInvalidConfig, Message: msg, Field: fe.StructField()}
		}
		return &DetectorError{Code: ErrCodeInvalidConfig, Message: err.Error()}
	}
	for _, k := range c.EnabledPatterns {
		if !k.Valid() {
			return &DetectorError{Code: ErrCodeInvalidConfig, Message: fmt.Sprintf("unknown pattern %q", k), Field: "EnabledPatterns"}
		}
	}
	return nil
}

func (c Config) enabled(k Kind) bool {
	return len(c.EnabledPatterns) == 0 || slices.Contains(c.EnabledPatterns, k)
}
