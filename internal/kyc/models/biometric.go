package models

import (
	"slices"

	dErrors "kycgate/pkg/domain-errors"
)

// BiometricType is the modality captured for biometric verification.
type BiometricType string

const (
	BiometricFingerprint BiometricType = "fingerprint"
	BiometricIris        BiometricType = "iris"
	BiometricFace        BiometricType = "face"
)

// minTemplateLength rejects truncated templates.
const minTemplateLength = 100

type biometricRule struct {
	minQuality int
	formats    []string
}

var biometricRules = map[BiometricType]biometricRule{
	BiometricFingerprint: {minQuality: 60, formats: []string{"ISO_19794_2", "ANSI_378"}},
	BiometricIris:        {minQuality: 70, formats: []string{"ISO_19794_6"}},
	BiometricFace:        {minQuality: 65, formats: []string{"ISO_19794_5"}},
}

// ParseBiometricType validates a modality name.
func ParseBiometricType(s string) (BiometricType, error) {
	t := BiometricType(s)
	if _, ok := biometricRules[t]; !ok {
		return "", dErrors.New(dErrors.CodeValidation, "biometricType must be fingerprint, iris or face")
	}
	return t, nil
}

// Capture is a biometric sample submitted for a biometric task.
type Capture struct {
	Type     BiometricType
	Template string
	Quality  int
	Format   string
}

// Validate enforces per-modality quality floors and template formats.
func (c Capture) Validate() error {
	rule, ok := biometricRules[c.Type]
	if !ok {
		return dErrors.New(dErrors.CodeValidation, "biometricType must be fingerprint, iris or face")
	}
	if len(c.Template) < minTemplateLength {
		return dErrors.New(dErrors.CodeValidation, "biometric template is too short")
	}
	if c.Quality < rule.minQuality {
		return dErrors.New(dErrors.CodeValidation, "biometric capture quality is below the required threshold")
	}
	if !slices.Contains(rule.formats, c.Format) {
		return dErrors.New(dErrors.CodeValidation, "biometric template format is not supported for this type")
	}
	return nil
}
