package models

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	dErrors "kycgate/pkg/domain-errors"
)

var (
	aadhaarPattern    = regexp.MustCompile(`^[2-9][0-9]{11}$`)
	panPattern        = regexp.MustCompile(`^[A-Z]{5}[0-9]{4}[A-Z]$`)
	passportPattern   = regexp.MustCompile(`^[A-Z]{1,2}[0-9]{7}$`)
	otpPattern        = regexp.MustCompile(`^[0-9]{6}$`)
	captureRefPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{8,128}$`)
)

// NormalizeIdentifier cleans and validates the identifying value for an
// initiating step and returns the canonical form that is digested and sent
// to the provider. Errors are validation errors; nothing here touches the
// network.
func NormalizeIdentifier(step Step, raw string) (string, error) {
	switch step.Document() {
	case DocumentAadhaar, DocumentBiometric:
		v := strings.NewReplacer(" ", "", "-", "").Replace(strings.TrimSpace(raw))
		if !aadhaarPattern.MatchString(v) {
			return "", dErrors.New(dErrors.CodeValidation, "aadhaar number must be 12 digits and cannot start with 0 or 1")
		}
		return v, nil
	case DocumentPAN:
		v := strings.ToUpper(strings.TrimSpace(raw))
		if !panPattern.MatchString(v) {
			return "", dErrors.New(dErrors.CodeValidation, "PAN must be 5 letters, 4 digits and 1 letter")
		}
		return v, nil
	case DocumentPassport:
		v := strings.ToUpper(strings.TrimSpace(raw))
		if !passportPattern.MatchString(v) {
			return "", dErrors.New(dErrors.CodeValidation, "passport number must be 1-2 letters followed by 7 digits")
		}
		return v, nil
	default:
		return "", dErrors.New(dErrors.CodeValidation, "unsupported verification step")
	}
}

// ValidateUserID requires a UUID.
func ValidateUserID(userID string) error {
	if _, err := uuid.Parse(userID); err != nil {
		return dErrors.New(dErrors.CodeValidation, "userId must be a UUID")
	}
	return nil
}

// ValidateDateOfBirth accepts an empty value or YYYY-MM-DD in the past.
func ValidateDateOfBirth(dob string, now time.Time) error {
	if dob == "" {
		return nil
	}
	t, err := time.Parse(time.DateOnly, dob)
	if err != nil {
		return dErrors.New(dErrors.CodeValidation, "dateOfBirth must be YYYY-MM-DD")
	}
	if !t.Before(now) {
		return dErrors.New(dErrors.CodeValidation, "dateOfBirth must be in the past")
	}
	return nil
}

// ValidateProof checks the proof shape for a verify step.
func ValidateProof(step Step, proof string) error {
	switch step {
	case StepAadhaarOTPVerify, StepAadhaarOTPInit:
		if !otpPattern.MatchString(proof) {
			return dErrors.New(dErrors.CodeValidation, "OTP must be exactly 6 digits")
		}
	case StepBiometricCapture:
		// the capture itself is validated by Capture.Validate
		return nil
	case StepBiometricVerify:
		if !captureRefPattern.MatchString(proof) {
			return dErrors.New(dErrors.CodeValidation, "capture reference is malformed")
		}
	case StepPANVerify, StepPassportVerify:
		if proof != "" {
			return dErrors.New(dErrors.CodeValidation, "this step takes no proof")
		}
	case StepBiometricInitiate:
		return dErrors.New(dErrors.CodeValidation, "biometric_initiate cannot be verified; submit a capture")
	default:
		return dErrors.New(dErrors.CodeValidation, "unsupported verification step")
	}
	return nil
}
