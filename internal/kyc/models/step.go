package models

import "fmt"

// Step is one verification sub-phase for a document type.
type Step string

const (
	StepAadhaarOTPInit    Step = "aadhaar_otp_init"
	StepAadhaarOTPVerify  Step = "aadhaar_otp_verify"
	StepPANVerify         Step = "pan_verify"
	StepPassportVerify    Step = "passport_verify"
	StepBiometricInitiate Step = "biometric_initiate"
	StepBiometricCapture  Step = "biometric_capture"
	StepBiometricVerify   Step = "biometric_verify"
)

// DocumentType groups the steps of one verification flow.
type DocumentType string

const (
	DocumentAadhaar   DocumentType = "aadhaar"
	DocumentPAN       DocumentType = "pan"
	DocumentPassport  DocumentType = "passport"
	DocumentBiometric DocumentType = "biometric"
)

// AllDocumentTypes in display order.
var AllDocumentTypes = []DocumentType{DocumentAadhaar, DocumentPAN, DocumentPassport, DocumentBiometric}

var stepDocuments = map[Step]DocumentType{
	StepAadhaarOTPInit:    DocumentAadhaar,
	StepAadhaarOTPVerify:  DocumentAadhaar,
	StepPANVerify:         DocumentPAN,
	StepPassportVerify:    DocumentPassport,
	StepBiometricInitiate: DocumentBiometric,
	StepBiometricCapture:  DocumentBiometric,
	StepBiometricVerify:   DocumentBiometric,
}

var initiatingSteps = map[DocumentType]Step{
	DocumentAadhaar:   StepAadhaarOTPInit,
	DocumentPAN:       StepPANVerify,
	DocumentPassport:  StepPassportVerify,
	DocumentBiometric: StepBiometricInitiate,
}

// ParseStep validates a step name.
func ParseStep(s string) (Step, error) {
	step := Step(s)
	if _, ok := stepDocuments[step]; !ok {
		return "", fmt.Errorf("unknown verification step %q", s)
	}
	return step, nil
}

func (s Step) String() string {
	return string(s)
}

// Document returns the document type the step belongs to.
func (s Step) Document() DocumentType {
	return stepDocuments[s]
}

// Initiating returns the step that creates tasks for this step's family.
// Tasks are keyed under it for their whole life.
func (s Step) Initiating() Step {
	return initiatingSteps[s.Document()]
}

// IsInitiating reports whether the step starts a new task.
func (s Step) IsInitiating() bool {
	return s != "" && s.Initiating() == s
}

// RequiresConsent reports whether the step may only run with explicit consent.
func (s Step) RequiresConsent() bool {
	switch s.Document() {
	case DocumentAadhaar, DocumentBiometric:
		return true
	default:
		return false
	}
}

// SingleShot reports whether the family completes without a proof step.
func (s Step) SingleShot() bool {
	switch s.Document() {
	case DocumentPAN, DocumentPassport:
		return true
	default:
		return false
	}
}

// UsesOTP reports whether the family completes through an OTP round trip.
func (s Step) UsesOTP() bool {
	return s.Document() == DocumentAadhaar
}

// AllowsTransition applies the status state machine for this step's family.
// OTP families must pass through otp_sent before verified.
func (s Step) AllowsTransition(from, to Status) bool {
	if s.UsesOTP() && from == StatusPending && to == StatusVerified {
		return false
	}
	return from.CanTransitionTo(to)
}

// InitiatingStep maps a document type to the step that starts it.
func InitiatingStep(doc DocumentType) (Step, bool) {
	s, ok := initiatingSteps[doc]
	return s, ok
}
