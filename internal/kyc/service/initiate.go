package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"kycgate/internal/kyc/models"
	"kycgate/internal/kyc/provider"
	dErrors "kycgate/pkg/domain-errors"
	"kycgate/pkg/platform/privacy"
	"kycgate/pkg/platform/sentinel"
)

// InitiateCommand starts a verification for one document type.
type InitiateCommand struct {
	UserID           string
	Step             models.Step
	IdentifyingValue string
	Consent          bool
	DateOfBirth      string
	BiometricType    string
}

type initiateInput struct {
	normalized string
	biometric  models.BiometricType
}

func (s *Service) validateInitiate(cmd InitiateCommand, now time.Time) (initiateInput, error) {
	if err := models.ValidateUserID(cmd.UserID); err != nil {
		return initiateInput{}, err
	}
	if !cmd.Step.IsInitiating() {
		return initiateInput{}, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("%s does not start a verification", cmd.Step))
	}
	normalized, err := models.NormalizeIdentifier(cmd.Step, cmd.IdentifyingValue)
	if err != nil {
		return initiateInput{}, err
	}
	if cmd.Step.RequiresConsent() && !cmd.Consent {
		return initiateInput{}, dErrors.New(dErrors.CodeValidation, "consent is required")
	}
	in := initiateInput{normalized: normalized}
	switch cmd.Step {
	case models.StepPassportVerify:
		if err := models.ValidateDateOfBirth(cmd.DateOfBirth, now); err != nil {
			return initiateInput{}, err
		}
	case models.StepBiometricInitiate:
		bt, err := models.ParseBiometricType(cmd.BiometricType)
		if err != nil {
			return initiateInput{}, err
		}
		in.biometric = bt
	}
	return in, nil
}

// Initiate validates the command, opens a provider task and caches it. An
// unfinished task of the same family is failed as superseded. On provider
// failure nothing is written.
func (s *Service) Initiate(ctx context.Context, cmd InitiateCommand) (*models.TaskView, error) {
	now := requestTime(ctx)
	in, err := s.validateInitiate(cmd, now)
	if err != nil {
		s.metrics.IncInitiation(string(cmd.Step), "invalid")
		return nil, err
	}
	return s.initiate(ctx, cmd, in, now)
}

func (s *Service) initiate(ctx context.Context, cmd InitiateCommand, in initiateInput, now time.Time) (*models.TaskView, error) {
	taskID := newTaskID(cmd.Step, cmd.UserID, now)
	resp, err := s.provider.Initiate(ctx, provider.InitiateRequest{
		Step:    cmd.Step,
		TaskID:  taskID,
		GroupID: cmd.UserID,
		Data:    initiateData(cmd, in),
	})
	if err != nil {
		s.metrics.IncInitiation(string(cmd.Step), "provider_error")
		s.logger.WarnContext(ctx, "provider initiate failed",
			"step", string(cmd.Step),
			"user_id", cmd.UserID,
			"reason", string(provider.ReasonOf(err)),
			"error", err,
		)
		return nil, translateProviderError(err)
	}
	if resp.ProviderTaskID != "" {
		taskID = resp.ProviderTaskID
	}

	status := initialStatus(cmd.Step, resp.Status)
	task := &models.Task{
		TaskID:        taskID,
		UserID:        cmd.UserID,
		Step:          cmd.Step,
		Status:        status,
		PayloadDigest: s.digester.Digest(in.normalized),
		MaskedValue:   privacy.Mask(in.normalized),
		Message:       resp.Message,
		CreatedAt:     now,
		UpdatedAt:     now,
		ExpiresAt:     now.Add(s.ttlFor(status)),
	}
	switch status {
	case models.StatusVerified:
		task.ResultData = resp.Result
	case models.StatusFailed:
		task.FailureReason = "rejected"
	}

	previous := s.currentTask(ctx, cmd.Step, cmd.UserID)
	if err := s.store.Create(ctx, task, now); err != nil {
		s.metrics.IncInitiation(string(cmd.Step), "error")
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store verification task")
	}
	if previous != nil && previous.TaskID != task.TaskID {
		s.supersede(ctx, previous, now)
	}
	if err := s.recordOutcome(ctx, task, now); err != nil {
		s.metrics.IncInitiation(string(cmd.Step), "error")
		return nil, err
	}

	s.metrics.IncInitiation(string(cmd.Step), string(status))
	s.logger.InfoContext(ctx, "verification initiated",
		"task_id", task.TaskID,
		"step", string(task.Step),
		"user_id", task.UserID,
		"status", string(task.Status),
		"masked_value", task.MaskedValue,
	)
	view := task.View()
	return &view, nil
}

// ResendOTP restarts the user's current OTP task. The caller resubmits the
// identifying value since raw values are never cached; it must match the
// value the current task was opened with.
func (s *Service) ResendOTP(ctx context.Context, cmd InitiateCommand) (*models.TaskView, error) {
	now := requestTime(ctx)
	if cmd.Step != models.StepAadhaarOTPInit {
		return nil, dErrors.New(dErrors.CodeValidation, "only OTP verifications can be resent")
	}
	in, err := s.validateInitiate(cmd, now)
	if err != nil {
		return nil, err
	}

	currentID, err := s.store.Current(ctx, cmd.Step, cmd.UserID)
	if err != nil {
		return nil, translateStoreError(err)
	}
	current, err := s.store.Task(ctx, cmd.Step, cmd.UserID, currentID)
	if err != nil {
		return nil, translateStoreError(err)
	}
	if current.PayloadDigest != s.digester.Digest(in.normalized) {
		return nil, dErrors.New(dErrors.CodeValidation, "identifying value does not match the current verification")
	}
	if current.Status == models.StatusVerified {
		return nil, dErrors.New(dErrors.CodeConflict, "verification already completed")
	}

	return s.initiate(ctx, cmd, in, now)
}

// currentTask returns the user's unfinished task for family, or nil.
func (s *Service) currentTask(ctx context.Context, family models.Step, userID string) *models.Task {
	id, err := s.store.Current(ctx, family, userID)
	if err == nil {
		var task *models.Task
		task, err = s.store.Task(ctx, family, userID, id)
		if err == nil {
			if task.Status.IsTerminal() {
				return nil
			}
			return task
		}
	}
	if !errors.Is(err, sentinel.ErrNotFound) && !errors.Is(err, sentinel.ErrExpired) {
		s.logger.WarnContext(ctx, "failed to load current task", "step", string(family), "user_id", userID, "error", err)
	}
	return nil
}

// supersede fails a task replaced by a newer one for the same family. The
// document status is left to the new task.
func (s *Service) supersede(ctx context.Context, task *models.Task, now time.Time) {
	if !task.Transition(models.StatusFailed, now, s.verifiedTTL) {
		return
	}
	task.FailureReason = "superseded"
	if err := s.store.Save(ctx, task, now); err != nil {
		s.logger.WarnContext(ctx, "failed to retire superseded task", "task_id", task.TaskID, "error", err)
		return
	}
	if err := s.persist(ctx, task, now); err != nil {
		s.logger.WarnContext(ctx, "superseded task not recorded", "task_id", task.TaskID, "error", err)
	}
}

// initialStatus is the task status after a successful initiate call.
// Single-shot steps may complete synchronously.
func initialStatus(step models.Step, providerStatus string) models.Status {
	st, ok := models.FromProvider(providerStatus)
	if ok && st == models.StatusFailed {
		return models.StatusFailed
	}
	switch step {
	case models.StepAadhaarOTPInit:
		return models.StatusOTPSent
	case models.StepPANVerify, models.StepPassportVerify:
		if ok && st == models.StatusVerified {
			return models.StatusVerified
		}
	}
	return models.StatusPending
}

func initiateData(cmd InitiateCommand, in initiateInput) map[string]any {
	switch cmd.Step {
	case models.StepAadhaarOTPInit:
		return map[string]any{"aadhaar_number": in.normalized, "consent": "Y"}
	case models.StepPassportVerify:
		data := map[string]any{"id_number": in.normalized}
		if cmd.DateOfBirth != "" {
			data["dob"] = cmd.DateOfBirth
		}
		return data
	case models.StepBiometricInitiate:
		return map[string]any{"aadhaar_number": in.normalized, "biometric_type": string(in.biometric), "consent": "Y"}
	default:
		return map[string]any{"id_number": in.normalized}
	}
}

// newTaskID builds {step}_{unix}_{userPrefix}_{random}.
func newTaskID(step models.Step, userID string, now time.Time) string {
	prefix := userID
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("%s_%d_%s_%s", step, now.Unix(), prefix, random)
}
