package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"kycgate/internal/kyc/models"
	"kycgate/internal/kyc/provider"
	dErrors "kycgate/pkg/domain-errors"
)

// VerifyCommand submits a proof for, or checks the status of, a task.
type VerifyCommand struct {
	UserID  string
	Step    models.Step
	TaskID  string
	Proof   string
	Capture *models.Capture
}

func (cmd VerifyCommand) validate() error {
	if err := models.ValidateUserID(cmd.UserID); err != nil {
		return err
	}
	if strings.TrimSpace(cmd.TaskID) == "" {
		return dErrors.New(dErrors.CodeValidation, "taskId is required")
	}
	if err := models.ValidateProof(cmd.Step, cmd.Proof); err != nil {
		return err
	}
	if cmd.Step == models.StepBiometricCapture {
		if cmd.Capture == nil {
			return dErrors.New(dErrors.CodeValidation, "biometric capture is required")
		}
		return cmd.Capture.Validate()
	}
	return nil
}

// Verify advances a task with the caller's proof. A task that is already
// verified is answered from cache without calling the provider, and
// concurrent calls by the same user for the same task and proof share one
// provider call.
func (s *Service) Verify(ctx context.Context, cmd VerifyCommand) (*models.TaskView, error) {
	if cmd.Step == models.StepAadhaarOTPInit {
		cmd.Step = models.StepAadhaarOTPVerify
	}
	if err := cmd.validate(); err != nil {
		s.metrics.IncVerification(string(cmd.Step), "invalid")
		return nil, err
	}

	key := cmd.UserID + ":" + cmd.TaskID + ":" + string(cmd.Step) + ":" + s.digester.Digest(cmd.Proof)
	v, err, _ := s.verifyGroup.Do(key, func() (any, error) {
		return s.verify(ctx, cmd)
	})
	if err != nil {
		return nil, err
	}
	view := v.(models.TaskView)
	return &view, nil
}

func (s *Service) verify(ctx context.Context, cmd VerifyCommand) (models.TaskView, error) {
	now := requestTime(ctx)
	task, err := s.loadTask(ctx, cmd.Step.Initiating(), cmd.UserID, cmd.TaskID, now)
	if err != nil {
		return models.TaskView{}, err
	}

	// terminal answers re-record the outcome so a ledger write lost
	// earlier is retried; an unchanged row is a no-op
	switch task.Status {
	case models.StatusVerified:
		if err := s.persist(ctx, task, now); err != nil {
			return models.TaskView{}, err
		}
		s.metrics.IncVerification(string(cmd.Step), "cached")
		return task.View(), nil
	case models.StatusFailed, models.StatusExpired:
		if err := s.persist(ctx, task, now); err != nil {
			return models.TaskView{}, err
		}
		s.metrics.IncVerification(string(cmd.Step), "conflict")
		return models.TaskView{}, dErrors.New(dErrors.CodeConflict, "verification task is "+string(task.Status)+"; start a new verification")
	}
	if cmd.Step == models.StepBiometricVerify && cmd.Proof != task.CaptureRef {
		return models.TaskView{}, dErrors.New(dErrors.CodeValidation, "capture reference does not match this task")
	}

	resp, err := s.provider.Submit(ctx, provider.SubmitRequest{
		Step:    cmd.Step,
		TaskID:  task.TaskID,
		GroupID: task.UserID,
		Proof:   cmd.Proof,
		Data:    submitData(cmd),
	})
	if err != nil {
		reason := provider.ReasonOf(err)
		s.metrics.IncVerification(string(cmd.Step), "provider_error")
		s.logger.WarnContext(ctx, "provider verify failed",
			"task_id", task.TaskID,
			"step", string(cmd.Step),
			"reason", string(reason),
			"error", err,
		)
		if ferr := s.fail(ctx, task, string(reason), now); ferr != nil {
			return models.TaskView{}, ferr
		}
		return models.TaskView{}, translateProviderError(err)
	}

	next, known := models.FromProvider(resp.Status)
	if cmd.Step == models.StepBiometricCapture {
		return s.acceptCapture(ctx, task, resp, next, now)
	}

	switch {
	case known && next == models.StatusVerified:
		if !task.Transition(models.StatusVerified, now, s.verifiedTTL) {
			s.metrics.IncVerification(string(cmd.Step), "conflict")
			return models.TaskView{}, dErrors.New(dErrors.CodeConflict, "verification task cannot complete from "+string(task.Status))
		}
		task.ResultData = resp.Result
		task.Message = resp.Message
	case known && next == models.StatusFailed:
		reason := resp.Message
		if reason == "" {
			reason = "rejected"
		}
		s.metrics.IncVerification(string(cmd.Step), "rejected")
		if err := s.fail(ctx, task, reason, now); err != nil {
			return models.TaskView{}, err
		}
		return models.TaskView{}, dErrors.New(dErrors.CodeVerificationFailed, "verification was rejected by the provider")
	default:
		// still in progress; refresh the message only
		if resp.Message != "" {
			task.Message = resp.Message
		}
		task.UpdatedAt = now
	}

	if err := s.store.Save(ctx, task, now); err != nil {
		return models.TaskView{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store verification task")
	}
	if err := s.recordOutcome(ctx, task, now); err != nil {
		return models.TaskView{}, err
	}
	s.metrics.IncVerification(string(cmd.Step), string(task.Status))
	s.logger.InfoContext(ctx, "verification submitted",
		"task_id", task.TaskID,
		"step", string(cmd.Step),
		"user_id", task.UserID,
		"status", string(task.Status),
	)
	return task.View(), nil
}

// acceptCapture records a biometric capture reference. The task stays
// pending until biometric_verify.
func (s *Service) acceptCapture(ctx context.Context, task *models.Task, resp *provider.Response, next models.Status, now time.Time) (models.TaskView, error) {
	if next == models.StatusFailed {
		s.metrics.IncVerification(string(models.StepBiometricCapture), "rejected")
		if err := s.fail(ctx, task, "capture rejected", now); err != nil {
			return models.TaskView{}, err
		}
		return models.TaskView{}, dErrors.New(dErrors.CodeVerificationFailed, "biometric capture was rejected by the provider")
	}
	ref := captureRef(resp)
	task.CaptureRef = ref
	task.Message = "capture accepted"
	task.UpdatedAt = now
	if err := s.store.Save(ctx, task, now); err != nil {
		return models.TaskView{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store verification task")
	}
	s.metrics.IncVerification(string(models.StepBiometricCapture), "captured")
	return task.View(), nil
}

// Cancel fails a task that has not finished. In-flight provider calls are
// not interrupted.
func (s *Service) Cancel(ctx context.Context, userID string, step models.Step, taskID string) (*models.TaskView, error) {
	if err := models.ValidateUserID(userID); err != nil {
		return nil, err
	}
	now := requestTime(ctx)
	family := step.Initiating()
	task, err := s.loadTask(ctx, family, userID, taskID, now)
	if err != nil {
		return nil, err
	}
	if task.Status.IsTerminal() {
		return nil, dErrors.New(dErrors.CodeConflict, "verification task is already "+string(task.Status))
	}
	if err := s.fail(ctx, task, "cancelled", now); err != nil {
		return nil, err
	}
	if current, err := s.store.Current(ctx, family, userID); err == nil && current == task.TaskID {
		if err := s.store.ClearCurrent(ctx, family, userID); err != nil {
			s.logger.WarnContext(ctx, "failed to clear current task pointer", "task_id", task.TaskID, "error", err)
		}
	}
	s.logger.InfoContext(ctx, "verification cancelled", "task_id", task.TaskID, "user_id", userID)
	view := task.View()
	return &view, nil
}

// TaskStatus returns the caller's task.
func (s *Service) TaskStatus(ctx context.Context, userID string, step models.Step, taskID string) (*models.TaskView, error) {
	if err := models.ValidateUserID(userID); err != nil {
		return nil, err
	}
	task, err := s.loadTask(ctx, step.Initiating(), userID, taskID, requestTime(ctx))
	if err != nil {
		return nil, err
	}
	view := task.View()
	return &view, nil
}

// loadTask returns TaskNotFound for missing, lapsed, or foreign tasks alike.
func (s *Service) loadTask(ctx context.Context, family models.Step, userID, taskID string, now time.Time) (*models.Task, error) {
	task, err := s.store.Task(ctx, family, userID, taskID)
	if err != nil {
		return nil, translateStoreError(err)
	}
	if task.UserID != userID || task.IsExpiredAt(now) {
		return nil, errTaskNotFound
	}
	return task, nil
}

// fail moves task to failed and records the outcome. The task stays
// readable for its terminal TTL. A cache or ledger write failure is
// returned as an internal error.
func (s *Service) fail(ctx context.Context, task *models.Task, reason string, now time.Time) error {
	if !task.Transition(models.StatusFailed, now, s.verifiedTTL) {
		return dErrors.New(dErrors.CodeConflict, "verification task is already "+string(task.Status))
	}
	task.FailureReason = reason
	if err := s.store.Save(ctx, task, now); err != nil {
		s.logger.ErrorContext(ctx, "failed to store failed task", "task_id", task.TaskID, "error", err)
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to store verification task")
	}
	return s.recordOutcome(ctx, task, now)
}

func submitData(cmd VerifyCommand) map[string]any {
	if cmd.Capture == nil {
		return nil
	}
	return map[string]any{
		"biometric_type": string(cmd.Capture.Type),
		"template":       cmd.Capture.Template,
		"quality_score":  cmd.Capture.Quality,
		"format":         cmd.Capture.Format,
	}
}

func captureRef(resp *provider.Response) string {
	var result struct {
		CaptureID string `json:"capture_id"`
	}
	if len(resp.Result) > 0 && json.Unmarshal(resp.Result, &result) == nil && result.CaptureID != "" {
		return result.CaptureID
	}
	if resp.ProviderTaskID != "" && len(resp.ProviderTaskID) >= 8 {
		return resp.ProviderTaskID
	}
	return "cap_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
