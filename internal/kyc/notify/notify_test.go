package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kycgate/internal/kyc/models"
)

type fakeConn struct {
	subject string
	data    []byte
	err     error
	closed  bool
}

func (f *fakeConn) Publish(subj string, data []byte) error {
	f.subject = subj
	f.data = data
	return f.err
}

func (f *fakeConn) Close() { f.closed = true }

func sampleEvent() StatusChanged {
	task := &models.Task{
		TaskID: "aadhaar_otp_init_1700000000_7a1d5c9e_ab12",
		UserID: "7a1d5c9e-2f44-4e0b-8d3c-9b2f6a1e4c77",
		Step:   models.StepAadhaarOTPInit,
		Status: models.StatusVerified,
	}
	return NewStatusChanged(task, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
}

func TestNewStatusChangedDerivesDocument(t *testing.T) {
	ev := sampleEvent()
	assert.Equal(t, EventStatusUpdate, ev.Event)
	assert.Equal(t, models.DocumentAadhaar, ev.DocumentType)
}

func TestNATSPublisherPublishesJSON(t *testing.T) {
	conn := &fakeConn{}
	p := newNATSPublisher(conn, "", slog.New(slog.NewTextHandler(io.Discard, nil)))

	require.NoError(t, p.Publish(context.Background(), sampleEvent()))
	assert.Equal(t, DefaultSubject, conn.subject)

	var got StatusChanged
	require.NoError(t, json.Unmarshal(conn.data, &got))
	assert.Equal(t, models.StatusVerified, got.Status)
	assert.Equal(t, "kyc-status-update", got.Event)

	require.NoError(t, p.Close())
	assert.True(t, conn.closed)
}

func TestNATSPublisherWrapsError(t *testing.T) {
	boom := errors.New("connection closed")
	p := newNATSPublisher(&fakeConn{err: boom}, "custom.subject", slog.New(slog.NewTextHandler(io.Discard, nil)))
	err := p.Publish(context.Background(), sampleEvent())
	assert.ErrorIs(t, err, boom)
}

func TestMemoryPublisher(t *testing.T) {
	p := NewMemoryPublisher()
	require.NoError(t, p.Publish(context.Background(), sampleEvent()))
	assert.Len(t, p.Events(), 1)

	p.FailWith(errors.New("down"))
	assert.Error(t, p.Publish(context.Background(), sampleEvent()))
	assert.Len(t, p.Events(), 1)
}

func TestLogPublisherNeverFails(t *testing.T) {
	p := NewLogPublisher(slog.New(slog.NewJSONHandler(io.Discard, nil)))
	assert.NoError(t, p.Publish(context.Background(), sampleEvent()))
}

func TestKafkaPublisherRequiresBrokers(t *testing.T) {
	_, err := NewKafkaPublisher(context.Background(), KafkaConfig{Topic: "kyc"}, nil)
	assert.Error(t, err)
	_, err = NewKafkaPublisher(context.Background(), KafkaConfig{Brokers: []string{"localhost:9092"}}, nil)
	assert.Error(t, err)
}
