package dispatcher_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	auditdomain "github.com/smallbiznis/tithi/internal/audit/domain"
	auditservice "github.com/smallbiznis/tithi/internal/audit/service"
	"github.com/smallbiznis/tithi/internal/clock"
	"github.com/smallbiznis/tithi/internal/config"
	"github.com/smallbiznis/tithi/internal/dispatcher"
	notificationdomain "github.com/smallbiznis/tithi/internal/notification/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type sentMessage struct {
	to      string
	subject string
	body    string
}

type fakeEmail struct {
	sent []sentMessage
	err  error
}

func (f *fakeEmail) Send(_ context.Context, to, subject, body string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMessage{to: to, subject: subject, body: body})
	return nil
}

type fakeSMS struct {
	sent []sentMessage
	err  error
}

func (f *fakeSMS) Send(_ context.Context, to, body string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMessage{to: to, body: body})
	return nil
}

var testDBSeq int

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	testDBSeq++
	dsn := fmt.Sprintf("file:dispatcher_%s_%d?mode=memory&cache=shared", t.Name(), testDBSeq)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&notificationdomain.Job{},
		&auditdomain.AuditLog{},
	))
	return db
}

type fixture struct {
	db    *gorm.DB
	node  *snowflake.Node
	clock *clock.FakeClock
	email *fakeEmail
	sms   *fakeSMS
	d     *dispatcher.Dispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := setupTestDB(t)
	node, err := snowflake.NewNode(5)
	require.NoError(t, err)
	fakeClock := clock.NewFakeClock(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	email := &fakeEmail{}
	sms := &fakeSMS{}
	log := zap.NewNop()

	d := dispatcher.New(dispatcher.Params{
		DB:    db,
		Log:   log,
		Clock: fakeClock,
		Cfg: config.Config{
			Dispatcher: config.DispatcherConfig{
				RunInterval:        time.Minute,
				BatchSize:          50,
				MaxAttempts:        3,
				RetryBase:          30 * time.Minute,
				StalenessThreshold: 15 * time.Minute,
			},
		},
		Email:    email,
		SMS:      sms,
		AuditSvc: auditservice.New(auditservice.Params{DB: db, Log: log, GenID: node}),
	})

	return &fixture{db: db, node: node, clock: fakeClock, email: email, sms: sms, d: d}
}

func (f *fixture) seedJob(t *testing.T, channel notificationdomain.Channel, recipient string, scheduledAt time.Time) *notificationdomain.Job {
	t.Helper()
	job := notificationdomain.Job{
		ID:          f.node.Generate(),
		BusinessID:  f.node.Generate(),
		Channel:     channel,
		Recipient:   recipient,
		Subject:     "Your booking was completed",
		Body:        "See you next time.",
		Status:      notificationdomain.JobStatusPending,
		ScheduledAt: scheduledAt,
	}
	require.NoError(t, f.db.Create(&job).Error)
	return &job
}

func (f *fixture) reload(t *testing.T, id snowflake.ID) *notificationdomain.Job {
	t.Helper()
	var job notificationdomain.Job
	require.NoError(t, f.db.First(&job, "id = ?", id).Error)
	return &job
}

func TestPassSendsDueEmail(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	job := f.seedJob(t, notificationdomain.ChannelEmail, "dana@example.com", f.clock.Now().Add(-time.Minute))

	result, err := f.d.RunPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, result.Sent)
	assert.Zero(t, result.Failed)
	assert.Zero(t, result.DeadJobs)

	require.Len(t, f.email.sent, 1)
	assert.Equal(t, "dana@example.com", f.email.sent[0].to)

	got := f.reload(t, job.ID)
	assert.Equal(t, notificationdomain.JobStatusSent, got.Status)
	assert.Nil(t, got.NextRetryAt)

	var audits int64
	require.NoError(t, f.db.Model(&auditdomain.AuditLog{}).
		Where("action = ?", "notification.sent").Count(&audits).Error)
	assert.Equal(t, int64(1), audits)
}

func TestPassSendsDueSMS(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedJob(t, notificationdomain.ChannelSMS, "+15551234567", f.clock.Now())

	result, err := f.d.RunPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Sent)
	require.Len(t, f.sms.sent, 1)
	assert.Equal(t, "+15551234567", f.sms.sent[0].to)
	assert.Empty(t, f.email.sent)
}

func TestFutureJobsAreLeftAlone(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	job := f.seedJob(t, notificationdomain.ChannelEmail, "dana@example.com", f.clock.Now().Add(time.Hour))

	result, err := f.d.RunPass(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.Processed)

	got := f.reload(t, job.ID)
	assert.Equal(t, notificationdomain.JobStatusPending, got.Status)
}

func TestRetryBackoffDoublesThenDeadLetters(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.email.err = errors.New("smtp unavailable")
	job := f.seedJob(t, notificationdomain.ChannelEmail, "dana@example.com", f.clock.Now())

	// First attempt: failed, retry in 30 minutes.
	result, err := f.d.RunPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)

	got := f.reload(t, job.ID)
	assert.Equal(t, notificationdomain.JobStatusFailed, got.Status)
	assert.Equal(t, 1, got.AttemptCount)
	require.NotNil(t, got.NextRetryAt)
	assert.WithinDuration(t, f.clock.Now().Add(30*time.Minute), *got.NextRetryAt, time.Second)

	// Not due yet: nothing happens.
	f.clock.Advance(10 * time.Minute)
	result, err = f.d.RunPass(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.Processed)

	// Second attempt: backoff doubles to 60 minutes.
	f.clock.Advance(20 * time.Minute)
	result, err = f.d.RunPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)

	got = f.reload(t, job.ID)
	assert.Equal(t, 2, got.AttemptCount)
	require.NotNil(t, got.NextRetryAt)
	assert.WithinDuration(t, f.clock.Now().Add(60*time.Minute), *got.NextRetryAt, time.Second)

	// Third attempt exhausts the budget and dead-letters the job.
	f.clock.Advance(time.Hour)
	result, err = f.d.RunPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.DeadJobs)

	got = f.reload(t, job.ID)
	assert.Equal(t, notificationdomain.JobStatusDead, got.Status)
	assert.Equal(t, 3, got.AttemptCount)
	assert.Nil(t, got.NextRetryAt)
	assert.Equal(t, "smtp unavailable", got.LastError)

	// Dead jobs never come back, no matter how long we wait.
	f.clock.Advance(24 * time.Hour)
	result, err = f.d.RunPass(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.Processed)
}

func TestMissingRecipientCountsAsAttempt(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	job := f.seedJob(t, notificationdomain.ChannelEmail, "", f.clock.Now())

	result, err := f.d.RunPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.Empty(t, f.email.sent)

	got := f.reload(t, job.ID)
	assert.Equal(t, notificationdomain.JobStatusFailed, got.Status)
	assert.Equal(t, 1, got.AttemptCount)
	assert.Equal(t, "missing recipient", got.LastError)
}

func TestStaleInProgressJobIsRequeued(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	job := f.seedJob(t, notificationdomain.ChannelEmail, "dana@example.com", f.clock.Now().Add(-time.Hour))

	// Simulate a worker that died mid-send.
	require.NoError(t, f.db.Exec(
		`UPDATE notification_jobs SET status = ?, updated_at = ? WHERE id = ?`,
		notificationdomain.JobStatusInProgress,
		f.clock.Now().Add(-30*time.Minute),
		job.ID,
	).Error)

	result, err := f.d.RunPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Sent)

	got := f.reload(t, job.ID)
	assert.Equal(t, notificationdomain.JobStatusSent, got.Status)
}

func TestFreshInProgressJobIsNotStolen(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	job := f.seedJob(t, notificationdomain.ChannelEmail, "dana@example.com", f.clock.Now().Add(-time.Hour))

	require.NoError(t, f.db.Exec(
		`UPDATE notification_jobs SET status = ?, updated_at = ? WHERE id = ?`,
		notificationdomain.JobStatusInProgress,
		f.clock.Now().Add(-time.Minute),
		job.ID,
	).Error)

	result, err := f.d.RunPass(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.Processed)

	got := f.reload(t, job.ID)
	assert.Equal(t, notificationdomain.JobStatusInProgress, got.Status)
}

func TestPassCountsMixedOutcomes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedJob(t, notificationdomain.ChannelEmail, "dana@example.com", f.clock.Now())
	f.seedJob(t, notificationdomain.ChannelEmail, "", f.clock.Now())
	f.seedJob(t, notificationdomain.ChannelSMS, "+15551234567", f.clock.Now())

	result, err := f.d.RunPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Processed)
	assert.Equal(t, 2, result.Sent)
	assert.Equal(t, 1, result.Failed)
	assert.Zero(t, result.DeadJobs)
}
