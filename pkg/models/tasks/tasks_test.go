package tasks_test

import (
	"testing"

	"github.com/pg-sharding/bulkload/pkg/models/loaderror"
	"github.com/pg-sharding/bulkload/pkg/models/tasks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckTransition(t *testing.T) {
	assert := assert.New(t)

	for i, c := range []struct {
		from tasks.JobState
		to   tasks.JobState
		ok   bool
	}{
		{from: tasks.JobPending, to: tasks.JobSubmitted, ok: true},
		{from: tasks.JobPending, to: tasks.JobCancelled, ok: true},
		{from: tasks.JobPending, to: tasks.JobRunning, ok: false},
		{from: tasks.JobSubmitted, to: tasks.JobRunning, ok: true},
		{from: tasks.JobSubmitted, to: tasks.JobFinished, ok: true},
		{from: tasks.JobRunning, to: tasks.JobFinished, ok: true},
		{from: tasks.JobRunning, to: tasks.JobCancelled, ok: true},
		{from: tasks.JobRunning, to: tasks.JobPending, ok: false},
		{from: tasks.JobFinished, to: tasks.JobCancelled, ok: false},
		{from: tasks.JobCancelled, to: tasks.JobPending, ok: false},
	} {
		err := tasks.CheckTransition(c.from, c.to)
		if c.ok {
			assert.NoError(err, "test case %d", i)
		} else {
			assert.True(loaderror.Is(err, loaderror.LOAD_INVARIANT), "test case %d", i)
		}
	}

	assert.True(tasks.JobFinished.IsFinal())
	assert.True(tasks.JobCancelled.IsFinal())
	assert.False(tasks.JobRunning.IsFinal())
}

func TestAttachmentValidate(t *testing.T) {
	assert := assert.New(t)

	assert.NoError(tasks.Attachment{}.Validate())
	assert.NoError(tasks.NewPendingAttachment(&tasks.PendingAttachment{OutputPath: "/etl/1/l/7"}).Validate())
	assert.NoError(tasks.NewFinishAttachment(&tasks.FinishAttachment{}).Validate())

	bad := tasks.Attachment{Kind: tasks.AttachmentFinish, Pending: &tasks.PendingAttachment{}}
	assert.True(loaderror.Is(bad.Validate(), loaderror.LOAD_INVARIANT))
	bad = tasks.Attachment{Kind: tasks.AttachmentPending}
	assert.True(loaderror.Is(bad.Validate(), loaderror.LOAD_INVARIANT))

	assert.Equal("/etl/1/l/7", tasks.NewPendingAttachment(&tasks.PendingAttachment{OutputPath: "/etl/1/l/7"}).OutputPath())
	assert.Equal("", tasks.Attachment{}.OutputPath())
}

func TestLoadJobDbConversion(t *testing.T) {
	assert := assert.New(t)

	job := &tasks.LoadJob{
		ID:            5,
		DbID:          1,
		Label:         "l",
		TransactionID: 77,
		State:         tasks.JobCancelled,
		Attempts:      3,
		FailMsg:       &tasks.FailMsg{CancelType: tasks.CancelEtlSubmitFail, Msg: "cluster rejected job"},
		Attachment: tasks.NewPendingAttachment(&tasks.PendingAttachment{
			Signature:  9,
			OutputPath: "/etl/1/l/9",
			AppID:      "app",
		}),
	}

	stored, err := tasks.LoadJobToDb(job)
	require.NoError(t, err)
	assert.Equal("CANCELLED", stored.State)
	assert.Equal("ETL_SUBMIT_FAIL", stored.CancelType)

	back, err := tasks.LoadJobFromDb(stored)
	require.NoError(t, err)
	assert.Equal(job, back)

	job.Attachment = tasks.Attachment{Kind: tasks.AttachmentFinish}
	_, err = tasks.LoadJobToDb(job)
	assert.True(loaderror.Is(err, loaderror.LOAD_INVARIANT))
}
