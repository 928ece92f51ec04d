// Package loadjob drives a load job through its lifecycle: config
// assembly and submission with bounded retries, polling of the running
// application and cancellation.
package loadjob

import (
	"context"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/pg-sharding/bulkload/pkg/config"
	"github.com/pg-sharding/bulkload/pkg/engine"
	"github.com/pg-sharding/bulkload/pkg/filegroup"
	"github.com/pg-sharding/bulkload/pkg/loadlog"
	"github.com/pg-sharding/bulkload/pkg/models/loaderror"
	"github.com/pg-sharding/bulkload/pkg/models/tasks"
	"github.com/pg-sharding/bulkload/pkg/pending"
	"github.com/pg-sharding/bulkload/pkg/storage"
	"github.com/pg-sharding/bulkload/qdb"
)

type Controller struct {
	db        qdb.QDB
	submitter engine.Submitter
	store     *storage.Store
	txns      pending.TxnRegistrar
	cfg       *config.Bulkload

	// mu guards the state of every job the controller works on.
	mu sync.Mutex
}

func NewController(db qdb.QDB, submitter engine.Submitter, store *storage.Store, txns pending.TxnRegistrar, cfg *config.Bulkload) *Controller {
	return &Controller{
		db:        db,
		submitter: submitter,
		store:     store,
		txns:      txns,
		cfg:       cfg,
	}
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}

// Create registers a new PENDING job.
func (c *Controller) Create(ctx context.Context, dbID int64, label string, txnID int64) (*tasks.LoadJob, error) {
	id, err := c.db.NextID(ctx)
	if err != nil {
		return nil, err
	}
	job := &tasks.LoadJob{
		ID:            id,
		DbID:          dbID,
		Label:         label,
		TransactionID: txnID,
		State:         tasks.JobPending,
		CreateTimeMs:  nowMs(),
	}
	if err := c.persist(ctx, job); err != nil {
		return nil, err
	}
	loadlog.Zero.Info().Int64("job", id).Str("label", label).Msg("loadjob: created")
	return job, nil
}

// Get reads a job back from the store.
func (c *Controller) Get(ctx context.Context, id int64) (*tasks.LoadJob, error) {
	rec, err := c.db.GetLoadJob(ctx, id)
	if err != nil {
		return nil, err
	}
	return tasks.LoadJobFromDb(rec)
}

func (c *Controller) persist(ctx context.Context, job *tasks.LoadJob) error {
	rec, err := tasks.LoadJobToDb(job)
	if err != nil {
		return err
	}
	return c.db.PutLoadJob(ctx, rec)
}

// moveLocked changes the job state and stores it. c.mu must be held.
func (c *Controller) moveLocked(ctx context.Context, job *tasks.LoadJob, to tasks.JobState) error {
	if err := tasks.CheckTransition(job.State, to); err != nil {
		return err
	}
	from := job.State
	job.State = to
	if to.IsFinal() {
		job.FinishTimeMs = nowMs()
	}
	if err := c.persist(ctx, job); err != nil {
		return err
	}
	loadlog.Zero.Debug().
		Int64("job", job.ID).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("loadjob: state changed")
	return nil
}

func (c *Controller) cancelLocked(ctx context.Context, job *tasks.LoadJob, ct tasks.CancelType, msg string) error {
	if err := tasks.CheckTransition(job.State, tasks.JobCancelled); err != nil {
		return err
	}
	job.FailMsg = &tasks.FailMsg{CancelType: ct, Msg: msg}
	if err := c.moveLocked(ctx, job, tasks.JobCancelled); err != nil {
		return err
	}
	loadlog.Zero.Warn().
		Int64("job", job.ID).
		Str("cancel type", string(ct)).
		Str("reason", msg).
		Msg("loadjob: cancelled")
	return nil
}

func (c *Controller) cancel(ctx context.Context, job *tasks.LoadJob, ct tasks.CancelType, msg string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelLocked(ctx, job, ct, msg)
}

func handleOf(att *tasks.PendingAttachment) *engine.AppHandle {
	return &engine.AppHandle{
		AppID:      att.AppID,
		ConfigPath: att.ConfigPath,
		OutputPath: att.OutputPath,
	}
}

// Run submits the job and waits for its application to complete. Only
// retryable errors start a new attempt, each from a fresh snapshot.
func (c *Controller) Run(ctx context.Context, job *tasks.LoadJob, groups []*filegroup.Source) error {
	c.mu.Lock()
	state := job.State
	c.mu.Unlock()
	if state != tasks.JobPending {
		return loaderror.Newf(loaderror.LOAD_INVARIANT, "job %d is %s, only pending jobs run", job.ID, state)
	}

	att, err := c.submit(ctx, job, groups)
	if err != nil {
		ct := tasks.CancelLoadRunFail
		if loaderror.IsRetryable(err) {
			ct = tasks.CancelEtlSubmitFail
		}
		if cerr := c.cancel(ctx, job, ct, err.Error()); cerr != nil {
			loadlog.Zero.Error().Err(cerr).Int64("job", job.ID).Msg("loadjob: failed to cancel")
		}
		return err
	}

	c.mu.Lock()
	if job.State != tasks.JobPending {
		c.mu.Unlock()
		// cancelled while submitting
		if err := c.submitter.Kill(ctx, handleOf(att)); err != nil {
			loadlog.Zero.Warn().Err(err).Str("app", att.AppID).Msg("loadjob: failed to kill app")
		}
		return loaderror.Newf(loaderror.LOAD_CANCELLED, "job %d was cancelled", job.ID)
	}
	job.Attachment = tasks.NewPendingAttachment(att)
	err = c.moveLocked(ctx, job, tasks.JobSubmitted)
	c.mu.Unlock()
	if err != nil {
		return err
	}

	return c.await(ctx, job, att)
}

func (c *Controller) submit(ctx context.Context, job *tasks.LoadJob, groups []*filegroup.Source) (*tasks.PendingAttachment, error) {
	task := pending.NewTask(&pending.Params{
		DbID:          job.DbID,
		JobID:         job.ID,
		Label:         job.Label,
		TransactionID: job.TransactionID,
		EtlRoot:       c.cfg.EtlRoot,
		StrictMode:    c.cfg.StrictMode,
		Timezone:      c.cfg.Timezone,
		FileGroups:    groups,
	}, c.db, c.txns, c.store)

	retries := c.cfg.SubmitRetries
	if retries <= 0 {
		retries = config.DefaultSubmitRetries
	}
	backoff := retry.WithMaxRetries(uint64(retries-1), retry.NewConstant(c.cfg.RetryBackoff))

	var att *tasks.PendingAttachment
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		c.mu.Lock()
		job.Attempts++
		attempt := job.Attempts
		c.mu.Unlock()

		err := task.Init(ctx)
		if err == nil {
			att, err = task.Execute(ctx, c.submitter)
		}
		if err == nil {
			return nil
		}
		if loaderror.IsRetryable(err) {
			loadlog.Zero.Warn().Err(err).Int64("job", job.ID).Int("attempt", attempt).Msg("loadjob: attempt failed")
			return retry.RetryableError(err)
		}
		return err
	})
	return att, err
}

func (c *Controller) await(ctx context.Context, job *tasks.LoadJob, att *tasks.PendingAttachment) error {
	h := handleOf(att)
	interval := c.cfg.PollInterval
	if interval <= 0 {
		interval = config.DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		st, err := c.submitter.Poll(ctx, h)
		switch {
		case loaderror.Is(err, loaderror.LOAD_NOT_FOUND):
			msg := "app " + h.AppID + " is lost"
			if cerr := c.cancel(ctx, job, tasks.CancelEtlRunFail, msg); cerr != nil {
				return cerr
			}
			return loaderror.Newf(loaderror.LOAD_CANCELLED, "job %d: %s", job.ID, msg)
		case err != nil:
			loadlog.Zero.Warn().Err(err).Str("app", h.AppID).Msg("loadjob: poll failed")
		default:
			done, err := c.apply(ctx, job, att, st)
			if done || err != nil {
				return err
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// apply records one poll result and reports whether the job is done.
func (c *Controller) apply(ctx context.Context, job *tasks.LoadJob, att *tasks.PendingAttachment, st *engine.Status) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if job.State.IsFinal() {
		return true, loaderror.Newf(loaderror.LOAD_CANCELLED, "job %d was cancelled", job.ID)
	}

	switch st.State {
	case engine.AppRunning:
		if job.State == tasks.JobSubmitted {
			return false, c.moveLocked(ctx, job, tasks.JobRunning)
		}
		return false, nil
	case engine.AppFinished:
		prev := job.Attachment
		job.Attachment = tasks.NewFinishAttachment(&tasks.FinishAttachment{
			OutputPath: att.OutputPath,
			Manifest:   st.Manifest,
		})
		if err := c.moveLocked(ctx, job, tasks.JobFinished); err != nil {
			job.Attachment = prev
			return true, err
		}
		loadlog.Zero.Info().
			Int64("job", job.ID).
			Int("files", len(st.Manifest)).
			Msg("loadjob: finished")
		return true, nil
	case engine.AppFailed:
		if err := c.cancelLocked(ctx, job, tasks.CancelEtlRunFail, st.FailReason); err != nil {
			return true, err
		}
		return true, loaderror.Newf(loaderror.LOAD_CANCELLED, "job %d failed: %s", job.ID, st.FailReason)
	default:
		return true, loaderror.Newf(loaderror.LOAD_INVARIANT, "app %s reports unknown state %s", att.AppID, st.State)
	}
}

// Cancel stops a job on user request. The running application, if any,
// is killed; output of earlier attempts is left alone.
func (c *Controller) Cancel(ctx context.Context, job *tasks.LoadJob, reason string) error {
	c.mu.Lock()
	if err := tasks.CheckTransition(job.State, tasks.JobCancelled); err != nil {
		c.mu.Unlock()
		return err
	}
	var app *tasks.PendingAttachment
	if job.Attachment.Kind == tasks.AttachmentPending {
		app = job.Attachment.Pending
	}
	err := c.cancelLocked(ctx, job, tasks.CancelUser, reason)
	c.mu.Unlock()
	if err != nil {
		return err
	}

	if app != nil {
		if err := c.submitter.Kill(ctx, handleOf(app)); err != nil {
			loadlog.Zero.Warn().Err(err).Str("app", app.AppID).Msg("loadjob: failed to kill app")
		}
	}
	return nil
}
