package tasks

import (
	"encoding/json"

	"github.com/pg-sharding/bulkload/pkg/models/loaderror"
	"github.com/pg-sharding/bulkload/qdb"
)

type JobState string

const (
	JobPending   = JobState("PENDING")
	JobSubmitted = JobState("SUBMITTED")
	JobRunning   = JobState("RUNNING")
	JobFinished  = JobState("FINISHED")
	JobCancelled = JobState("CANCELLED")
)

// IsFinal reports whether no transition leaves the state.
func (s JobState) IsFinal() bool {
	return s == JobFinished || s == JobCancelled
}

var transitions = map[JobState][]JobState{
	JobPending:   {JobSubmitted, JobCancelled},
	JobSubmitted: {JobRunning, JobFinished, JobCancelled},
	JobRunning:   {JobFinished, JobCancelled},
}

// CheckTransition returns an invariant violation for a move the job
// lifecycle does not allow.
func CheckTransition(from, to JobState) error {
	for _, s := range transitions[from] {
		if s == to {
			return nil
		}
	}
	return loaderror.Newf(loaderror.LOAD_INVARIANT, "illegal job state transition %s -> %s", from, to)
}

type CancelType string

const (
	CancelNone          = CancelType("")
	CancelEtlSubmitFail = CancelType("ETL_SUBMIT_FAIL")
	CancelEtlRunFail    = CancelType("ETL_RUN_FAIL")
	CancelUser          = CancelType("USER_CANCEL")
	CancelLoadRunFail   = CancelType("LOAD_RUN_FAIL")
)

// FailMsg is the one terminal failure a job surfaces.
type FailMsg struct {
	CancelType CancelType `json:"cancel_type"`
	Msg        string     `json:"msg"`
}

type AttachmentKind string

const (
	AttachmentNone    = AttachmentKind("")
	AttachmentPending = AttachmentKind("PENDING")
	AttachmentFinish  = AttachmentKind("FINISH")
)

// PendingAttachment describes a submitted attempt.
type PendingAttachment struct {
	Signature  int64  `json:"signature"`
	OutputPath string `json:"output_path"`
	ConfigPath string `json:"config_path"`
	AppID      string `json:"app_id"`
}

// FinishAttachment lists the files a finished attempt wrote.
type FinishAttachment struct {
	OutputPath string           `json:"output_path"`
	Manifest   map[string]int64 `json:"manifest"`
}

// Attachment holds the payload of Kind and nothing else.
type Attachment struct {
	Kind    AttachmentKind     `json:"kind"`
	Pending *PendingAttachment `json:"pending,omitempty"`
	Finish  *FinishAttachment  `json:"finish,omitempty"`
}

func NewPendingAttachment(p *PendingAttachment) Attachment {
	return Attachment{Kind: AttachmentPending, Pending: p}
}

func NewFinishAttachment(f *FinishAttachment) Attachment {
	return Attachment{Kind: AttachmentFinish, Finish: f}
}

// Validate checks that exactly the payload matching Kind is set.
func (a Attachment) Validate() error {
	var ok bool
	switch a.Kind {
	case AttachmentNone:
		ok = a.Pending == nil && a.Finish == nil
	case AttachmentPending:
		ok = a.Pending != nil && a.Finish == nil
	case AttachmentFinish:
		ok = a.Finish != nil && a.Pending == nil
	}
	if !ok {
		return loaderror.Newf(loaderror.LOAD_INVARIANT, "attachment of kind %q carries a wrong payload", a.Kind)
	}
	return nil
}

// OutputPath returns the attempt output path carried by the attachment.
func (a Attachment) OutputPath() string {
	switch a.Kind {
	case AttachmentPending:
		return a.Pending.OutputPath
	case AttachmentFinish:
		return a.Finish.OutputPath
	default:
		return ""
	}
}

type LoadJob struct {
	ID            int64
	DbID          int64
	Label         string
	TransactionID int64
	State         JobState
	Attempts      int
	FailMsg       *FailMsg
	Attachment    Attachment
	CreateTimeMs  int64
	FinishTimeMs  int64
}

func LoadJobToDb(job *LoadJob) (*qdb.LoadJob, error) {
	if err := job.Attachment.Validate(); err != nil {
		return nil, err
	}
	ret := &qdb.LoadJob{
		ID:            job.ID,
		DbID:          job.DbID,
		Label:         job.Label,
		TransactionID: job.TransactionID,
		State:         string(job.State),
		Attempts:      job.Attempts,
		CreateTimeMs:  job.CreateTimeMs,
		FinishTimeMs:  job.FinishTimeMs,
	}
	if job.FailMsg != nil {
		ret.CancelType = string(job.FailMsg.CancelType)
		ret.FailMsg = job.FailMsg.Msg
	}
	if job.Attachment.Kind != AttachmentNone {
		raw, err := json.Marshal(job.Attachment)
		if err != nil {
			return nil, err
		}
		ret.Attachment = raw
	}
	return ret, nil
}

func LoadJobFromDb(job *qdb.LoadJob) (*LoadJob, error) {
	ret := &LoadJob{
		ID:            job.ID,
		DbID:          job.DbID,
		Label:         job.Label,
		TransactionID: job.TransactionID,
		State:         JobState(job.State),
		Attempts:      job.Attempts,
		CreateTimeMs:  job.CreateTimeMs,
		FinishTimeMs:  job.FinishTimeMs,
	}
	if job.CancelType != "" || job.FailMsg != "" {
		ret.FailMsg = &FailMsg{CancelType: CancelType(job.CancelType), Msg: job.FailMsg}
	}
	if len(job.Attachment) > 0 {
		if err := json.Unmarshal(job.Attachment, &ret.Attachment); err != nil {
			return nil, loaderror.Newf(loaderror.LOAD_INVARIANT, "corrupted attachment of job %d: %w", job.ID, err)
		}
		if err := ret.Attachment.Validate(); err != nil {
			return nil, err
		}
	}
	return ret, nil
}
