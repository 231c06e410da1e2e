package domain

import (
	submissiondomain "github.com/smallbiznis/dashvault/internal/submission/domain"
)

// Kind names a pipeline event, whether delivered by a provider or produced
// internally by upload initiation, anonymization kickoff or recovery.
type Kind string

const (
	KindUploadRequested Kind = "upload.requested"
	KindUploadCreated   Kind = "upload.created"
	KindAssetLinked     Kind = "upload.asset_linked"
	KindUploadFailed    Kind = "upload.failed"
	KindUploadStale     Kind = "upload.stale"

	KindAssetReady   Kind = "asset.ready"
	KindAssetErrored Kind = "asset.errored"
	KindAssetDeleted Kind = "asset.deleted"
	KindAssetUpdated Kind = "asset.updated"
	KindAssetWarning Kind = "asset.warning"

	KindAnonymizationStarted       Kind = "anonymization.started"
	KindAnonymizationKickoffFailed Kind = "anonymization.kickoff_failed"
	KindAnonymizationProcessing    Kind = "anonymization.processing"
	KindAnonymizationCompleted     Kind = "anonymization.completed"
	KindAnonymizationFailed        Kind = "anonymization.failed"
	KindAnonymizationSkipped       Kind = "anonymization.skipped"

	KindRecoveryForceComplete Kind = "recovery.force_complete"
	KindRecoveryRestart       Kind = "recovery.restart"
)

// Lookup is how an event finds its submission.
type Lookup string

const (
	LookupByID       Lookup = "id"
	LookupByUploadID Lookup = "upload_id"
	LookupByAssetID  Lookup = "asset_id"
	LookupByJobID    Lookup = "job_id"
)

// Effect is follow-up work run only by the caller that won the transition.
type Effect string

const (
	EffectNone              Effect = ""
	EffectStartProcessing   Effect = "start_processing"
	EffectCalculateEarnings Effect = "calculate_earnings"
	EffectResetDerived      Effect = "reset_derived"
)

// Transition is one row of the state machine. An empty From means any
// status not in Exclude. An empty To means the event never changes status.
type Transition struct {
	Kind    Kind
	Lookups []Lookup
	From    []submissiondomain.Status
	Exclude []submissiondomain.Status
	To      submissiondomain.Status
	// AltTo replaces To for restarts of submissions that still hold an
	// upload session.
	AltTo  submissiondomain.Status
	Effect Effect
}

var (
	beforeEncoded = []submissiondomain.Status{
		submissiondomain.StatusPending,
		submissiondomain.StatusUploading,
	}
	beforeReady = []submissiondomain.Status{
		submissiondomain.StatusPending,
		submissiondomain.StatusUploading,
		submissiondomain.StatusProcessing,
	}
	awaitingAnonymization = []submissiondomain.Status{
		submissiondomain.StatusReady,
		submissiondomain.StatusAnonymizing,
	}
	recoverable = append(append([]submissiondomain.Status{}, submissiondomain.ActiveStatuses...), submissiondomain.StatusFailed)
)

// Transitions is the complete state machine.
var Transitions = map[Kind]Transition{
	KindUploadRequested: {
		Lookups: []Lookup{LookupByID},
		From:    []submissiondomain.Status{submissiondomain.StatusPending},
		To:      submissiondomain.StatusUploading,
	},
	KindUploadCreated: {
		Lookups: []Lookup{LookupByUploadID},
	},
	KindAssetLinked: {
		Lookups: []Lookup{LookupByUploadID},
		From:    beforeEncoded,
		To:      submissiondomain.StatusProcessing,
	},
	KindUploadFailed: {
		Lookups: []Lookup{LookupByUploadID, LookupByID},
		From:    beforeEncoded,
		To:      submissiondomain.StatusFailed,
	},
	KindUploadStale: {
		Lookups: []Lookup{LookupByID},
		From:    []submissiondomain.Status{submissiondomain.StatusUploading},
		To:      submissiondomain.StatusFailed,
	},
	KindAssetReady: {
		Lookups: []Lookup{LookupByAssetID, LookupByUploadID},
		From:    beforeReady,
		To:      submissiondomain.StatusReady,
		Effect:  EffectStartProcessing,
	},
	KindAssetErrored: {
		Lookups: []Lookup{LookupByAssetID, LookupByUploadID},
		From:    submissiondomain.ActiveStatuses,
		To:      submissiondomain.StatusFailed,
	},
	KindAssetDeleted: {
		Lookups: []Lookup{LookupByAssetID},
		Exclude: []submissiondomain.Status{submissiondomain.StatusDeleted},
		To:      submissiondomain.StatusDeleted,
	},
	KindAssetUpdated: {
		Lookups: []Lookup{LookupByAssetID},
	},
	KindAssetWarning: {
		Lookups: []Lookup{LookupByAssetID},
	},
	KindAnonymizationStarted: {
		Lookups: []Lookup{LookupByID},
		From:    []submissiondomain.Status{submissiondomain.StatusReady},
		To:      submissiondomain.StatusReady,
	},
	KindAnonymizationKickoffFailed: {
		Lookups: []Lookup{LookupByID},
		From:    []submissiondomain.Status{submissiondomain.StatusReady},
		To:      submissiondomain.StatusFailed,
	},
	KindAnonymizationProcessing: {
		Lookups: []Lookup{LookupByJobID, LookupByID},
		From:    []submissiondomain.Status{submissiondomain.StatusReady},
		To:      submissiondomain.StatusAnonymizing,
	},
	KindAnonymizationCompleted: {
		Lookups: []Lookup{LookupByJobID, LookupByID},
		From:    awaitingAnonymization,
		To:      submissiondomain.StatusCompleted,
		Effect:  EffectCalculateEarnings,
	},
	KindAnonymizationFailed: {
		Lookups: []Lookup{LookupByJobID, LookupByID},
		From:    awaitingAnonymization,
		To:      submissiondomain.StatusFailed,
	},
	KindAnonymizationSkipped: {
		Lookups: []Lookup{LookupByID},
		From:    []submissiondomain.Status{submissiondomain.StatusReady},
		To:      submissiondomain.StatusCompleted,
		Effect:  EffectCalculateEarnings,
	},
	KindRecoveryForceComplete: {
		Lookups: []Lookup{LookupByID},
		From:    recoverable,
		To:      submissiondomain.StatusCompleted,
		Effect:  EffectCalculateEarnings,
	},
	KindRecoveryRestart: {
		Lookups: []Lookup{LookupByID},
		From:    recoverable,
		To:      submissiondomain.StatusPending,
		AltTo:   submissiondomain.StatusUploading,
		Effect:  EffectResetDerived,
	},
}

func init() {
	for kind, tr := range Transitions {
		tr.Kind = kind
		Transitions[kind] = tr
	}
}

// TransitionFor returns the transition row for kind.
func TransitionFor(kind Kind) (Transition, bool) {
	tr, ok := Transitions[kind]
	return tr, ok
}

// Changes reports whether the transition moves status at all.
func (t Transition) Changes() bool {
	return t.To != ""
}

// Allows reports whether status satisfies the transition's precondition.
func (t Transition) Allows(status submissiondomain.Status) bool {
	for _, excluded := range t.Exclude {
		if status == excluded {
			return false
		}
	}
	if len(t.From) == 0 {
		return status.Valid()
	}
	for _, from := range t.From {
		if status == from {
			return true
		}
	}
	return false
}

// Sources expands From and Exclude into the explicit status set used in
// conditional updates.
func (t Transition) Sources() []submissiondomain.Status {
	out := make([]submissiondomain.Status, 0, len(submissiondomain.AllStatuses))
	for _, status := range submissiondomain.AllStatuses {
		if t.Allows(status) {
			out = append(out, status)
		}
	}
	return out
}

// Target resolves the destination status for a submission.
func (t Transition) Target(hasUploadSession bool) submissiondomain.Status {
	if t.AltTo != "" && hasUploadSession {
		return t.AltTo
	}
	return t.To
}

// Next validates a single edge. It returns ErrIllegalTransition when the
// event does not apply to the current status and ErrUnknownKind for kinds
// outside the table.
func Next(kind Kind, current submissiondomain.Status, hasUploadSession bool) (submissiondomain.Status, error) {
	tr, ok := TransitionFor(kind)
	if !ok {
		return current, ErrUnknownKind
	}
	if !tr.Allows(current) {
		return current, ErrIllegalTransition
	}
	if !tr.Changes() {
		return current, nil
	}
	return tr.Target(hasUploadSession), nil
}
