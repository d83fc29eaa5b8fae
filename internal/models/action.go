// Markerforge - Out-of-Band Marker Editor for Plex Media Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/markerforge

package models

// ActionKind enumerates the backup-log operations.
type ActionKind int

const (
	ActionAdd ActionKind = iota + 1
	ActionEdit
	ActionDelete
	ActionRestore
	ActionIgnore
)

// String returns the lowercase kind name used in API payloads.
func (k ActionKind) String() string {
	switch k {
	case ActionAdd:
		return "add"
	case ActionEdit:
		return "edit"
	case ActionDelete:
		return "delete"
	case ActionRestore:
		return "restore"
	case ActionIgnore:
		return "ignore"
	default:
		return "unknown"
	}
}

// BackupAction is one recorded edit in the backup database. MarkerID
// is the host row id at the time of the action and may go stale when
// Plex rewrites its database; ParentSignature survives that churn.
type BackupAction struct {
	ID         int64      `json:"actionId"`
	Kind       ActionKind `json:"-"`
	KindName   string     `json:"actionKind"`
	MarkerID   int64      `json:"markerId"`
	SectionID  int64      `json:"sectionId"`
	ParentID   int64      `json:"parentId"`
	ShowID     int64      `json:"showId"`
	SeasonID   int64      `json:"seasonId"`
	ParentGUID string     `json:"-"`

	// ParentSignature is the content-addressed fingerprint of the
	// marker's parent item; see backup.Signature.
	ParentSignature string `json:"-"`

	Start         int64      `json:"start"`
	End           int64      `json:"end"`
	Type          MarkerType `json:"markerType"`
	Final         bool       `json:"isFinal"`
	CreatedByUser bool       `json:"createdByUser"`
	RecordedAt    int64      `json:"recordedAt"` // epoch ms
	RestoredFrom  int64      `json:"restoredFromActionId,omitempty"`
	Ignored       bool       `json:"ignored"`
}
