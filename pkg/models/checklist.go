package models

import "time"

// ChecklistEntryType names one item of a company application checklist.
type ChecklistEntryType string

const (
	ChecklistEntryRegistrationVerification ChecklistEntryType = "REGISTRATION_VERIFICATION"
	ChecklistEntryBusinessPartnerNumber    ChecklistEntryType = "BUSINESS_PARTNER_NUMBER"
	ChecklistEntryIdentityWallet           ChecklistEntryType = "IDENTITY_WALLET"
	ChecklistEntryClearingHouse            ChecklistEntryType = "CLEARING_HOUSE"
	ChecklistEntrySelfDescriptionLP        ChecklistEntryType = "SELF_DESCRIPTION_LP"
	ChecklistEntryApplicationActivation    ChecklistEntryType = "APPLICATION_ACTIVATION"
)

// ChecklistEntryStatus is the state of a checklist item.
type ChecklistEntryStatus string

const (
	ChecklistStatusToDo       ChecklistEntryStatus = "TO_DO"
	ChecklistStatusInProgress ChecklistEntryStatus = "IN_PROGRESS"
	ChecklistStatusDone       ChecklistEntryStatus = "DONE"
	ChecklistStatusFailed     ChecklistEntryStatus = "FAILED"
)

// ChecklistEntry is one checklist item keyed by the business entity (e.g. the application id).
type ChecklistEntry struct {
	ExternalID      string               `json:"external_id"`
	Type            ChecklistEntryType   `json:"entry_type"`
	Status          ChecklistEntryStatus `json:"status"`
	Comment         string               `json:"comment,omitempty"`
	DateCreated     time.Time            `json:"date_created"`
	DateLastChanged *time.Time           `json:"date_last_changed,omitempty"`
}

// FindChecklistEntry returns the entry of entryType from entries.
func FindChecklistEntry(entries []ChecklistEntry, entryType ChecklistEntryType) (ChecklistEntry, bool) {
	for _, entry := range entries {
		if entry.Type == entryType {
			return entry, true
		}
	}

	return ChecklistEntry{}, false
}
