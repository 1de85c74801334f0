package calls

import "time"

// Document is the record shape exchanged with the remote store.
// The server names its id field "_id"; local ids never appear here.
type Document struct {
	ID          string   `json:"_id,omitempty"`
	CallerName  string   `json:"callerName"`
	CallerPhone string   `json:"callerPhone"`
	CallType    CallType `json:"callType"`

	StartTime         time.Time `json:"startTime"`
	EndTime           time.Time `json:"endTime"`
	Duration          Millis    `json:"duration"`
	TotalHoldDuration Millis    `json:"totalHoldDuration"`
	Status            Status    `json:"status"`

	Notes         string       `json:"notes"`
	CustomData    CustomFields `json:"customData,omitempty"`
	AccountNumber string       `json:"accountNumber,omitempty"`
	SensitiveID   string       `json:"sensitiveId,omitempty"`

	ContactID     string `json:"contactId,omitempty"`
	ContactSource string `json:"contactSource,omitempty"`
	CRMID         string `json:"crmId,omitempty"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// DocumentFromRecord builds the request body for r. Only a remote id is carried.
func DocumentFromRecord(r Record) Document {
	d := Document{
		CallerName:        r.CallerName,
		CallerPhone:       r.CallerPhone,
		CallType:          r.CallType,
		StartTime:         r.StartTime,
		EndTime:           r.EndTime,
		Duration:          r.Duration,
		TotalHoldDuration: r.TotalHoldDuration,
		Status:            r.Status,
		Notes:             r.Notes,
		CustomData:        r.CustomData.Clone(),
		AccountNumber:     r.AccountNumber,
		SensitiveID:       r.SensitiveID,
		ContactID:         r.ContactID,
		ContactSource:     r.ContactSource,
		CRMID:             r.CRMID,
	}
	if id, ok := r.ID.Remote(); ok {
		d.ID = id
	}
	return d
}

// Record normalizes the server's "_id" into Record.ID.
func (d Document) Record() (Record, error) {
	id, err := RemoteID(d.ID)
	if err != nil {
		return Record{}, err
	}
	status := d.Status
	if status == "" {
		status = StatusCompleted
	}
	return Record{
		ID:                id,
		CallerName:        d.CallerName,
		CallerPhone:       d.CallerPhone,
		CallType:          d.CallType,
		StartTime:         d.StartTime,
		EndTime:           d.EndTime,
		Duration:          d.Duration,
		TotalHoldDuration: d.TotalHoldDuration,
		Status:            status,
		Notes:             d.Notes,
		CustomData:        d.CustomData.Clone(),
		AccountNumber:     d.AccountNumber,
		SensitiveID:       d.SensitiveID,
		ContactID:         d.ContactID,
		ContactSource:     d.ContactSource,
		CRMID:             d.CRMID,
	}, nil
}
