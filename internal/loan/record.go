package loan

import (
	"time"
)

// StatusSubmitted is the status of every freshly stored application.
const StatusSubmitted = "submitted"

// Top-level keys of a stored application that are not form fields.
const (
	keyUserID        = "userId"
	keyPhoneNumber   = "phoneNumber"
	keyFlow          = "flow"
	keyStatus        = "status"
	keyDocuments     = "documents"
	keyDocumentPaths = "documentPaths"
)

// UsersCollection holds one profile document per verified user.
const UsersCollection = "users"

// SubmittedRecord is the persisted outcome of one submission.
type SubmittedRecord struct {
	ID          string            `json:"id"`
	Flow        string            `json:"flow"`
	Collection  string            `json:"collection"`
	UserID      string            `json:"userId"`
	PhoneNumber string            `json:"phoneNumber"`
	Status      string            `json:"status"`
	Fields      map[string]string `json:"fields"`
	// Documents maps slot names to public URLs; DocumentPaths to the object
	// paths they were uploaded to.
	Documents     map[string]string `json:"documents"`
	DocumentPaths map[string]string `json:"documentPaths"`
	CreatedAt     time.Time         `json:"createdAt"`
}

// data flattens the record into the stored document layout: form fields at
// the top level next to the bookkeeping keys.
func (r *SubmittedRecord) data() map[string]any {
	out := make(map[string]any, len(r.Fields)+6)
	for k, v := range r.Fields {
		out[k] = v
	}
	out[keyUserID] = r.UserID
	out[keyPhoneNumber] = r.PhoneNumber
	if r.Flow != "" {
		out[keyFlow] = r.Flow
	}
	if r.Status != "" {
		out[keyStatus] = r.Status
	}
	if len(r.Documents) > 0 {
		out[keyDocuments] = stringMapToAny(r.Documents)
		out[keyDocumentPaths] = stringMapToAny(r.DocumentPaths)
	}
	return out
}

// RecordFromDocument reads a stored application back.
func RecordFromDocument(doc *Document) *SubmittedRecord {
	rec := &SubmittedRecord{
		ID:            doc.ID,
		Collection:    doc.Collection,
		Fields:        make(map[string]string),
		Documents:     make(map[string]string),
		DocumentPaths: make(map[string]string),
		CreatedAt:     doc.CreatedAt,
	}
	for k, v := range doc.Data {
		switch k {
		case keyUserID:
			rec.UserID, _ = v.(string)
		case keyPhoneNumber:
			rec.PhoneNumber, _ = v.(string)
		case keyFlow:
			rec.Flow, _ = v.(string)
		case keyStatus:
			rec.Status, _ = v.(string)
		case keyDocuments:
			rec.Documents = anyToStringMap(v)
		case keyDocumentPaths:
			rec.DocumentPaths = anyToStringMap(v)
		default:
			if s, ok := v.(string); ok {
				rec.Fields[k] = s
			}
		}
	}
	return rec
}

func stringMapToAny(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func anyToStringMap(v any) map[string]string {
	out := make(map[string]string)
	switch m := v.(type) {
	case map[string]any:
		for k, val := range m {
			if s, ok := val.(string); ok {
				out[k] = s
			}
		}
	case map[string]string:
		for k, val := range m {
			out[k] = val
		}
	}
	return out
}
