package steve

import "time"

// Authorization limits carried on an OCPP tag. A nil limit is treated the
// same as unlimited.
const (
	LimitUnlimited = -1
	LimitBlocked   = 0
)

// Tag is an OCPP authorization tag as reported by the SteVe backend.
type Tag struct {
	OcppTagPk                 int64  `json:"ocppTagPk"`
	IDTag                     string `json:"idTag"`
	ParentIDTag               string `json:"parentIdTag"`
	MaxActiveTransactionCount *int   `json:"maxActiveTransactionCount"`
	Note                      string `json:"note"`
}

// Limit resolves the effective authorization limit; nil counts as unlimited.
func (t Tag) Limit() int {
	if t.MaxActiveTransactionCount == nil {
		return LimitUnlimited
	}
	return *t.MaxActiveTransactionCount
}

// UpdateTagForm is the complete tag form the backend requires on update.
// Partial patches are not supported by the API.
type UpdateTagForm struct {
	IDTag                     string `json:"idTag"`
	ParentIDTag               string `json:"parentIdTag"`
	MaxActiveTransactionCount int    `json:"maxActiveTransactionCount"`
	Note                      string `json:"note"`
}

// Transaction is an external charging session. Meter values are
// integer-valued Wh strings as delivered by the backend.
type Transaction struct {
	ID             int64      `json:"id"`
	ChargeBoxID    string     `json:"chargeBoxId"`
	OcppIDTag      string     `json:"ocppIdTag"`
	StartTimestamp time.Time  `json:"startTimestamp"`
	StopTimestamp  *time.Time `json:"stopTimestamp"`
	StartValue     string     `json:"startValue"`
	StopValue      *string    `json:"stopValue"`
	// LastMeterValue is the most recent reading the backend has for a
	// still-active session, when one exists.
	LastMeterValue *string `json:"lastMeterValue"`
}

// Completed reports whether the session has stopped.
func (t Transaction) Completed() bool {
	return t.StopTimestamp != nil
}

// TransactionQuery filters the transaction listing.
type TransactionQuery struct {
	ChargeBoxID string
	OcppIDTag   string
	ActiveOnly  bool
	From        *time.Time
	To          *time.Time
}
