package amqp

import (
	"encoding/json"
	"time"
)

// RecategorizeMessage asks the worker to re-run the taxonomy over every
// stored transaction of an account. Only the account ID travels on the wire;
// the worker reads the rows from the database.
type RecategorizeMessage struct {
	AccountID string    `json:"account_id"`
	Timestamp time.Time `json:"timestamp"`
}

// NewRecategorizeMessage creates a recategorization request for an account.
func NewRecategorizeMessage(accountID string) *RecategorizeMessage {
	return &RecategorizeMessage{
		AccountID: accountID,
		Timestamp: time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *RecategorizeMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// FromJSON creates a message from JSON bytes
func RecategorizeMessageFromJSON(data []byte) (*RecategorizeMessage, error) {
	var msg RecategorizeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
