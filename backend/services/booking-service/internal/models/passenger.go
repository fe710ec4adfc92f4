package models

// Passenger is a contact registered on the upstream account.
type Passenger struct {
	Name          string `json:"name"`
	IDType        string `json:"id_type"`
	IDNo          string `json:"id_no"`
	Mobile        string `json:"mobile"`
	PassengerType string `json:"passenger_type"`
	EncodedID     string `json:"-"`
}
