package models

// Seat class keys used in Offer.Seats. The values are whatever upstream reports: a number, "有"
// (plenty), "无" (none) or "--" when the class does not exist on the train.
const (
	SeatBusiness     = "swz"
	SeatPremier      = "tz"
	SeatFirst        = "zy"
	SeatSecond       = "ze"
	SeatSoftSleeper  = "rw"
	SeatPremiumSoft  = "gr"
	SeatMotorSleeper = "srrb"
	SeatHardSleeper  = "yw"
	SeatSoftSeat     = "rz"
	SeatHardSeat     = "yz"
	SeatStanding     = "wz"
	SeatOther        = "qt"
)

// NoSeats marks a class that upstream left blank.
const NoSeats = "--"

// Offer is one parsed train row from a left-ticket search.
type Offer struct {
	TrainCode      string            `json:"train_code"`
	TrainNo        string            `json:"train_no"`
	FromCode       string            `json:"from_code"`
	ToCode         string            `json:"to_code"`
	StartTime      string            `json:"start_time"`
	ArriveTime     string            `json:"arrive_time"`
	Duration       string            `json:"duration"`
	StartTrainDate string            `json:"start_train_date"`
	Secret         string            `json:"secret"`
	LeftTicket     string            `json:"left_ticket"`
	Location       string            `json:"location"`
	Bookable       bool              `json:"bookable"`
	Seats          map[string]string `json:"seats"`
}

// Seat returns the remaining count for class, or NoSeats.
func (o Offer) Seat(class string) string {
	if v, ok := o.Seats[class]; ok && v != "" {
		return v
	}
	return NoSeats
}

// TrainType is the leading character of the display train number (G, D, K, ...).
func (o Offer) TrainType() string {
	if o.TrainCode == "" {
		return ""
	}
	return o.TrainCode[:1]
}
