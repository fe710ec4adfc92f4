package inventory

import (
	"strings"

	"railbook/backend/services/booking-service/internal/models"
)

// Positions inside a left-ticket result row.
const (
	colSecret         = 0
	colTrainNo        = 2
	colTrainCode      = 3
	colFromCode       = 6
	colToCode         = 7
	colStartTime      = 8
	colArriveTime     = 9
	colDuration       = 10
	colCanBuy         = 11
	colLeftTicket     = 12
	colStartTrainDate = 13
	colLocation       = 15

	minRowFields = 33
)

var seatColumns = map[int]string{
	21: models.SeatPremiumSoft,
	22: models.SeatOther,
	23: models.SeatSoftSleeper,
	24: models.SeatSoftSeat,
	25: models.SeatPremier,
	26: models.SeatStanding,
	28: models.SeatHardSleeper,
	29: models.SeatHardSeat,
	30: models.SeatSecond,
	31: models.SeatFirst,
	32: models.SeatBusiness,
	33: models.SeatMotorSleeper,
}

// ParseRow decodes one pipe-delimited result row. Rows that are too short or lack a booking secret
// or train number are rejected whole.
func ParseRow(raw string) (models.Offer, bool) {
	f := strings.Split(raw, "|")
	if len(f) < minRowFields {
		return models.Offer{}, false
	}
	if f[colSecret] == "" || f[colTrainCode] == "" {
		return models.Offer{}, false
	}

	seats := make(map[string]string, len(seatColumns))
	for idx, class := range seatColumns {
		v := models.NoSeats
		if idx < len(f) && f[idx] != "" {
			v = f[idx]
		}
		seats[class] = v
	}

	return models.Offer{
		TrainCode:      f[colTrainCode],
		TrainNo:        f[colTrainNo],
		FromCode:       f[colFromCode],
		ToCode:         f[colToCode],
		StartTime:      f[colStartTime],
		ArriveTime:     f[colArriveTime],
		Duration:       f[colDuration],
		StartTrainDate: f[colStartTrainDate],
		Secret:         f[colSecret],
		LeftTicket:     f[colLeftTicket],
		Location:       f[colLocation],
		Bookable:       f[colCanBuy] == "Y",
		Seats:          seats,
	}, true
}
