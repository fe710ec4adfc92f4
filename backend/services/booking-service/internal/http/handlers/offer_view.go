package handlers

import (
	"railbook/backend/services/booking-service/internal/models"
)

var seatClasses = []string{
	models.SeatBusiness, models.SeatPremier, models.SeatFirst, models.SeatSecond,
	models.SeatPremiumSoft, models.SeatSoftSleeper, models.SeatMotorSleeper, models.SeatHardSleeper,
	models.SeatSoftSeat, models.SeatHardSeat, models.SeatStanding, models.SeatOther,
}

// offerView is the front-door shape of an offer: train_no is the display number and every seat
// class is flattened to <class>_num.
func offerView(o models.Offer) map[string]interface{} {
	v := map[string]interface{}{
		"train_no":          o.TrainCode,
		"train_internal_no": o.TrainNo,
		"from_station_code": o.FromCode,
		"to_station_code":   o.ToCode,
		"start_time":        o.StartTime,
		"arrive_time":       o.ArriveTime,
		"duration":          o.Duration,
		"train_type":        o.TrainType(),
		"bookable":          o.Bookable,
	}
	for _, class := range seatClasses {
		v[class+"_num"] = o.Seat(class)
	}
	return v
}

func offerViews(offers []models.Offer) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(offers))
	for _, o := range offers {
		out = append(out, offerView(o))
	}
	return out
}
