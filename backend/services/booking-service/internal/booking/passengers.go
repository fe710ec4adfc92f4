package booking

import (
	"fmt"
	"strings"

	"railbook/backend/services/booking-service/internal/models"
	"railbook/backend/services/booking-service/internal/railerr"
)

// Seat codes used by the order endpoints. They differ from the search column keys.
var seatCodes = map[string]string{
	models.SeatBusiness:     "9",
	models.SeatPremier:      "P",
	models.SeatFirst:        "M",
	models.SeatSecond:       "O",
	models.SeatPremiumSoft:  "6",
	models.SeatSoftSleeper:  "4",
	models.SeatMotorSleeper: "F",
	models.SeatHardSleeper:  "3",
	models.SeatSoftSeat:     "2",
	models.SeatHardSeat:     "1",
}

// DefaultSeatCode is second class, used when no seat type is given.
const DefaultSeatCode = "O"

// SeatCode maps a seat class key (ze, zy, ...) or an order seat code (O, M, ...) to the order seat
// code. An empty seat means DefaultSeatCode. Standing (wz), other (qt) and unknown classes have no
// order code of their own and are rejected with railerr.ErrInvalidInput.
func SeatCode(seat string) (string, error) {
	seat = strings.TrimSpace(seat)
	if seat == "" {
		return DefaultSeatCode, nil
	}
	if code, ok := seatCodes[strings.ToLower(seat)]; ok {
		return code, nil
	}
	for _, code := range seatCodes {
		if strings.EqualFold(code, seat) {
			return code, nil
		}
	}
	return "", fmt.Errorf("%w: unsupported seat type %q", railerr.ErrInvalidInput, seat)
}

func ticketType(p models.Passenger) string {
	if p.PassengerType == "" {
		return "1"
	}
	return p.PassengerType
}

func idType(p models.Passenger) string {
	if p.IDType == "" {
		return "1"
	}
	return p.IDType
}

// PassengerTicketStr encodes one ticket descriptor per passenger:
//
//	seat,0,type,name,idType,idNo,mobile,N[,allEncStr]
//
// joined with '_'.
func PassengerTicketStr(seatCode string, passengers []models.Passenger) string {
	parts := make([]string, 0, len(passengers))
	for _, p := range passengers {
		fields := []string{seatCode, "0", ticketType(p), p.Name, idType(p), p.IDNo, p.Mobile, "N"}
		if p.EncodedID != "" {
			fields = append(fields, p.EncodedID)
		}
		parts = append(parts, strings.Join(fields, ","))
	}
	return strings.Join(parts, "_")
}

// OldPassengerStr encodes the known-passenger descriptors: name,idType,idNo,type_ per passenger.
func OldPassengerStr(passengers []models.Passenger) string {
	var sb strings.Builder
	for _, p := range passengers {
		sb.WriteString(strings.Join([]string{p.Name, idType(p), p.IDNo, ticketType(p)}, ","))
		sb.WriteByte('_')
	}
	return sb.String()
}
