package booking

import (
	"errors"
	"testing"

	"railbook/backend/services/booking-service/internal/models"
	"railbook/backend/services/booking-service/internal/railerr"
)

func TestExtractInitParams(t *testing.T) {
	body := []byte(`<!DOCTYPE html><html><head>
<script>var ctx='/otn/';</script>
<script>
  var globalRepeatSubmitToken = '8a5b0f';
  var ticketInfoForPassengerForm={'cardTypes':[],'key_check_isChange':'3F2A','leftTicketStr':'xyz%2F1','purpose_codes':'00','train_location':'Q6'};
</script></head><body></body></html>`)

	p, err := ExtractInitParams(body)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	want := InitParams{Token: "8a5b0f", LeftTicketStr: "xyz%2F1", KeyCheckIsChange: "3F2A", TrainLocation: "Q6", PurposeCodes: "00"}
	if p != want {
		t.Fatalf("got %+v want %+v", p, want)
	}
}

func TestExtractInitParamsMissingToken(t *testing.T) {
	_, err := ExtractInitParams([]byte(`<html><script>var ticketInfoForPassengerForm={'leftTicketStr':'x'};</script></html>`))
	if !errors.Is(err, railerr.ErrUpstreamFormat) {
		t.Fatalf("expected format error, got %v", err)
	}
	_, err = ExtractInitParams([]byte(`<html><body>请登录</body></html>`))
	if !errors.Is(err, railerr.ErrUpstreamFormat) {
		t.Fatalf("expected format error for login page, got %v", err)
	}
}

func TestPassengerEncoding(t *testing.T) {
	ps := []models.Passenger{
		{Name: "张三", IDType: "1", IDNo: "110", Mobile: "138"},
		{Name: "李四", IDNo: "220", PassengerType: "2", EncodedID: "abc"},
	}
	if got := PassengerTicketStr("M", ps); got != "M,0,1,张三,1,110,138,N_M,0,2,李四,1,220,,N,abc" {
		t.Fatalf("unexpected ticket str %q", got)
	}
	if got := OldPassengerStr(ps); got != "张三,1,110,1_李四,1,220,2_" {
		t.Fatalf("unexpected old passenger str %q", got)
	}
}

func TestSeatCode(t *testing.T) {
	cases := map[string]string{"ze": "O", "ZY": "M", "swz": "9", "O": "O", "m": "M", "3": "3", "": "O", " yw ": "3"}
	for in, want := range cases {
		got, err := SeatCode(in)
		if err != nil || got != want {
			t.Errorf("SeatCode(%q) = %q, %v, want %q", in, got, err, want)
		}
	}
	for _, in := range []string{"wz", "qt", "bogus", "Z"} {
		if got, err := SeatCode(in); !errors.Is(err, railerr.ErrInvalidInput) {
			t.Errorf("SeatCode(%q) = %q, %v, want invalid input", in, got, err)
		}
	}
}
