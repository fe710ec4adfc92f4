package booking

import (
	"railbook/backend/services/booking-service/internal/railerr"
	"railbook/backend/services/booking-service/internal/scrape"
)

// InitParams are the confirmation parameters embedded in the initDc page.
type InitParams struct {
	Token            string
	LeftTicketStr    string
	KeyCheckIsChange string
	TrainLocation    string
	PurposeCodes     string
}

// ExtractInitParams reads the anti-replay token and confirmation parameters out of the initDc page
// body. A missing token or left-ticket descriptor is reported as ErrUpstreamFormat.
func ExtractInitParams(body []byte) (InitParams, error) {
	script := scrape.ScriptText(body)

	token, ok := scrape.Var(script, "globalRepeatSubmitToken")
	if !ok || token == "" {
		return InitParams{}, railerr.Format("initDc page has no submit token")
	}

	p := InitParams{Token: token, PurposeCodes: "00"}
	if p.LeftTicketStr, ok = scrape.Field(script, "leftTicketStr"); !ok || p.LeftTicketStr == "" {
		return InitParams{}, railerr.Format("initDc page has no leftTicketStr")
	}
	p.KeyCheckIsChange, _ = scrape.Field(script, "key_check_isChange")
	p.TrainLocation, _ = scrape.Field(script, "train_location")
	if v, ok := scrape.Field(script, "purpose_codes"); ok && v != "" {
		p.PurposeCodes = v
	}
	return p, nil
}
