// Package passenger lists the contact passengers registered on the upstream account.
package passenger

import (
	"context"
	"net/url"
	"strconv"

	"railbook/backend/services/booking-service/internal/models"
	"railbook/backend/services/booking-service/internal/railerr"
	"railbook/backend/services/booking-service/internal/upstream"
)

type dto map[string]any

// first returns the first non-empty string among keys.
func (d dto) first(keys ...string) string {
	for _, k := range keys {
		switch v := d[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

// List fetches the account's passengers. Field names have moved between upstream releases, so each
// attribute is read from several candidate keys.
func List(ctx context.Context, doer upstream.Doer) ([]models.Passenger, error) {
	resp, err := doer.Do(ctx, upstream.PostForm(upstream.PathPassengerDTOs, url.Values{"_json_att": {""}}))
	if err != nil {
		return nil, err
	}

	var env struct {
		Status   bool     `json:"status"`
		Messages []string `json:"messages"`
		Data     *struct {
			NormalPassengers []dto `json:"normal_passengers"`
			DJPassengers     []dto `json:"dj_passengers"`
		} `json:"data"`
	}
	if err := resp.DecodeJSON(&env); err != nil {
		return nil, err
	}
	if !env.Status || env.Data == nil {
		if len(env.Messages) > 0 {
			return nil, railerr.Transient("passenger list rejected: %s", env.Messages[0])
		}
		return nil, railerr.Format("passenger list has no data")
	}

	out := make([]models.Passenger, 0, len(env.Data.NormalPassengers))
	for _, p := range env.Data.NormalPassengers {
		name := p.first("passenger_name", "name")
		idNo := p.first("passenger_id_no", "id_no")
		if name == "" && idNo == "" {
			continue
		}
		idType := p.first("passenger_id_type_code", "id_type_code")
		if idType == "" {
			idType = "1"
		}
		ptype := p.first("passenger_type", "type")
		if ptype == "" {
			ptype = "1"
		}
		out = append(out, models.Passenger{
			Name:          name,
			IDType:        idType,
			IDNo:          idNo,
			Mobile:        p.first("mobile_no", "mobile", "phone_no"),
			PassengerType: ptype,
			EncodedID:     p.first("allEncStr"),
		})
	}
	return out, nil
}
