package upstream

// Paths relative to the base URL.
const (
	PathCreateQR       = "passport/web/create-qr64"
	PathCheckQR        = "passport/web/checkqr"
	PathAuthUamtk      = "passport/web/auth/uamtk"
	PathUamAuthClient  = "otn/uamauthclient"
	PathLeftTicketInit = "otn/leftTicket/init"
	// DefaultQueryPath is used when the init page does not name the current query endpoint.
	DefaultQueryPath   = "leftTicket/query"
	PathSubmitOrder    = "otn/leftTicket/submitOrderRequest"
	PathInitDc         = "otn/confirmPassenger/initDc"
	PathPassengerDTOs  = "otn/confirmPassenger/getPassengerDTOs"
	PathCheckOrderInfo = "otn/confirmPassenger/checkOrderInfo"
	PathQueueCount     = "otn/confirmPassenger/getQueueCount"
	PathConfirmQueue   = "otn/confirmPassenger/confirmSingleForQueue"
	PathStationNames   = "otn/resources/js/framework/station_name.js"
)

// AppID is sent with every passport call.
const AppID = "otn"
