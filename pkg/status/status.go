package status

const (
	OK                    = "OK"
	NOT_FOUND             = "NOT_FOUND"
	CONFLICT              = "CONFLICT"
	UNPROCESSABLE_ENTITY  = "UNPROCESSABLE_ENTITY"
	INTERNAL_SERVER_ERROR = "INTERNAL_SERVER_ERROR"
	BAD_GATEWAY           = "BAD_GATEWAY"
	GATEWAY_TIMEOUT       = "GATEWAY_TIMEOUT"
)
