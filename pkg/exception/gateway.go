package exception

import "errors"

var (
	ErrGatewayStatus        = errors.New("gateway: unexpected http status")
	ErrGatewayResponseCode  = errors.New("gateway: response code is not zero")
	ErrGatewayDecodeBody    = errors.New("gateway: decode response body")
	ErrGatewayMissingToken  = errors.New("gateway: missing bearer token")
	ErrOrderRejected        = errors.New("gateway: order rejected by venue")
	ErrCancelPartialFailure = errors.New("gateway: cancel failed for some orders")
	ErrPlacementAmbiguous   = errors.New("gateway: placement outcome unknown")
)
