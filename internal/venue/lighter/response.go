package lighter

import (
	"fmt"

	"opt-hedge-bot/internal/venue"
)

type sendTxResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	TxHash  string `json:"tx_hash"`
}

// classifySendTx maps a decoded sendTx response onto the venue error
// taxonomy. The venue returns HTTP 200 with an application code, so
// rejections have to be read out of the body.
func classifySendTx(resp sendTxResponse) error {
	switch {
	case resp.Code == 200:
		return nil
	case resp.Code == 21101 || resp.Code == 21102:
		// invalid signature / unknown account
		return fmt.Errorf("%w: code %d: %s", venue.ErrAuth, resp.Code, resp.Message)
	case resp.Code >= 21000 && resp.Code < 22000:
		return fmt.Errorf("%w: code %d: %s", venue.ErrRejected, resp.Code, resp.Message)
	default:
		return fmt.Errorf("%w: code %d: %s", venue.ErrTransport, resp.Code, resp.Message)
	}
}
