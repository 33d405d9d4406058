package types

// BufReqResult is the answer to a transport-protocol buffer request
type BufReqResult uint8

const (
	BufReqOK       BufReqResult = iota // Buffer ready
	BufReqNotOK                        // Buffer not available
	BufReqBusy                         // Busy, try again later
	BufReqOverflow                     // Requested length exceeds capacity
)

// String returns string representation of BufReqResult
func (r BufReqResult) String() string {
	switch r {
	case BufReqOK:
		return "OK"
	case BufReqNotOK:
		return "NotOK"
	case BufReqBusy:
		return "Busy"
	case BufReqOverflow:
		return "Overflow"
	default:
		return "Unknown"
	}
}

// TpDataState describes the state of previously handed-over data
type TpDataState uint8

const (
	TpDataConf    TpDataState = iota // Data confirmed
	TpDataRetry                      // Data has to be sent again
	TpConfPending                    // Waiting for confirmation of previous data
)

// String returns string representation of TpDataState
func (s TpDataState) String() string {
	switch s {
	case TpDataConf:
		return "DataConf"
	case TpDataRetry:
		return "DataRetry"
	case TpConfPending:
		return "ConfPending"
	default:
		return "Unknown"
	}
}

// RetryInfo carries the retry state of a transmission
type RetryInfo struct {
	State       TpDataState
	TxTpDataCnt PduLength // Bytes remaining to send when retrying
}
