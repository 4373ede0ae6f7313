package crawler

import (
	"github.com/brscrawler/brs-crawler/model"
	"github.com/brscrawler/brs-crawler/protocol"
)

// Outcome is what a failed scan does to the ledger: the scan result to record and, when Block is not NotBlocked,
// the block state the peer moves to.
type Outcome struct {
	Result model.ScanResult
	Block  model.BlockReason
}

// Blocks reports whether the outcome removes the peer from rotation.
func (o Outcome) Blocks() bool {
	return o.Block != model.NotBlocked
}

// Classify maps a failed scan error to its outcome. Errors that did not come from the protocol client are Unknown.
func Classify(err error) Outcome {
	switch protocol.KindOf(err) {
	case protocol.KindTimeout:
		return Outcome{Result: model.ResultTimeout}
	case protocol.KindRefused:
		return Outcome{Result: model.ResultRefused}
	case protocol.KindAddressInvalid:
		return Outcome{Result: model.ResultIllegalAddress, Block: model.IllegalAddress}
	case protocol.KindRedirect:
		return Outcome{Result: model.ResultRedirect}
	case protocol.KindHTTPStatus, protocol.KindSchemaInvalid:
		return Outcome{Result: model.ResultInvalidResponse}
	case protocol.KindEmptyBody:
		return Outcome{Result: model.ResultEmptyResponse}
	default:
		return Outcome{Result: model.ResultUnknown}
	}
}

// CheckState is the state written to an IP check after a scan ended with result. A peer that answered at all,
// even with garbage, proves the IP is live.
func CheckState(result model.ScanResult) model.BlockReason {
	switch result {
	case model.ResultSuccess, model.ResultRedirect, model.ResultInvalidResponse, model.ResultEmptyResponse:
		return model.NotBlocked
	default:
		return model.Unreachable
	}
}
