package loadtest

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/wesleyorama2/merchload/internal/loadtest/metrics"
)

// insufficientFunds is the fragment the service puts in a 400 body when the
// caller cannot afford a purchase or transfer.
var insufficientFunds = []byte("not enough coin")

// Classify maps a response, or the lack of one, onto an outcome.
//
// FetchInfo passes only on 200. BuyItem and SendCoin also pass on a 400 whose
// body mentions insufficient funds: running out of coins is expected under
// sustained load and is not a service failure.
func Classify(kind ActionKind, resp *Response, err error) (metrics.Outcome, string) {
	if err != nil {
		return metrics.OutcomeTransportError, err.Error()
	}
	if resp == nil {
		return metrics.OutcomeTransportError, "no response"
	}

	if resp.StatusCode == http.StatusOK {
		return metrics.OutcomePass, ""
	}

	switch kind {
	case BuyItem, SendCoin:
		if resp.StatusCode == http.StatusBadRequest && bytes.Contains(resp.Body, insufficientFunds) {
			return metrics.OutcomePass, ""
		}
	}

	return metrics.OutcomeCheckFailed, fmt.Sprintf("unexpected status %d", resp.StatusCode)
}
