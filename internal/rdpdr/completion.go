package rdpdr

import (
	"github.com/efficientgo/core/errors"
	"github.com/rcarmo/go-rdpdr/internal/protocol/rdpefs"
)

// Transport carries complete RDPDR PDUs to the server. Chunking into
// channel PDUs is the transport's job.
type Transport interface {
	Send(pdu []byte) error
}

// CompletionSender is the only place device I/O completions are built.
type CompletionSender struct {
	transport Transport
	metrics   *Metrics
}

func NewCompletionSender(transport Transport, metrics *Metrics) *CompletionSender {
	return &CompletionSender{transport: transport, metrics: metrics}
}

// Send emits one DR_DEVICE_IOCOMPLETION. payload is copied into the PDU, so
// the caller may release it afterwards.
func (c *CompletionSender) Send(deviceID, completionID uint32, status rdpefs.NTStatus, result uint32, payload []byte) error {
	pdu := (&rdpefs.DeviceIOCompletion{
		DeviceID:     deviceID,
		CompletionID: completionID,
		IoStatus:     status,
		Result:       result,
		Payload:      payload,
	}).Serialize()

	c.metrics.completion(status)
	if err := c.transport.Send(pdu); err != nil {
		return errors.Wrapf(err, "send completion %d for device %d", completionID, deviceID)
	}
	return nil
}
