package deal

import (
	"errors"

	"go.uber.org/zap/zapcore"

	"github.com/storacha/deal-ingester/pkg/protocol"
)

// ErrMissingPayloadCID is returned for a deal with no payload CID to look up.
var ErrMissingPayloadCID = errors.New("deal has no payload CID")

// Deal is a storage deal as emitted by the upstream deal parser. Only the
// fields needed to build retrieval tasks are decoded; the rest are ignored.
type Deal struct {
	Provider   string `json:"provider"`
	PieceCID   string `json:"pieceCID"`
	PayloadCID string `json:"payloadCID"`
}

func (d Deal) Validate() error {
	if d.PayloadCID == "" {
		return ErrMissingPayloadCID
	}
	return nil
}

func (d Deal) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("provider", d.Provider)
	enc.AddString("piece", d.PieceCID)
	enc.AddString("payload", d.PayloadCID)
	return nil
}

// RetrievalTask is a single endpoint known to serve the payload of a deal.
type RetrievalTask struct {
	MinerID  string            `json:"minerId"`
	PieceCID string            `json:"pieceCID"`
	CID      string            `json:"cid"`
	Address  string            `json:"address"`
	Protocol protocol.Protocol `json:"protocol"`
}

// NewRetrievalTask creates a task for the deal served at addr over p.
func NewRetrievalTask(d Deal, addr string, p protocol.Protocol) RetrievalTask {
	return RetrievalTask{
		MinerID:  d.Provider,
		PieceCID: d.PieceCID,
		CID:      d.PayloadCID,
		Address:  addr,
		Protocol: p,
	}
}
