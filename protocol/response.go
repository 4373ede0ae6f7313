package protocol

import (
	"golang.org/x/xerrors"
)

// RequestKind names one of the peer protocol requests the crawler makes.
type RequestKind string

const (
	GetInfo                 RequestKind = "getInfo"
	GetPeers                RequestKind = "getPeers"
	GetCumulativeDifficulty RequestKind = "getCumulativeDifficulty"
)

// ProtocolVersion is sent with every request.
const ProtocolVersion = "B1"

type request struct {
	Protocol    string      `json:"protocol"`
	RequestType RequestKind `json:"requestType"`
}

// A Response is decoded from a peer reply and checked for required fields.
type Response interface {
	Validate() error
}

var errMissingField = xerrors.New("missing required field")

// InfoResponse is the reply to getInfo.
type InfoResponse struct {
	Application      *string `json:"application"`
	Version          *string `json:"version"`
	Platform         *string `json:"platform"`
	ShareAddress     *bool   `json:"shareAddress,omitempty"`
	AnnouncedAddress *string `json:"announcedAddress,omitempty"`
}

func (r *InfoResponse) Validate() error {
	switch {
	case r.Application == nil:
		return xerrors.Errorf("application: %w", errMissingField)
	case r.Version == nil:
		return xerrors.Errorf("version: %w", errMissingField)
	case r.Platform == nil:
		return xerrors.Errorf("platform: %w", errMissingField)
	}
	return nil
}

// PeersResponse is the reply to getPeers. Elements are pointers so a JSON null entry is told apart from an empty
// string.
type PeersResponse struct {
	Peers *[]*string `json:"peers"`
}

// NewPeersResponse returns a reply listing addrs.
func NewPeersResponse(addrs ...string) *PeersResponse {
	peers := make([]*string, len(addrs))
	for i := range addrs {
		peers[i] = &addrs[i]
	}
	return &PeersResponse{Peers: &peers}
}

func (r *PeersResponse) Validate() error {
	if r.Peers == nil {
		return xerrors.Errorf("peers: %w", errMissingField)
	}
	for i, p := range *r.Peers {
		if p == nil {
			return xerrors.Errorf("peers[%d]: not a string", i)
		}
	}
	return nil
}

// List returns the reported peer addresses.
func (r *PeersResponse) List() []string {
	if r.Peers == nil {
		return nil
	}
	out := make([]string, 0, len(*r.Peers))
	for _, p := range *r.Peers {
		if p != nil {
			out = append(out, *p)
		}
	}
	return out
}

// CumulativeDifficultyResponse is the reply to getCumulativeDifficulty.
type CumulativeDifficultyResponse struct {
	BlockchainHeight     *int64  `json:"blockchainHeight"`
	CumulativeDifficulty *string `json:"cumulativeDifficulty"`
}

func (r *CumulativeDifficultyResponse) Validate() error {
	switch {
	case r.BlockchainHeight == nil:
		return xerrors.Errorf("blockchainHeight: %w", errMissingField)
	case r.CumulativeDifficulty == nil:
		return xerrors.Errorf("cumulativeDifficulty: %w", errMissingField)
	}
	return nil
}
