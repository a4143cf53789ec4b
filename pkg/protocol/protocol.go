// Package protocol maps the transport code carried in an IPNI advertisement's
// metadata to the retrieval protocol it announces.
package protocol

import (
	"errors"
	"fmt"

	"github.com/multiformats/go-multicodec"
	"github.com/multiformats/go-varint"
)

// Protocol is the retrieval protocol announced by a provider.
type Protocol string

const (
	Bitswap   Protocol = "bitswap"
	Graphsync Protocol = "graphsync"
	HTTP      Protocol = "http"
)

// All lists the known protocols in report order.
var All = []Protocol{Bitswap, Graphsync, HTTP}

// GraphsyncAlias is announced by some providers in place of
// transport-graphsync-filecoinv1. The value is defined by the advertising
// side and must not be changed without checking the indexer's protocol table.
const GraphsyncAlias multicodec.Code = 4128768

var table = map[multicodec.Code]Protocol{
	multicodec.TransportBitswap:             Bitswap,
	multicodec.TransportGraphsyncFilecoinv1: Graphsync,
	multicodec.TransportIpfsGatewayHttp:     HTTP,
	GraphsyncAlias:                          Graphsync,
}

// ErrMalformedVarint is returned when the metadata does not start with a
// valid unsigned varint.
var ErrMalformedVarint = errors.New("malformed protocol varint")

// Decode reads the leading unsigned varint of an advertisement's metadata.
func Decode(metadata []byte) (multicodec.Code, error) {
	code, _, err := varint.FromUvarint(metadata)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrMalformedVarint, err)
	}
	return multicodec.Code(code), nil
}

// FromCode returns the protocol for a transport code. The second return value
// is false for codes with no mapping.
func FromCode(code multicodec.Code) (Protocol, bool) {
	p, ok := table[code]
	return p, ok
}

// FromMetadata decodes the metadata and maps it in one step. An unmapped code
// is not an error: it yields ok == false along with the decoded code so the
// caller can report it.
func FromMetadata(metadata []byte) (p Protocol, code multicodec.Code, ok bool, err error) {
	code, err = Decode(metadata)
	if err != nil {
		return "", 0, false, err
	}
	p, ok = FromCode(code)
	return p, code, ok, nil
}
