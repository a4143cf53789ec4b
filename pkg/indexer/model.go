package indexer

import "encoding/json"

// The types below mirror the JSON returned by an IPNI find endpoint. They are
// decoded loosely: provider IDs and addresses are kept as the strings the
// indexer returned instead of being parsed into peer IDs and multiaddrs, so a
// single bad record cannot fail a whole response.

// Provider identifies the peer behind an advertisement.
type Provider struct {
	ID    string   `json:"ID"`
	Addrs []string `json:"Addrs"`
}

// FirstAddr returns the first advertised address, if any.
func (p Provider) FirstAddr() (string, bool) {
	if len(p.Addrs) == 0 || p.Addrs[0] == "" {
		return "", false
	}
	return p.Addrs[0], true
}

// ProviderResult is one advertisement for a multihash. Metadata starts with a
// varint transport code; it is base64 in JSON.
type ProviderResult struct {
	ContextID []byte   `json:"ContextID"`
	Metadata  []byte   `json:"Metadata"`
	Provider  Provider `json:"Provider"`
}

type MultihashResult struct {
	ProviderResults []ProviderResult `json:"ProviderResults"`
}

type FindResponse struct {
	MultihashResults []MultihashResult `json:"MultihashResults"`
}

// ProviderResults groups the provider results per multihash, in response order.
func (r FindResponse) ProviderResults() [][]ProviderResult {
	out := make([][]ProviderResult, 0, len(r.MultihashResults))
	for _, mr := range r.MultihashResults {
		out = append(out, mr.ProviderResults)
	}
	return out
}

func encodeResults(results [][]ProviderResult) ([]byte, error) {
	return json.Marshal(results)
}

// DecodeResults parses provider results as stored in the lookup cache.
func DecodeResults(data []byte) ([][]ProviderResult, error) {
	var out [][]ProviderResult
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
