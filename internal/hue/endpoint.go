package hue

// Endpoint is the network identity of a paired bridge.
// A new credential requires pairing again; Endpoint values are never mutated.
type Endpoint struct {
	Address    string `json:"address"`
	Credential string `json:"credential"`
}

// NewEndpoint builds an endpoint from a persisted address and credential.
func NewEndpoint(address, credential string) Endpoint {
	return Endpoint{Address: address, Credential: credential}
}

// IsZero reports whether either half of the identity is missing.
func (e Endpoint) IsZero() bool {
	return e.Address == "" || e.Credential == ""
}

// String never includes the credential.
func (e Endpoint) String() string {
	return e.Address
}
