package nodes

import "encoding/json"

// Credential is decrypted secret material resolved for one node invocation.
// It renders masked in logs and JSON.
type Credential struct {
	ID     string
	Name   string
	Type   string
	Secret string
}

func (c Credential) String() string {
	if c.Secret == "" {
		return "Credential{ID:" + c.ID + "}"
	}
	return "Credential{ID:" + c.ID + ", Type:" + c.Type + ", Secret:***}"
}

func (c Credential) MarshalJSON() ([]byte, error) {
	type masked struct {
		ID     string `json:"id"`
		Name   string `json:"name,omitempty"`
		Type   string `json:"type"`
		Secret string `json:"secret,omitempty"`
	}
	out := masked{ID: c.ID, Name: c.Name, Type: c.Type}
	if c.Secret != "" {
		out.Secret = "***"
	}
	return json.Marshal(out)
}

// IsBearer reports whether the credential is injected as an Authorization bearer token.
func (c *Credential) IsBearer() bool {
	if c == nil || c.Secret == "" {
		return false
	}
	switch c.Type {
	case "api_key", "bearer", "token", "":
		return true
	}
	return false
}
