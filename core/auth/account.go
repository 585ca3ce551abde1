package auth

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Upstream account types.
const (
	AccountStudent  = "E"
	AccountGuardian = "1"
)

// ID is an upstream identifier, sent either as a number or as a string.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

type (
	Student struct {
		ID        ID     `json:"id"`
		FirstName string `json:"prenom"`
		LastName  string `json:"nom"`
	}

	Account struct {
		ID        ID     `json:"id"`
		Type      string `json:"typeCompte"`
		FirstName string `json:"prenom"`
		LastName  string `json:"nom"`
		Profile   struct {
			Students []Student `json:"eleves"`
		} `json:"profile"`
	}

	// Subject is whom the data calls are about.
	Subject struct {
		ID        string
		FirstName string
		LastName  string
	}

	loginData struct {
		Accounts []json.RawMessage `json:"accounts"`
	}
)

// IsGuardian tells whether the account acts on behalf of its children.
func (a Account) IsGuardian() bool {
	if a.Type == AccountGuardian {
		return true
	}
	return a.Type != AccountStudent && len(a.Profile.Students) > 0
}

// Subject resolves a guardian account to its first listed child.
func (a Account) Subject() Subject {
	if a.IsGuardian() && len(a.Profile.Students) > 0 {
		child := a.Profile.Students[0]
		return Subject{
			ID:        string(child.ID),
			FirstName: strings.TrimSpace(child.FirstName),
			LastName:  strings.TrimSpace(child.LastName),
		}
	}
	return Subject{
		ID:        string(a.ID),
		FirstName: strings.TrimSpace(a.FirstName),
		LastName:  strings.TrimSpace(a.LastName),
	}
}

// firstAccount extracts accounts[0] from an authenticated payload, raw and decoded.
func firstAccount(data json.RawMessage) (json.RawMessage, Account, bool) {
	var ld loginData
	if len(data) == 0 || json.Unmarshal(data, &ld) != nil || len(ld.Accounts) == 0 {
		return nil, Account{}, false
	}
	var acc Account
	if err := json.Unmarshal(ld.Accounts[0], &acc); err != nil || acc.ID == "" {
		return nil, Account{}, false
	}
	return ld.Accounts[0], acc, true
}
