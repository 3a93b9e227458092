package console

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFindMessage(t *testing.T) {
	tests := []struct {
		name        string
		text        string
		code        string
		description string
		pending     bool
		found       bool
	}{
		{
			name:  "no message",
			text:  "LOGON AT 10:31:02 EDT FRIDAY\nReady;",
			found: false,
		},
		{
			name:        "known code",
			text:        "HCPLGA054E\n",
			code:        "HCPLGA054E",
			description: "Already logged on",
			found:       true,
		},
		{
			name:        "pending logoff",
			text:        "HCPLGA361E LOGOFF/FORCE pending for user LNXGUEST1",
			code:        "HCPLGA361E",
			description: "LOGOFF/FORCE pending for user",
			pending:     true,
			found:       true,
		},
		{
			name:        "generic code with free text",
			text:        "HCPMFS057E LNXGUEST1 not in CP directory",
			code:        "HCPMFS057E",
			description: "LNXGUEST1 not in CP directory",
			found:       true,
		},
		{
			name:  "informational severity ignored",
			text:  "HCPMID6001I TIME IS 10:31:02 EDT FRIDAY",
			found: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, description, pending, found := findMessage(tt.text)
			assert.Equal(t, tt.found, found)
			if !tt.found {
				return
			}
			assert.Equal(t, tt.code, code)
			assert.Equal(t, tt.description, description)
			assert.Equal(t, tt.pending, pending)
		})
	}
}
