package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devpulse/internal/crypto"
)

func TestHostValidate(t *testing.T) {
	base := Host{Name: "nas", Address: "10.0.0.5", User: "admin"}

	tests := []struct {
		name    string
		mutate  func(h *Host)
		wantErr error
		errText string
	}{
		{name: "password ok", mutate: func(h *Host) { h.AuthMethod = AuthPassword; h.Password = "enc" }},
		{name: "key ok", mutate: func(h *Host) { h.AuthMethod = AuthKey; h.KeyPath = "/id_ed25519" }},
		{name: "password missing", mutate: func(h *Host) { h.AuthMethod = AuthPassword }, wantErr: ErrMissingCredential},
		{name: "key missing", mutate: func(h *Host) { h.AuthMethod = AuthKey }, wantErr: ErrMissingCredential},
		{name: "unknown method", mutate: func(h *Host) { h.AuthMethod = "kerberos" }, wantErr: ErrUnsupportedMethod},
		{name: "no address", mutate: func(h *Host) { h.AuthMethod = AuthKey; h.KeyPath = "k"; h.Address = " " }, errText: "address"},
		{name: "bad port", mutate: func(h *Host) { h.AuthMethod = AuthKey; h.KeyPath = "k"; h.Port = 70000 }, errText: "invalid port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := base
			tt.mutate(&h)
			err := h.Validate()
			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.errText != "":
				assert.ErrorContains(t, err, tt.errText)
			default:
				assert.NoError(t, err)
			}
		})
	}
}

func TestHostSSHPort(t *testing.T) {
	h := Host{}
	assert.Equal(t, 22, h.SSHPort())
	h.Port = 2222
	assert.Equal(t, 2222, h.SSHPort())
}

func TestHostPasswordEncryption(t *testing.T) {
	salt, err := crypto.NewSalt()
	require.NoError(t, err)
	c, err := crypto.NewCipher("pass", salt)
	require.NoError(t, err)

	h := Host{}
	require.NoError(t, h.SetPassword("hunter2", c))
	assert.NotEqual(t, "hunter2", h.Password)

	got, err := h.GetPassword(c)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", got)

	require.NoError(t, h.SetPassword("", c))
	got, err = h.GetPassword(c)
	require.NoError(t, err)
	assert.Empty(t, got)
}
