package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentifyRequestUnmarshal(t *testing.T) {
	str := func(s string) *string { return &s }
	tests := []struct {
		name     string
		body     string
		expected IdentifyRequest
		wantErr  bool
	}{
		{name: "strings", body: `{"email":"a@x.com","phoneNumber":"123"}`, expected: IdentifyRequest{Email: str("a@x.com"), PhoneNumber: str("123")}},
		{name: "numeric phone keeps literal text", body: `{"phoneNumber":123456}`, expected: IdentifyRequest{PhoneNumber: str("123456")}},
		{name: "nulls are absent", body: `{"email":null,"phoneNumber":null}`, expected: IdentifyRequest{}},
		{name: "missing fields are absent", body: `{}`, expected: IdentifyRequest{}},
		{name: "empty string is kept for the caller to judge", body: `{"email":""}`, expected: IdentifyRequest{Email: str("")}},
		{name: "boolean rejected", body: `{"phoneNumber":false}`, wantErr: true},
		{name: "object rejected", body: `{"email":{"a":1}}`, wantErr: true},
		{name: "array body rejected", body: `[]`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got IdentifyRequest
			err := json.Unmarshal([]byte(tt.body), &got)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestContactAccessors(t *testing.T) {
	email := "a@x.com"
	c := Contact{Email: &email, LinkPrecedence: LinkPrimary}

	assert.True(t, c.IsPrimary())
	assert.Equal(t, "a@x.com", c.EmailValue())
	assert.Equal(t, "", c.PhoneValue())
	assert.True(t, LinkSecondary.Valid())
	assert.False(t, LinkPrecedence("").Valid())
}
