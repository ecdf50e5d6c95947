package authv1

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/encoding"
)

func TestCodec_Registered(t *testing.T) {
	c := encoding.GetCodec(CodecName)
	require.NotNil(t, c)
	assert.Equal(t, CodecName, c.Name())
}

func TestCodec_Wire(t *testing.T) {
	c := jsonCodec{}

	b, err := c.Marshal(&AuthResponse{User: User{ID: "1", Email: "a@x.io", Role: "USER"}, AccessToken: "a", RefreshToken: "r"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"user":{"id":"1","email":"a@x.io","role":"USER"},"accessToken":"a","refreshToken":"r"}`, string(b))

	var req RefreshRequest
	require.NoError(t, c.Unmarshal([]byte(`{"refreshToken":"abc"}`), &req))
	assert.Equal(t, "abc", req.RefreshToken)
}

func TestCodec_EmptyBody(t *testing.T) {
	var req LogoutRequest
	assert.NoError(t, jsonCodec{}.Unmarshal(nil, &req))
}

func TestCodec_Malformed(t *testing.T) {
	var req LoginRequest
	err := jsonCodec{}.Unmarshal([]byte("{"), &req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to unmarshal")
}
