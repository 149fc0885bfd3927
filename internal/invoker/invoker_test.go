package invoker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseResult(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		raw        string
		wantStatus int
		wantBody   string
		wantHeader map[string]string
	}{
		{
			name:       "status and string body",
			raw:        `{"statusCode":200,"body":"hello"}`,
			wantStatus: 200,
			wantBody:   "hello",
		},
		{
			name:       "object body is re-encoded",
			raw:        `{"statusCode":201,"body":{"a":1}}`,
			wantStatus: 201,
			wantBody:   `{"a":1}`,
		},
		{
			name:       "headers are stringified",
			raw:        `{"statusCode":200,"headers":{"X-Count":3,"X-Name":"n"}}`,
			wantStatus: 200,
			wantHeader: map[string]string{"X-Count": "3", "X-Name": "n"},
		},
		{
			name: "null body",
			raw:  `{"statusCode":204,"body":null}`,

			wantStatus: 204,
		},
		{
			name: "bare string",
			raw:  `"Unauthorized"`,
		},
		{
			name: "not json",
			raw:  `plain text`,
		},
		{
			name: "null",
			raw:  `null`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			res := ParseResult([]byte(tt.raw))
			assert.Equal(t, tt.wantStatus, res.StatusCode)
			assert.Equal(t, tt.wantBody, res.Body)
			assert.Equal(t, tt.wantHeader, res.Headers)
		})
	}
}

func TestResult_String(t *testing.T) {
	t.Parallel()

	s, ok := ParseResult([]byte(`"Unauthorized"`)).String()
	assert.True(t, ok)
	assert.Equal(t, "Unauthorized", s)

	s, ok = ParseResult([]byte(`plain text`)).String()
	assert.True(t, ok)
	assert.Equal(t, "plain text", s)

	_, ok = ParseResult([]byte(`{"statusCode":200}`)).String()
	assert.False(t, ok)
}

func TestErrors(t *testing.T) {
	t.Parallel()

	ie := &InvocationError{Function: "fn", Type: "TypeError", Message: "boom"}
	assert.Equal(t, "function fn failed: TypeError: boom", ie.Error())
	assert.True(t, IsFunctionError(ie))
	assert.ErrorIs(t, ie, &InvocationError{})

	ee := &EndpointError{Function: "fn", StatusCode: 503, Body: "down"}
	assert.Equal(t, "function fn endpoint returned 503: down", ee.Error())
	assert.False(t, IsFunctionError(ee))
}
