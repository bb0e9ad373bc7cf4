package spendauth

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorIs(t *testing.T) {
	err := NewError(KindSigningRejected, ReasonUserRejected, "declined")
	wrapped := fmt.Errorf("sign: %w", err)

	assert.ErrorIs(t, wrapped, ErrSigningRejected)
	assert.NotErrorIs(t, wrapped, ErrSubmissionFailure)
	assert.ErrorIs(t, wrapped, &Error{Kind: KindSigningRejected, Code: ReasonUserRejected})
	assert.NotErrorIs(t, wrapped, &Error{Kind: KindSigningRejected, Code: ReasonRequestCanceled})

	assert.Equal(t, KindSigningRejected, KindOf(wrapped))
	assert.Equal(t, ReasonUserRejected, CodeOf(wrapped))
	assert.Empty(t, KindOf(errors.New("plain")))
	assert.Empty(t, CodeOf(nil))
}

func TestErrorMessage(t *testing.T) {
	cause := errors.New("connection reset")
	err := WrapError(KindSubmissionFailure, ReasonTransportFailure, cause)

	assert.Equal(t, "submission_failure: transport_failure: connection reset", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "invalid_permission: zero_period: period is 0", InvalidPermissionf(ReasonZeroPeriod, "period is %d", 0).Error())
}

func TestErrorJSON(t *testing.T) {
	err := Encodingf(ReasonFieldOutOfRange, "allowance exceeds uint160").WithDetail("field", "allowance")
	err.Err = errors.New("hidden")

	raw, marshalErr := json.Marshal(err)
	require.NoError(t, marshalErr)
	assert.JSONEq(t, `{"kind":"encoding_error","code":"field_out_of_range","message":"allowance exceeds uint160","details":{"field":"allowance"}}`, string(raw))

	var decoded Error
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, KindEncoding, decoded.Kind)
	assert.Equal(t, "allowance", decoded.Details["field"])
}
