package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		code     codes.Code
		category string
		message  string
	}{
		{"deadline", context.DeadlineExceeded, codes.DeadlineExceeded, "timeout", ""},
		{"wrapped cancel", fmt.Errorf("send: %w", context.Canceled), codes.Canceled, "cancelled", ""},
		{"connection", fmt.Errorf("dial: %w", ErrConnectionFailed), codes.Unavailable, "connection", "dial: connection failed"},
		{"validation", ValidationError{Field: "body", Message: "invalid JSON"}, codes.InvalidArgument, "validation", "body: invalid JSON"},
		{"unknown", errors.New("socket hang up"), codes.Internal, "internal", "socket hang up"},
		{"grpc status", status.Error(codes.NotFound, "no such user"), codes.NotFound, "request", "no such user"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			require.NotNil(t, got)
			assert.Equal(t, tt.code, got.Code)
			assert.Equal(t, tt.category, got.Category)
			if tt.message != "" {
				assert.Equal(t, tt.message, got.Message)
			}
			assert.ErrorIs(t, got, tt.err)
		})
	}
}

func TestClassify_Nil(t *testing.T) {
	assert.Nil(t, Classify(nil))
	assert.Nil(t, ClassifyGRPCError(nil))
}

func TestClassify_AlreadyClassified(t *testing.T) {
	orig := &CallError{Code: codes.Aborted, Message: "x"}
	assert.Same(t, orig, Classify(fmt.Errorf("wrap: %w", orig)))
}

func TestClassifyGRPCError_UnknownCodeFallsBack(t *testing.T) {
	got := ClassifyGRPCError(errors.New("plain"))
	assert.Equal(t, codes.Internal, got.Code)
}

func TestClassifyGRPCError_RichDetails(t *testing.T) {
	st, err := status.New(codes.Unavailable, "overloaded").WithDetails(
		&errdetails.RetryInfo{RetryDelay: durationpb.New(2 * time.Second)},
		&errdetails.BadRequest{FieldViolations: []*errdetails.BadRequest_FieldViolation{
			{Field: "name", Description: "required"},
		}},
	)
	require.NoError(t, err)

	got := ClassifyGRPCError(st.Err())
	assert.Equal(t, codes.Unavailable, got.Code)
	assert.Equal(t, "overloaded", got.Message)
	assert.Equal(t, "connection", got.Category)
	assert.Contains(t, got.Hints, "Retry after 2s")
	assert.Contains(t, got.Hints, "Check that the server is running")
	assert.Contains(t, got.Details, "Retry after: 2s")
	assert.Contains(t, got.Details, "name: required")
	assert.Len(t, codeTable[codes.Unavailable].hints, 3)
}

func TestCallError_Failure(t *testing.T) {
	callErr := &CallError{Code: codes.Internal, Message: "boom", Category: "internal", Hints: []string{"retry"}}
	f := callErr.Failure()
	assert.Equal(t, 13, f.Code)
	assert.Equal(t, "boom", f.Message)
	assert.Equal(t, []string{"retry"}, f.Hints)
	assert.Equal(t, "Internal: boom", callErr.Error())

	f.Hints[0] = "changed"
	assert.Equal(t, "retry", callErr.Hints[0])
}
