package errors

import (
	"errors"
	"fmt"

	"github.com/aws/smithy-go"
)

// AWS error codes that map onto package sentinels.
const (
	codeAccessDenied          = "AccessDenied"
	codeAccessDeniedException = "AccessDeniedException"
	codeInvalidAccessKeyID    = "InvalidAccessKeyId"
	codeSignatureDoesNotMatch = "SignatureDoesNotMatch"
	codeNoSuchBucket          = "NoSuchBucket"
	codeNoSuchDistribution    = "NoSuchDistribution"
)

// ClassifyAWS attaches a package sentinel to recognised AWS API errors so
// callers can test for them with errors.Is. Unrecognised errors are returned
// unchanged.
func ClassifyAWS(err error) error {
	if err == nil {
		return nil
	}

	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return err
	}

	switch apiErr.ErrorCode() {
	case codeAccessDenied, codeAccessDeniedException, codeInvalidAccessKeyID, codeSignatureDoesNotMatch:
		return fmt.Errorf("%w: %s: %w", ErrAccessDenied, apiErr.ErrorMessage(), err)
	case codeNoSuchBucket, codeNoSuchDistribution:
		return fmt.Errorf("%w: %s: %w", ErrBucketNotFound, apiErr.ErrorMessage(), err)
	}
	return err
}
