package hcloud

import (
	"errors"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"
)

// isResourceLocked reports whether the error means the resource is
// temporarily held by another operation. These clear on their own and
// are worth retrying.
func isResourceLocked(err error) bool {
	return isHCloudErrorCode(err,
		hcloud.ErrorCodeLocked,
		hcloud.ErrorCodeConflict,
		hcloud.ErrorCodeResourceLocked,
		hcloud.ErrorCodeResourceUnavailable,
	)
}

// isInvalidParameter reports whether the error means the request itself
// is wrong. Retrying the same request cannot succeed.
func isInvalidParameter(err error) bool {
	return isHCloudErrorCode(err,
		hcloud.ErrorCodeNotFound,
		hcloud.ErrorCodeInvalidInput,
		hcloud.ErrorCodeInvalidServerType,
	)
}

// IsPermissionOrQuota reports whether the error means the account lacks
// rights or headroom for the request. No amount of retrying fixes
// these; the run must stop and tell the operator.
func IsPermissionOrQuota(err error) bool {
	return isHCloudErrorCode(err,
		hcloud.ErrorCodeForbidden,
		hcloud.ErrorCodeUnauthorized,
		hcloud.ErrorCodeResourceLimitExceeded,
	)
}

// isHCloudErrorCode checks the error against a set of API error codes.
func isHCloudErrorCode(err error, codes ...hcloud.ErrorCode) bool {
	if err == nil {
		return false
	}

	var hcloudErr hcloud.Error
	if errors.As(err, &hcloudErr) {
		for _, code := range codes {
			if hcloudErr.Code == code {
				return true
			}
		}
	}
	return false
}

// IsNotFound reports whether the error indicates a missing resource.
func IsNotFound(err error) bool {
	return isHCloudErrorCode(err, hcloud.ErrorCodeNotFound)
}

// IsRateLimited reports whether the error indicates API rate limiting.
func IsRateLimited(err error) bool {
	return isHCloudErrorCode(err, hcloud.ErrorCodeRateLimitExceeded)
}
