package common

// AccessTokenHeaderName is the header carrying the bearer access token.
const AccessTokenHeaderName = "Authorization"

// Name limits shared by devices, groups and versions.
const (
	MaxNameLength     = 50
	MaxUserNameLength = 64
	MaxAddressLength  = 255
)

// IntegrityErrorMessage is what callers see when a storage conflict aborts
// an upload.
const IntegrityErrorMessage = "Integrity error has been encountered. Contact the service administrator."
