package errors

// ErrorCodeInfo contains metadata about an error code.
type ErrorCodeInfo struct {
	Code            ErrorCode
	Description     string
	SuggestedAction string
}

// ErrorCodeRegistry maps error codes to their metadata.
var ErrorCodeRegistry = map[ErrorCode]ErrorCodeInfo{
	ErrParseError: {
		Code:            ErrParseError,
		Description:     "Model judgment could not be parsed",
		SuggestedAction: "Inspect the raw model output for the material and re-run the audit",
	},
	ErrImageError: {
		Code:            ErrImageError,
		Description:     "Evidence image could not be retrieved or decoded",
		SuggestedAction: "Verify the evidence URLs are reachable and point to supported images",
	},
}

// GetSuggestedAction returns the suggested action for the given error code.
func GetSuggestedAction(code ErrorCode) string {
	if info, ok := ErrorCodeRegistry[code]; ok {
		return info.SuggestedAction
	}
	return "Check logs for more details"
}

// GetDescription returns the human-readable description for the given error code.
func GetDescription(code ErrorCode) string {
	if info, ok := ErrorCodeRegistry[code]; ok {
		return info.Description
	}
	return "Unknown error"
}
